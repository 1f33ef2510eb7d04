package mcu

import (
	"bytes"
	"compress/zlib"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"lc512/core"
	"lc512/host/serial"
	"lc512/protocol"
)

// Bootstrap IDs every Klipper MCU uses before the dictionary is known
const (
	identifyResponseID = 0
	identifyID         = 1

	identifyChunk = 40
)

// ErrNotConnected is returned by calls made before Connect or Attach
var ErrNotConnected = errors.New("not connected to MCU")

// MCU represents a connection to a Klipper microcontroller
type MCU struct {
	// Transport layer
	transport *protocol.HostTransport

	// Dictionary data
	dictionary     *Dictionary
	dictionaryData []byte
	ids            map[string]uint16

	// ResponseTimeout bounds waits for MCU responses
	ResponseTimeout time.Duration

	nextOid uint8
}

// Dictionary represents the parsed MCU dictionary
type Dictionary struct {
	Version       string                    `json:"version"`
	BuildVersions string                    `json:"build_versions"`
	Config        map[string]string         `json:"config"`
	Commands      map[string]int            `json:"commands"`
	Responses     map[string]int            `json:"responses"`
	Enumerations  map[string]map[string]int `json:"enumerations,omitempty"`
}

// NewMCU creates a new MCU instance (not yet connected)
func NewMCU() *MCU {
	return &MCU{
		ResponseTimeout: time.Second,
	}
}

// Connect connects to an MCU via serial port
func (m *MCU) Connect(device string) error {
	return m.ConnectWithConfig(serial.DefaultConfig(device))
}

// ConnectWithConfig connects to an MCU with a custom serial config
func (m *MCU) ConnectWithConfig(cfg *serial.Config) error {
	port, err := serial.Open(cfg)
	if err != nil {
		return fmt.Errorf("failed to open serial port: %w", err)
	}
	_ = port.Flush()

	m.Attach(port)

	// Give MCU time to initialize (if it just powered on)
	time.Sleep(100 * time.Millisecond)

	return nil
}

// Attach runs the protocol over an already open port
func (m *MCU) Attach(port io.ReadWriteCloser) {
	m.transport = protocol.NewHostTransport(port)
}

// Close closes the connection to the MCU
func (m *MCU) Close() error {
	if m.transport == nil {
		return nil
	}
	err := m.transport.Close()
	m.transport = nil
	return err
}

// IsConnected returns whether the MCU is connected
func (m *MCU) IsConnected() bool {
	return m.transport != nil
}

// RetrieveDictionary retrieves the complete dictionary from the MCU
func (m *MCU) RetrieveDictionary() error {
	if m.transport == nil {
		return ErrNotConnected
	}

	core.DebugPrintln("mcu: retrieving dictionary")

	var dictBuffer bytes.Buffer
	offset := uint32(0)
	maxIterations := 1000 // Safety limit

	for i := 0; i < maxIterations; i++ {
		chunk, err := m.sendIdentify(offset, identifyChunk)
		if err != nil {
			return fmt.Errorf("failed to retrieve dictionary chunk at offset %d: %w", offset, err)
		}

		dictBuffer.Write(chunk)
		offset += uint32(len(chunk))

		if len(chunk) < identifyChunk {
			break
		}
	}

	m.dictionaryData = dictBuffer.Bytes()
	core.DebugPrintln("mcu: dictionary " + strconv.Itoa(len(m.dictionaryData)) + " bytes")

	data, err := decompress(m.dictionaryData)
	if err != nil {
		return fmt.Errorf("failed to decompress dictionary: %w", err)
	}
	m.dictionaryData = data

	if err := m.parseDictionary(); err != nil {
		return fmt.Errorf("failed to parse dictionary: %w", err)
	}

	return nil
}

// sendIdentify requests one dictionary chunk
func (m *MCU) sendIdentify(offset uint32, count uint8) ([]byte, error) {
	m.transport.Drain()

	err := m.transport.SendCommand(identifyID, func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, offset)
		protocol.EncodeVLQUint(output, uint32(count))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to send identify command: %w", err)
	}

	args, err := m.transport.ReceiveCommand(identifyResponseID, m.ResponseTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to receive identify response: %w", err)
	}

	respOffset, err := protocol.DecodeVLQUint(&args)
	if err != nil {
		return nil, fmt.Errorf("failed to decode response offset: %w", err)
	}
	if respOffset != offset {
		return nil, fmt.Errorf("offset mismatch: expected %d, got %d", offset, respOffset)
	}

	data, err := protocol.DecodeVLQBytes(&args)
	if err != nil {
		return nil, fmt.Errorf("failed to decode response data: %w", err)
	}

	return data, nil
}

// decompress inflates a zlib-compressed dictionary; plain JSON is returned as is
func decompress(data []byte) ([]byte, error) {
	if len(data) < 2 || data[0] != 0x78 {
		return data, nil
	}
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// parseDictionary parses the dictionary JSON and indexes message names
func (m *MCU) parseDictionary() error {
	dict := &Dictionary{}
	if err := json.Unmarshal(m.dictionaryData, dict); err != nil {
		return fmt.Errorf("failed to unmarshal JSON: %w", err)
	}

	m.ids = make(map[string]uint16, len(dict.Commands)+len(dict.Responses))
	for _, group := range []map[string]int{dict.Commands, dict.Responses} {
		for format, id := range group {
			m.ids[messageName(format)] = uint16(id)
		}
	}

	m.dictionary = dict
	return nil
}

// messageName strips the argument format from a dictionary key
func messageName(format string) string {
	if i := strings.IndexByte(format, ' '); i >= 0 {
		return format[:i]
	}
	return format
}

// GetDictionary returns the parsed dictionary
func (m *MCU) GetDictionary() *Dictionary {
	return m.dictionary
}

// LookupID returns the ID of a command or response by name
func (m *MCU) LookupID(name string) (uint16, error) {
	if m.dictionary == nil {
		return 0, fmt.Errorf("dictionary not loaded")
	}
	id, ok := m.ids[name]
	if !ok {
		return 0, fmt.Errorf("unknown command: %s", name)
	}
	return id, nil
}

// SendCommand sends a command by name and waits for its ACK
func (m *MCU) SendCommand(name string, args func(output protocol.OutputBuffer)) error {
	if m.transport == nil {
		return ErrNotConnected
	}
	cmdID, err := m.LookupID(name)
	if err != nil {
		return err
	}
	return m.transport.SendCommand(cmdID, args)
}

// Query sends a command and returns the arguments of the named response
func (m *MCU) Query(name string, args func(output protocol.OutputBuffer), response string) ([]byte, error) {
	if m.transport == nil {
		return nil, ErrNotConnected
	}
	respID, err := m.LookupID(response)
	if err != nil {
		return nil, err
	}
	m.transport.Drain()
	if err := m.SendCommand(name, args); err != nil {
		return nil, err
	}
	return m.transport.ReceiveCommand(respID, m.ResponseTimeout)
}

// AllocateOids announces how many objects the host will configure
func (m *MCU) AllocateOids(count uint8) error {
	return m.SendCommand("allocate_oids", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(count))
	})
}

// FinalizeConfig closes the configuration phase
func (m *MCU) FinalizeConfig(crc uint32) error {
	return m.SendCommand("finalize_config", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, crc)
	})
}

// allocOid hands out object IDs in configuration order
func (m *MCU) allocOid() uint8 {
	oid := m.nextOid
	m.nextOid++
	return oid
}

// PrintDictionary writes a summary of the dictionary
func (m *MCU) PrintDictionary(w io.Writer) {
	if m.dictionary == nil {
		fmt.Fprintln(w, "No dictionary loaded")
		return
	}

	fmt.Fprintln(w, "=== MCU Dictionary ===")
	fmt.Fprintf(w, "Version: %s\n", m.dictionary.Version)
	fmt.Fprintf(w, "Build: %s\n", m.dictionary.BuildVersions)

	fmt.Fprintln(w, "Config:")
	for _, k := range sortedKeys(m.dictionary.Config) {
		fmt.Fprintf(w, "  %s = %s\n", k, m.dictionary.Config[k])
	}

	fmt.Fprintf(w, "Commands: %d\n", len(m.dictionary.Commands))
	fmt.Fprintf(w, "Responses: %d\n", len(m.dictionary.Responses))
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
