// Package klippertest provides an in-memory Klipper microcontroller for
// exercising host-side code without hardware.
package klippertest

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"sync"

	"lc512/protocol"
)

// Handler runs one command. It consumes its arguments from args and
// returns zero or more response payloads, each starting with the VLQ
// response ID.
type Handler func(args *[]byte) [][]byte

// MCU answers Klipper message blocks on one end of a net.Pipe.
type MCU struct {
	conn net.Conn

	mu       sync.Mutex
	handlers map[uint16]Handler
	ids      map[string]uint16
	commands map[string]int
	respIDs  map[string]int
	dict     []byte

	received   []string
	silentAcks int
}

// New returns an MCU serving the bootstrap identify command. The host end
// of the pipe is returned for the transport under test.
func New() (*MCU, net.Conn) {
	host, dev := net.Pipe()
	m := &MCU{
		conn:     dev,
		handlers: make(map[uint16]Handler),
		ids:      make(map[string]uint16),
		commands: make(map[string]int),
		respIDs:  make(map[string]int),
	}
	m.Response("identify_response", "offset=%u data=%*s")
	m.Command("identify", "offset=%u count=%c", m.handleIdentify)
	return m, host
}

// Command registers a host->MCU command with the next free ID.
func (m *MCU) Command(name, format string, h Handler) uint16 {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID()
	m.ids[name] = id
	m.commands[join(name, format)] = int(id)
	m.handlers[id] = h
	m.dict = nil
	return id
}

// Response registers an MCU->host message with the next free ID.
func (m *MCU) Response(name, format string) uint16 {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID()
	m.ids[name] = id
	m.respIDs[join(name, format)] = int(id)
	m.dict = nil
	return id
}

// ID returns the ID assigned to a command or response name.
func (m *MCU) ID(name string) uint16 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ids[name]
}

// DropAcks makes the MCU stay silent for the next n blocks.
func (m *MCU) DropAcks(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.silentAcks = n
}

// Received returns a copy of the command names received so far.
func (m *MCU) Received() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.received...)
}

func (m *MCU) nextID() uint16 {
	return uint16(len(m.commands) + len(m.respIDs))
}

func join(name, format string) string {
	if format == "" {
		return name
	}
	return name + " " + format
}

// Dictionary returns the JSON data dictionary served through identify.
func (m *MCU) Dictionary() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dictionary()
}

func (m *MCU) dictionary() []byte {
	if m.dict == nil {
		m.dict, _ = json.Marshal(map[string]interface{}{
			"version":        "klippertest",
			"build_versions": "go",
			"config":         map[string]string{"MCU": "emulated", "CLOCK_FREQ": "1000000"},
			"commands":       m.commands,
			"responses":      m.respIDs,
		})
	}
	return m.dict
}

func (m *MCU) handleIdentify(args *[]byte) [][]byte {
	offset, _ := protocol.DecodeVLQUint(args)
	count, _ := protocol.DecodeVLQUint(args)

	m.mu.Lock()
	dict := m.dictionary()
	m.mu.Unlock()

	var chunk []byte
	if int(offset) < len(dict) {
		end := int(offset) + int(count)
		if end > len(dict) {
			end = len(dict)
		}
		chunk = dict[offset:end]
	}

	out := protocol.NewScratchOutput()
	protocol.EncodeVLQUint(out, uint32(m.ID("identify_response")))
	protocol.EncodeVLQUint(out, offset)
	protocol.EncodeVLQBytes(out, chunk)
	return [][]byte{append([]byte(nil), out.Result()...)}
}

// Serve answers blocks until the pipe closes. Run it in a goroutine.
func (m *MCU) Serve() error {
	var pending []byte
	buf := make([]byte, 256)
	for {
		n, err := m.conn.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			pending, err = m.process(pending)
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				return nil
			}
			return err
		}
	}
}

func (m *MCU) process(data []byte) ([]byte, error) {
	for len(data) > 0 {
		msg, used, err := protocol.ParseFrame(data)
		if errors.Is(err, protocol.ErrNeedMore) {
			return data[used:], nil
		}
		if err != nil {
			data = data[used:]
			data = data[protocol.Resync(data):]
			continue
		}
		data = data[used:]

		responses := m.dispatch(msg.Payload)

		m.mu.Lock()
		silent := m.silentAcks > 0
		if silent {
			m.silentAcks--
		}
		m.mu.Unlock()
		if silent {
			continue
		}

		seq := protocol.NextSequence(msg.Sequence)
		ack, _ := protocol.EncodeFrame(seq, nil)
		if _, err := m.conn.Write(ack); err != nil {
			return nil, err
		}
		for _, resp := range responses {
			frame, err := protocol.EncodeFrame(seq, resp)
			if err != nil {
				return nil, err
			}
			if _, err := m.conn.Write(frame); err != nil {
				return nil, err
			}
		}
	}
	return data, nil
}

func (m *MCU) dispatch(payload []byte) [][]byte {
	var responses [][]byte
	for len(payload) > 0 {
		id, err := protocol.DecodeVLQUint(&payload)
		if err != nil {
			return responses
		}

		m.mu.Lock()
		h := m.handlers[uint16(id)]
		for name, nid := range m.ids {
			if nid == uint16(id) {
				m.received = append(m.received, name)
			}
		}
		m.mu.Unlock()

		if h == nil {
			return responses
		}
		responses = append(responses, h(&payload)...)
	}
	return responses
}

// Close shuts the MCU end of the pipe.
func (m *MCU) Close() error {
	return m.conn.Close()
}
