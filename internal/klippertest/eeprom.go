package klippertest

import (
	"encoding/binary"
	"sync"

	"lc512/protocol"
)

const chipPage = 128

// Chip is a 24LC512 wired to the emulated MCU: reachable through the
// Klipper i2c commands, with its WP pin on a digital_out.
type Chip struct {
	mu  sync.Mutex
	mcu *MCU

	Address uint16 // 7-bit bus address the chip answers on
	WPPin   uint32 // MCU pin number wired to WP

	mem     [1 << 16]byte
	pointer int

	i2cOids map[uint8]uint16 // oid -> configured address
	pinOids map[uint8]uint32 // oid -> pin
	levels  map[uint32]bool

	writes    []int
	protected int
}

// AttachChip registers the i2c, digital_out and config commands a stock
// Klipper MCU exposes and wires a chip to them.
func AttachChip(m *MCU, address uint16, wpPin uint32) *Chip {
	c := &Chip{
		mcu:     m,
		Address: address,
		WPPin:   wpPin,
		i2cOids: make(map[uint8]uint16),
		pinOids: make(map[uint8]uint32),
		levels:  map[uint32]bool{wpPin: true},
	}

	m.Command("allocate_oids", "count=%c", func(args *[]byte) [][]byte {
		_, _ = protocol.DecodeVLQUint(args)
		return nil
	})
	m.Command("finalize_config", "crc=%u", func(args *[]byte) [][]byte {
		_, _ = protocol.DecodeVLQUint(args)
		return nil
	})
	m.Command("config_i2c", "oid=%c", c.handleConfigI2C)
	m.Command("i2c_set_bus", "oid=%c i2c_bus=%u rate=%u address=%u", c.handleSetBus)
	m.Command("i2c_write", "oid=%c data=%*s", c.handleWrite)
	m.Command("i2c_read", "oid=%c reg=%*s read_len=%u", c.handleRead)
	m.Response("i2c_read_response", "oid=%c response=%*s")
	m.Command("config_digital_out", "oid=%c pin=%u value=%c default_value=%c max_duration=%u", c.handleConfigDigitalOut)
	m.Command("update_digital_out", "oid=%c value=%c", c.handleUpdateDigitalOut)
	return c
}

// Memory returns a copy of n bytes at offset.
func (c *Chip) Memory(offset, n int) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.mem[offset:offset+n]...)
}

// Writes returns the payload size of every page write the chip accepted.
func (c *Chip) Writes() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int(nil), c.writes...)
}

// ProtectedWrites counts data writes refused because WP was high.
func (c *Chip) ProtectedWrites() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.protected
}

// WPLevel reports the current level of the WP pin.
func (c *Chip) WPLevel() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.levels[c.WPPin]
}

func (c *Chip) handleConfigI2C(args *[]byte) [][]byte {
	oid, _ := protocol.DecodeVLQUint(args)
	c.mu.Lock()
	c.i2cOids[uint8(oid)] = 0
	c.mu.Unlock()
	return nil
}

func (c *Chip) handleSetBus(args *[]byte) [][]byte {
	oid, _ := protocol.DecodeVLQUint(args)
	_, _ = protocol.DecodeVLQUint(args) // bus
	_, _ = protocol.DecodeVLQUint(args) // rate
	addr, _ := protocol.DecodeVLQUint(args)
	c.mu.Lock()
	c.i2cOids[uint8(oid)] = uint16(addr & 0x7F)
	c.mu.Unlock()
	return nil
}

func (c *Chip) handleWrite(args *[]byte) [][]byte {
	oid, _ := protocol.DecodeVLQUint(args)
	data, _ := protocol.DecodeVLQBytes(args)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.i2cOids[uint8(oid)] != c.Address || len(data) < 2 {
		return nil
	}
	c.pointer = int(binary.BigEndian.Uint16(data))
	payload := data[2:]
	if len(payload) == 0 {
		return nil
	}
	if c.levels[c.WPPin] {
		c.protected++
		return nil
	}

	page := c.pointer &^ (chipPage - 1)
	for i, v := range payload {
		c.mem[page|((c.pointer+i)&(chipPage-1))] = v
	}
	c.writes = append(c.writes, len(payload))
	return nil
}

func (c *Chip) handleRead(args *[]byte) [][]byte {
	oid, _ := protocol.DecodeVLQUint(args)
	reg, _ := protocol.DecodeVLQBytes(args)
	readLen, _ := protocol.DecodeVLQUint(args)

	c.mu.Lock()
	if len(reg) >= 2 {
		c.pointer = int(binary.BigEndian.Uint16(reg))
	}
	resp := make([]byte, readLen)
	for i := range resp {
		resp[i] = c.mem[(c.pointer+i)&0xFFFF]
	}
	c.pointer += int(readLen)
	c.mu.Unlock()

	out := protocol.NewScratchOutput()
	protocol.EncodeVLQUint(out, uint32(c.mcu.ID("i2c_read_response")))
	protocol.EncodeVLQUint(out, oid)
	protocol.EncodeVLQBytes(out, resp)
	return [][]byte{append([]byte(nil), out.Result()...)}
}

func (c *Chip) handleConfigDigitalOut(args *[]byte) [][]byte {
	oid, _ := protocol.DecodeVLQUint(args)
	pin, _ := protocol.DecodeVLQUint(args)
	value, _ := protocol.DecodeVLQUint(args)
	_, _ = protocol.DecodeVLQUint(args) // default_value
	_, _ = protocol.DecodeVLQUint(args) // max_duration

	c.mu.Lock()
	c.pinOids[uint8(oid)] = pin
	c.levels[pin] = value != 0
	c.mu.Unlock()
	return nil
}

func (c *Chip) handleUpdateDigitalOut(args *[]byte) [][]byte {
	oid, _ := protocol.DecodeVLQUint(args)
	value, _ := protocol.DecodeVLQUint(args)

	c.mu.Lock()
	if pin, ok := c.pinOids[uint8(oid)]; ok {
		c.levels[pin] = value != 0
	}
	c.mu.Unlock()
	return nil
}
