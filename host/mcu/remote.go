package mcu

import (
	"errors"
	"fmt"
	"sync"

	"lc512/core"
	"lc512/protocol"
)

// RemoteTransferMax is the largest i2c payload that fits one message block
// next to the command ID, oid and length prefix.
const RemoteTransferMax = 48

// ErrShortResponse is returned when i2c_read_response carries fewer bytes
// than requested.
var ErrShortResponse = errors.New("short i2c read response")

// RemoteI2C is an I2C bus owned by a Klipper MCU. It satisfies the
// tinygo.org/x/drivers I2C interface so device drivers can run host side.
type RemoteI2C struct {
	mcu     *MCU
	oid     uint8
	address uint16
}

// ConfigI2C configures an i2c object on the MCU bound to one device
// address. It must run between AllocateOids and FinalizeConfig.
func (m *MCU) ConfigI2C(bus, rate uint32, address uint16) (*RemoteI2C, error) {
	if address > 0x7F {
		return nil, core.ErrAddressMismatch
	}
	oid := m.allocOid()

	err := m.SendCommand("config_i2c", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(oid))
	})
	if err != nil {
		return nil, fmt.Errorf("config_i2c: %w", err)
	}

	err = m.SendCommand("i2c_set_bus", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(oid))
		protocol.EncodeVLQUint(output, bus)
		protocol.EncodeVLQUint(output, rate)
		protocol.EncodeVLQUint(output, uint32(address))
	})
	if err != nil {
		return nil, fmt.Errorf("i2c_set_bus: %w", err)
	}

	return &RemoteI2C{mcu: m, oid: oid, address: address}, nil
}

// MaxTransfer reports the payload limit of a single transaction.
func (b *RemoteI2C) MaxTransfer() int {
	return RemoteTransferMax
}

// Tx runs a write, a read, or a register read on the configured device.
// The address is fixed when the bus object is configured.
func (b *RemoteI2C) Tx(addr uint16, w, r []byte) error {
	if addr != b.address {
		return fmt.Errorf("%w: oid %d is bound to 0x%02x, not 0x%02x",
			core.ErrAddressMismatch, b.oid, b.address, addr)
	}
	if len(r) == 0 {
		return b.mcu.SendCommand("i2c_write", func(output protocol.OutputBuffer) {
			protocol.EncodeVLQUint(output, uint32(b.oid))
			protocol.EncodeVLQBytes(output, w)
		})
	}

	args, err := b.mcu.Query("i2c_read", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(b.oid))
		protocol.EncodeVLQBytes(output, w)
		protocol.EncodeVLQUint(output, uint32(len(r)))
	}, "i2c_read_response")
	if err != nil {
		return err
	}

	oid, err := protocol.DecodeVLQUint(&args)
	if err != nil {
		return err
	}
	if uint8(oid) != b.oid {
		return fmt.Errorf("i2c_read_response for oid %d, want %d", oid, b.oid)
	}
	data, err := protocol.DecodeVLQBytes(&args)
	if err != nil {
		return err
	}
	if len(data) < len(r) {
		return fmt.Errorf("%w: %d of %d bytes", ErrShortResponse, len(data), len(r))
	}
	copy(r, data)
	return nil
}

// RemotePin is a digital output owned by a Klipper MCU.
type RemotePin struct {
	mcu *MCU
	oid uint8
	pin uint32

	mu      sync.Mutex
	lastErr error
}

// ConfigDigitalOut configures pin as an output starting at value. It must
// run between AllocateOids and FinalizeConfig.
func (m *MCU) ConfigDigitalOut(pin uint32, value bool) (*RemotePin, error) {
	oid := m.allocOid()
	err := m.SendCommand("config_digital_out", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(oid))
		protocol.EncodeVLQUint(output, pin)
		protocol.EncodeVLQUint(output, boolArg(value))
		protocol.EncodeVLQUint(output, boolArg(value)) // default_value
		protocol.EncodeVLQUint(output, 0)              // max_duration
	})
	if err != nil {
		return nil, fmt.Errorf("config_digital_out: %w", err)
	}
	return &RemotePin{mcu: m, oid: oid, pin: pin}, nil
}

// High drives the pin high.
func (p *RemotePin) High() { p.set(true) }

// Low drives the pin low.
func (p *RemotePin) Low() { p.set(false) }

// Err returns the most recent update failure, if any, and clears it.
func (p *RemotePin) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	err := p.lastErr
	p.lastErr = nil
	return err
}

func (p *RemotePin) set(value bool) {
	err := p.mcu.SendCommand("update_digital_out", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(p.oid))
		protocol.EncodeVLQUint(output, boolArg(value))
	})
	if err != nil {
		core.DebugPrintln("mcu: update_digital_out pin " + fmt.Sprint(p.pin) + ": " + err.Error())
		p.mu.Lock()
		p.lastErr = err
		p.mu.Unlock()
	}
}

func boolArg(v bool) uint32 {
	if v {
		return 1
	}
	return 0
}
