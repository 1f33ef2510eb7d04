// Package linux runs the EEPROM driver from a Linux host: the bus is an
// i2c-dev character device and the write-protect line a sysfs GPIO.
package linux

import (
	"fmt"
	"sync"

	"golang.org/x/exp/io/i2c"
	"golang.org/x/exp/io/i2c/driver"

	"lc512/core"
)

// Bus is an i2c-dev adapter with the Tx shape of tinygo.org/x/drivers.
// One kernel connection is opened per device address and kept until Close.
type Bus struct {
	Opener driver.Opener

	mu    sync.Mutex
	conns map[uint16]driver.Conn
}

// OpenBus returns a bus on the given device node, e.g. /dev/i2c-1.
func OpenBus(dev string) *Bus {
	return NewBus(&i2c.Devfs{Dev: dev})
}

// NewBus returns a bus backed by any x/exp i2c driver.
func NewBus(o driver.Opener) *Bus {
	return &Bus{
		Opener: o,
		conns:  make(map[uint16]driver.Conn),
	}
}

// Tx writes w and then reads len(r) bytes from the device at addr.
func (b *Bus) Tx(addr uint16, w, r []byte) error {
	conn, err := b.conn(addr)
	if err != nil {
		return err
	}
	if len(w) == 0 {
		w = nil
	}
	if len(r) == 0 {
		r = nil
	}
	return conn.Tx(w, r)
}

func (b *Bus) conn(addr uint16) (driver.Conn, error) {
	if addr > 0x7F {
		return nil, core.ErrAddressMismatch
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.conns[addr]; ok {
		return c, nil
	}
	c, err := b.Opener.Open(int(addr), false)
	if err != nil {
		return nil, fmt.Errorf("open i2c address 0x%02x: %w", addr, err)
	}
	b.conns[addr] = c
	return c, nil
}

// Close releases every open device connection.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var first error
	for addr, c := range b.conns {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
		delete(b.conns, addr)
	}
	return first
}
