//go:build rp2040

package main

import (
	"errors"
	"machine"
	"sync"

	"lc512/core"
)

var errBusNotConfigured = errors.New("I2C bus not configured")

// RPI2CDriver implements core.I2CDriver using TinyGo's machine.I2C.
type RPI2CDriver struct {
	mu sync.Mutex

	// RP2040 has I2C0 and I2C1
	buses map[core.I2CBusID]*machine.I2C
}

// NewRPI2CDriver constructs the driver
func NewRPI2CDriver() *RPI2CDriver {
	return &RPI2CDriver{
		buses: make(map[core.I2CBusID]*machine.I2C),
	}
}

// ConfigureBus initializes a specific I2C bus with the given frequency.
func (d *RPI2CDriver) ConfigureBus(bus core.I2CBusID, frequencyHz uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if i2c, ok := d.buses[bus]; ok {
		return i2c.SetBaudRate(frequencyHz)
	}

	var i2c *machine.I2C
	switch bus {
	case 0:
		// SDA=GP4, SCL=GP5
		i2c = machine.I2C0
	case 1:
		// SDA=GP6, SCL=GP7
		i2c = machine.I2C1
	default:
		return errors.New("unsupported I2C bus ID")
	}

	if err := i2c.Configure(machine.I2CConfig{Frequency: frequencyHz}); err != nil {
		return err
	}
	d.buses[bus] = i2c
	return nil
}

// Write transmits data to a device at the given address on the specified bus.
func (d *RPI2CDriver) Write(bus core.I2CBusID, addr core.I2CAddress, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	i2c, ok := d.buses[bus]
	if !ok {
		return errBusNotConfigured
	}
	return i2c.Tx(uint16(addr), data, nil)
}

// Read fills dst from a device. A non-empty regData is written first with
// a repeated start before the read.
func (d *RPI2CDriver) Read(bus core.I2CBusID, addr core.I2CAddress, regData []byte, dst []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	i2c, ok := d.buses[bus]
	if !ok {
		return errBusNotConfigured
	}
	if len(regData) == 0 {
		regData = nil
	}
	return i2c.Tx(uint16(addr), regData, dst)
}
