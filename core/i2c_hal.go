package core

import "errors"

// I2CBusID identifies a specific I2C bus (e.g., I2C0, I2C1).
type I2CBusID uint8

// I2CAddress is a 7-bit I2C device address.
type I2CAddress uint8

// ErrAddressMismatch is returned by an I2CBus asked to talk to an address
// that does not fit in 7 bits.
var ErrAddressMismatch = errors.New("i2c address out of 7-bit range")

// I2CDriver is the abstract I2C interface that core code uses.
type I2CDriver interface {
	// ConfigureBus initializes a specific I2C bus with the given frequency.
	// Returns error if bus ID is invalid or configuration fails.
	ConfigureBus(bus I2CBusID, frequencyHz uint32) error

	// Write transmits data to a device at the given address on the specified bus.
	Write(bus I2CBusID, addr I2CAddress, data []byte) error

	// Read writes regData (if non-empty) and then reads len(dst) bytes into
	// dst, with a repeated start in between.
	Read(bus I2CBusID, addr I2CAddress, regData []byte, dst []byte) error
}

// Global singleton used by core code.
var i2cDriver I2CDriver

// SetI2CDriver is called by target-specific code to register its driver.
func SetI2CDriver(d I2CDriver) {
	i2cDriver = d
}

// MustI2C returns the configured driver or panics if missing.
func MustI2C() I2CDriver {
	if i2cDriver == nil {
		panic("I2C driver not configured")
	}
	return i2cDriver
}

// I2CBus binds an I2CDriver to one bus so it can be handed to device
// drivers that expect a tinygo.org/x/drivers I2C (Tx-style) bus.
type I2CBus struct {
	Driver I2CDriver
	Bus    I2CBusID
}

// NewI2CBus returns a Tx-style view of bus on the registered I2C driver.
func NewI2CBus(bus I2CBusID) *I2CBus {
	return &I2CBus{Driver: MustI2C(), Bus: bus}
}

// Tx performs a write (w only), a read (r only) or a combined
// write-then-read transaction.
func (b *I2CBus) Tx(addr uint16, w, r []byte) error {
	if addr > 0x7F {
		return ErrAddressMismatch
	}
	if len(r) == 0 {
		return b.Driver.Write(b.Bus, I2CAddress(addr), w)
	}
	return b.Driver.Read(b.Bus, I2CAddress(addr), w, r)
}
