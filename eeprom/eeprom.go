// Package eeprom drives a Microchip 24LC512-style serial EEPROM over I2C.
//
// The device is addressed by a 16-bit byte offset into a 64,000 byte array.
// Writes are split so that no bus transaction crosses a 128 byte page, the
// write-protect line is released only while a write is in flight, and every
// write is followed by a settle delay while the chip commits the page.
//
// Example usage:
//
//	dev := eeprom.New(machine.I2C0, machine.GP15, core.SystemClock{})
//	err := dev.WriteData(0x0100, []byte("hello"))
//	buf := make([]byte, 5)
//	err = dev.ReadData(0x0100, buf)
//
// A Device is not safe for concurrent use; callers sharing one across
// goroutines must serialize access themselves.
package eeprom

import (
	"time"

	"tinygo.org/x/drivers"

	"lc512/core"
)

const (
	// Capacity is the size of the device address space in bytes.
	Capacity = 64000

	// PageSize is the internal write page. A single write transaction
	// never crosses a page boundary.
	PageSize = 128

	// DefaultAddress is the 7-bit bus address with A0-A2 tied low.
	DefaultAddress = 0x50

	// DefaultSettleTime is the fixed wait after each page write.
	DefaultSettleTime = 5 * time.Millisecond
)

// Pin is the write-protect output. machine.Pin satisfies it.
// Low enables writes, High protects the array.
type Pin interface {
	High()
	Low()
}

// Clock creates one-shot countdown timers.
type Clock interface {
	NewTimer(d time.Duration) core.Timer
}

// Config holds optional settings applied by Configure. Zero values keep
// the current setting. A negative PollAttempts or MaxTransfer turns the
// feature back off.
type Config struct {
	// Address overrides the 7-bit bus address.
	Address uint16

	// SettleTime is the fixed wait after each physical write.
	SettleTime time.Duration

	// PollAttempts enables acknowledge polling after the settle wait:
	// the device is polled up to this many times until it answers.
	PollAttempts int

	// MaxTransfer caps the payload of a single bus transaction for
	// transports that cannot carry a full page.
	MaxTransfer int
}

// Device is a 24LC512 on a fixed bus, with its write-protect line and
// time source. Address may be changed directly before use.
type Device struct {
	bus   drivers.I2C
	wp    Pin
	clock Clock

	Address uint16

	settleTime   time.Duration
	pollAttempts int
	maxTransfer  int

	// offset + one page
	buf [2 + PageSize]byte
}

// New creates a new EEPROM connection. The I2C bus must already be
// configured. The write-protect line is driven to its protecting level.
func New(bus drivers.I2C, wp Pin, clock Clock) Device {
	wp.High()
	return Device{
		bus:        bus,
		wp:         wp,
		clock:      clock,
		Address:    DefaultAddress,
		settleTime: DefaultSettleTime,
	}
}

// Configure applies the non-zero fields of cfg.
// Negative PollAttempts or MaxTransfer reset them to disabled.
func (d *Device) Configure(cfg Config) {
	if cfg.Address != 0 {
		d.Address = cfg.Address
	}
	if cfg.SettleTime > 0 {
		d.settleTime = cfg.SettleTime
	}
	if cfg.PollAttempts != 0 {
		d.pollAttempts = max(cfg.PollAttempts, 0)
	}
	if cfg.MaxTransfer != 0 {
		d.maxTransfer = max(cfg.MaxTransfer, 0)
	}
}

// Size returns the device capacity in bytes.
func (d *Device) Size() int64 {
	return Capacity
}

// checkRange validates [offset, offset+n) against the device before any
// bus activity.
func checkRange(offset uint16, n int) error {
	if int(offset) >= Capacity {
		return ErrOutOfRange
	}
	if int(offset)+n > Capacity {
		return ErrTooMuchData
	}
	return nil
}
