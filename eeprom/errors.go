package eeprom

import (
	"errors"
	"strconv"
)

var (
	// ErrOutOfRange is returned when the starting offset lies outside the
	// device.
	ErrOutOfRange = errors.New("eeprom: offset out of range")

	// ErrTooMuchData is returned when the requested range runs past the
	// end of the device.
	ErrTooMuchData = errors.New("eeprom: data exceeds device capacity")

	// ErrDeviceBusy is wrapped in a BusError when acknowledge polling is
	// enabled and the device never answered after a write.
	ErrDeviceBusy = errors.New("eeprom: device busy after write cycle")
)

// BusError is a failed bus transaction. Bytes written by earlier
// transactions of the same operation stay written.
type BusError struct {
	Op     string // "write", "read" or "poll"
	Offset uint16 // first byte of the failed transaction
	Err    error
}

func (e *BusError) Error() string {
	return "eeprom: " + e.Op + " at 0x" + strconv.FormatUint(uint64(e.Offset), 16) + ": " + e.Err.Error()
}

func (e *BusError) Unwrap() error {
	return e.Err
}
