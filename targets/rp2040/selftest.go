//go:build rp2040

package main

import (
	"errors"
	"strconv"

	"lc512/core"
	"lc512/eeprom"
)

var errVerify = errors.New("read back differs")

// selfTest writes a pattern over [offset, offset+n), reads it back and
// restores the previous contents.
func selfTest(dev *eeprom.Device, offset uint16, n int) error {
	saved := make([]byte, n)
	if err := dev.ReadData(offset, saved); err != nil {
		return err
	}

	pattern := make([]byte, n)
	for i := range pattern {
		pattern[i] = ^saved[i]
	}

	core.DebugPrintln("self-test: writing " + strconv.Itoa(n) + " bytes at 0x" + strconv.FormatUint(uint64(offset), 16))
	err := dev.WriteData(offset, pattern)
	if err == nil {
		err = verify(dev, offset, pattern)
	}

	if restoreErr := dev.WriteData(offset, saved); restoreErr != nil && err == nil {
		err = restoreErr
	}
	return err
}

func verify(dev *eeprom.Device, offset uint16, want []byte) error {
	got := make([]byte, len(want))
	if err := dev.ReadData(offset, got); err != nil {
		return err
	}
	for i := range want {
		if got[i] != want[i] {
			core.DebugPrintln("self-test: mismatch at 0x" + strconv.FormatUint(uint64(offset)+uint64(i), 16))
			return errVerify
		}
	}

	// Single-byte path
	b, err := dev.ReadByte(offset)
	if err != nil {
		return err
	}
	if b != want[0] {
		return errVerify
	}
	return nil
}
