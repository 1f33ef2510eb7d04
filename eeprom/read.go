package eeprom

import (
	"encoding/binary"
	"errors"
	"io"
)

// ReadByte returns the byte at offset.
func (d *Device) ReadByte(offset uint16) (byte, error) {
	if err := checkRange(offset, 1); err != nil {
		return 0, err
	}
	var b [1]byte
	if err := d.read(offset, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadData fills buf from offset. Reads are not subject to the page rule
// and go out as one transaction unless MaxTransfer is configured.
func (d *Device) ReadData(offset uint16, buf []byte) error {
	if err := checkRange(offset, len(buf)); err != nil {
		return err
	}
	if d.maxTransfer <= 0 || len(buf) <= d.maxTransfer {
		return d.read(offset, buf)
	}

	addr := int(offset)
	for len(buf) > 0 {
		n := d.maxTransfer
		if len(buf) < n {
			n = len(buf)
		}
		if err := d.read(uint16(addr), buf[:n]); err != nil {
			return err
		}
		addr += n
		buf = buf[n:]
	}
	return nil
}

// read sends the offset and reads len(dst) bytes back with a repeated start.
func (d *Device) read(offset uint16, dst []byte) error {
	var addr [2]byte
	binary.BigEndian.PutUint16(addr[:], offset)
	if err := d.bus.Tx(d.Address, addr[:], dst); err != nil {
		return &BusError{Op: "read", Offset: offset, Err: err}
	}
	return nil
}

// ReadAt implements io.ReaderAt. Reads running past the end of the device
// are shortened and return io.EOF.
func (d *Device) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, ErrOutOfRange
	}
	if off >= Capacity {
		return 0, io.EOF
	}
	n := len(p)
	if rest := int(Capacity - off); n > rest {
		n = rest
	}
	if err := d.ReadData(uint16(off), p[:n]); err != nil {
		return 0, err
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt implements io.WriterAt. The whole range is validated first, so
// an oversized write stores nothing. After a bus error n counts the bytes
// the device accepted: the chunks before a failed write, plus the chunk
// whose write cycle never completed when polling gives up.
func (d *Device) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= Capacity {
		return 0, ErrOutOfRange
	}
	if err := d.WriteData(uint16(off), p); err != nil {
		var be *BusError
		if errors.As(err, &be) {
			n := int(be.Offset) - int(off)
			if be.Op == "poll" {
				n += d.chunkLen(int(be.Offset), len(p)-n)
			}
			return n, err
		}
		return 0, err
	}
	return len(p), nil
}
