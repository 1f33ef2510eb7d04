package eeprom

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"time"

	"github.com/jpillora/backoff"

	"lc512/core"
)

// WriteByte writes value at offset in a single transaction.
func (d *Device) WriteByte(offset uint16, value byte) error {
	if err := checkRange(offset, 1); err != nil {
		return err
	}
	return d.writeChunk(offset, []byte{value})
}

// WriteData writes data starting at offset. The data is split at page
// boundaries and each piece is committed before the next is sent. On a
// bus error the pieces already written are left in place; the returned
// BusError names the offset of the piece that failed.
func (d *Device) WriteData(offset uint16, data []byte) error {
	if err := checkRange(offset, len(data)); err != nil {
		return err
	}

	addr := int(offset)
	for len(data) > 0 {
		n := d.chunkLen(addr, len(data))
		if err := d.writeChunk(uint16(addr), data[:n]); err != nil {
			return err
		}
		addr += n
		data = data[n:]
	}
	return nil
}

// chunkLen is the number of bytes that may be written at addr without
// crossing a page or exceeding the transport limit.
func (d *Device) chunkLen(addr, remaining int) int {
	n := PageSize - addr%PageSize
	if d.maxTransfer > 0 && n > d.maxTransfer {
		n = d.maxTransfer
	}
	if remaining < n {
		n = remaining
	}
	return n
}

// writeChunk sends [offset hi, offset lo, chunk...] as one transaction and
// waits out the write cycle, all with writes enabled.
func (d *Device) writeChunk(offset uint16, chunk []byte) error {
	buf := d.buf[:2+len(chunk)]
	binary.BigEndian.PutUint16(buf, offset)
	copy(buf[2:], chunk)

	if core.IsDebugEnabled() {
		core.DebugPrintln("eeprom: write 0x" + strconv.FormatUint(uint64(offset), 16) +
			" len=" + strconv.Itoa(len(chunk)))
	}

	return d.withWritesEnabled(func() error {
		if err := d.bus.Tx(d.Address, buf, nil); err != nil {
			return &BusError{Op: "write", Offset: offset, Err: err}
		}
		return d.waitWriteCycle(offset)
	})
}

// withWritesEnabled releases write protection for the duration of fn.
// Protection is restored on every return path, panics included.
func (d *Device) withWritesEnabled(fn func() error) error {
	d.wp.Low()
	defer d.wp.High()
	return fn()
}

// waitWriteCycle blocks for the settle time. With PollAttempts set it then
// polls the device with an address-only write until it acknowledges.
func (d *Device) waitWriteCycle(offset uint16) error {
	d.sleep(d.settleTime)
	if d.pollAttempts <= 0 {
		return nil
	}

	b := &backoff.Backoff{
		Min:    time.Millisecond,
		Max:    d.settleTime,
		Factor: 2,
	}
	if b.Max < b.Min {
		b.Max = b.Min
	}

	var ping [2]byte
	binary.BigEndian.PutUint16(ping[:], offset)

	var err error
	for i := 0; i < d.pollAttempts; i++ {
		if err = d.bus.Tx(d.Address, ping[:], nil); err == nil {
			return nil
		}
		d.sleep(b.Duration())
	}
	return &BusError{Op: "poll", Offset: offset, Err: fmt.Errorf("%w: %v", ErrDeviceBusy, err)}
}

func (d *Device) sleep(dur time.Duration) {
	t := d.clock.NewTimer(dur)
	t.Start()
	t.Wait()
}
