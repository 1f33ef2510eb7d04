package eeprom

import (
	"encoding/binary"
	"errors"
	"time"

	"lc512/core"
)

var errNAK = errors.New("i2c: no acknowledge")

// recorder collects pin, bus and clock activity in call order.
type recorder struct {
	events []string
}

func (r *recorder) add(ev string) {
	r.events = append(r.events, ev)
}

func (r *recorder) reset() {
	r.events = nil
}

type txn struct {
	addr uint16
	w    []byte
	rlen int
}

// offset returns the big-endian offset carried in the first two bytes.
func (t txn) offset() int {
	return int(binary.BigEndian.Uint16(t.w))
}

// payload returns the data bytes of a write transaction.
func (t txn) payload() []byte {
	return t.w[2:]
}

// mockBus emulates a 24LC512 on the bus, including the page wrap a real
// chip performs when a write runs past the end of a page.
type mockBus struct {
	rec *recorder
	mem [1 << 16]byte

	writes []txn
	reads  []txn
	polls  int

	calls      int
	failOn     int // fail the Nth transaction, 0 = never
	busyPolls  int // NAK this many address-only polls
	panicOn    int
}

func (b *mockBus) Tx(addr uint16, w, r []byte) error {
	b.calls++
	b.rec.add("tx")
	if b.panicOn == b.calls {
		panic("bus fault")
	}
	if b.failOn == b.calls {
		return errNAK
	}

	t := txn{addr: addr, w: append([]byte(nil), w...), rlen: len(r)}
	switch {
	case r != nil:
		b.reads = append(b.reads, t)
		copy(r, b.mem[t.offset():])
	case len(w) == 2:
		b.polls++
		if b.busyPolls > 0 {
			b.busyPolls--
			return errNAK
		}
	default:
		b.writes = append(b.writes, t)
		start := t.offset()
		page := start &^ (PageSize - 1)
		for i, v := range t.payload() {
			b.mem[page|((start+i)&(PageSize-1))] = v
		}
	}
	return nil
}

func (b *mockBus) writeSizes() []int {
	var sizes []int
	for _, t := range b.writes {
		sizes = append(sizes, len(t.payload()))
	}
	return sizes
}

type mockPin struct {
	rec  *recorder
	high bool
}

func (p *mockPin) High() {
	p.high = true
	p.rec.add("wp-high")
}

func (p *mockPin) Low() {
	p.high = false
	p.rec.add("wp-low")
}

type fakeClock struct {
	rec   *recorder
	waits []time.Duration
}

type fakeTimer struct {
	c       *fakeClock
	d       time.Duration
	started bool
}

func (c *fakeClock) NewTimer(d time.Duration) core.Timer {
	return &fakeTimer{c: c, d: d}
}

func (t *fakeTimer) Start() {
	t.started = true
}

func (t *fakeTimer) Wait() {
	if !t.started {
		panic("wait on a timer that was never started")
	}
	t.c.waits = append(t.c.waits, t.d)
	t.c.rec.add("wait")
}

type fixture struct {
	rec   *recorder
	bus   *mockBus
	pin   *mockPin
	clock *fakeClock
	dev   Device
}

func newFixture() *fixture {
	rec := &recorder{}
	f := &fixture{
		rec:   rec,
		bus:   &mockBus{rec: rec},
		pin:   &mockPin{rec: rec},
		clock: &fakeClock{rec: rec},
	}
	f.dev = New(f.bus, f.pin, f.clock)
	rec.reset()
	return f
}

func pattern(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i*7 + 3)
	}
	return data
}
