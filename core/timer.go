package core

import "time"

// Timer is a one-shot countdown: Start arms it, Wait blocks until it
// elapses.
type Timer interface {
	Start()
	Wait()
}

// SystemClock hands out one-shot countdown timers backed by the Go
// runtime timer. TinyGo maps time.Sleep onto the hardware timer, so the
// same clock serves firmware and host builds.
type SystemClock struct{}

// Countdown is a one-shot timer created by SystemClock.
type Countdown struct {
	d        time.Duration
	deadline time.Time
	started  bool
}

// NewTimer returns a stopped countdown of duration d.
func (SystemClock) NewTimer(d time.Duration) Timer {
	return &Countdown{d: d}
}

// Start arms the countdown. Starting an armed countdown restarts it.
func (c *Countdown) Start() {
	c.deadline = time.Now().Add(c.d)
	c.started = true
}

// Wait blocks until the countdown elapses. Waiting on a countdown that
// was never started starts it first.
func (c *Countdown) Wait() {
	if !c.started {
		c.Start()
	}
	if remaining := time.Until(c.deadline); remaining > 0 {
		time.Sleep(remaining)
	}
	c.started = false
}
