package core

// GPIOPin identifies a hardware GPIO pin number
type GPIOPin uint32

// GPIODriver is the abstract GPIO interface that core code uses.
// Platform-specific implementations handle actual hardware control.
type GPIODriver interface {
	// ConfigureOutput configures a pin as a digital output
	// Returns error if pin is invalid or already in use
	ConfigureOutput(pin GPIOPin) error

	// SetPin sets the pin to high (true) or low (false)
	SetPin(pin GPIOPin, value bool) error

	// GetPin reads the current pin state
	GetPin(pin GPIOPin) (bool, error)
}

// Global singleton used by core code.
var gpioDriver GPIODriver

// SetGPIODriver is called by target-specific code to register its driver.
func SetGPIODriver(d GPIODriver) {
	gpioDriver = d
}

// MustGPIO returns the configured driver or panics if missing.
func MustGPIO() GPIODriver {
	if gpioDriver == nil {
		panic("GPIO driver not configured")
	}
	return gpioDriver
}

// OutputLine is a single digital output on a GPIODriver with the
// High/Low shape of machine.Pin. Driver errors are dropped: callers use
// it for best-effort signalling such as a write-protect line.
type OutputLine struct {
	Driver GPIODriver
	Pin    GPIOPin
}

// NewOutputLine configures pin as an output on the registered GPIO driver.
func NewOutputLine(pin GPIOPin) (*OutputLine, error) {
	d := MustGPIO()
	if err := d.ConfigureOutput(pin); err != nil {
		return nil, err
	}
	return &OutputLine{Driver: d, Pin: pin}, nil
}

// High drives the line high.
func (l *OutputLine) High() {
	_ = l.Driver.SetPin(l.Pin, true)
}

// Low drives the line low.
func (l *OutputLine) Low() {
	_ = l.Driver.SetPin(l.Pin, false)
}

// NopLine stands in for an output that is not wired, such as a
// write-protect pin strapped low on the board.
type NopLine struct{}

func (NopLine) High() {}
func (NopLine) Low()  {}
