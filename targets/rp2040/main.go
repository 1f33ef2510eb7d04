//go:build rp2040

// Firmware that brings up a 24LC512 on I2C0 and checks it at boot.
// Results are reported as text lines over USB serial.
package main

import (
	"machine"
	"time"

	"lc512/core"
	"lc512/eeprom"
)

const (
	i2cBus  core.I2CBusID = 0
	i2cRate               = 400 * machine.KHz

	// WP of the EEPROM is wired to GP15
	wpPin core.GPIOPin = 15

	// Crosses the page boundary at 0x0400
	selfTestOffset = 0x03F0
	selfTestLength = 40
)

func main() {
	// Clear any watchdog state left from before the reset
	if err := machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: 0}); err != nil {
		return
	}

	InitUSB()
	core.SetDebugWriter(usbDebugWriter)
	core.SetDebugEnabled(true)
	core.InitAsyncDebug()

	// Give the host a moment to open the port
	time.Sleep(2 * time.Second)

	i2c := NewRPI2CDriver()
	core.SetI2CDriver(i2c)
	if err := i2c.ConfigureBus(i2cBus, i2cRate); err != nil {
		halt("i2c: " + err.Error())
	}

	core.SetGPIODriver(NewRPGPIODriver())
	wp, err := core.NewOutputLine(wpPin)
	if err != nil {
		halt("wp: " + err.Error())
	}

	dev := eeprom.New(core.NewI2CBus(i2cBus), wp, core.SystemClock{})

	if err := selfTest(&dev, selfTestOffset, selfTestLength); err != nil {
		halt("self-test: " + err.Error())
	}
	core.DebugPrintln("self-test: ok")

	for {
		core.DebugAsync("eeprom ready")
		time.Sleep(10 * time.Second)
	}
}

// halt reports a fatal error and stops; the message repeats so a host
// that connects late still sees it.
func halt(msg string) {
	for {
		core.DebugAsync("FATAL " + msg)
		time.Sleep(time.Second)
	}
}
