//go:build rp2040

package main

import (
	"machine"
)

// InitUSB configures machine.Serial, which is USB CDC-ACM on the RP2040.
func InitUSB() {
	_ = machine.Serial.Configure(machine.UARTConfig{})
}

// usbDebugWriter sends one line of debug output over USB serial.
func usbDebugWriter(s string) {
	_, _ = machine.Serial.Write([]byte(s))
	_, _ = machine.Serial.Write([]byte("\r\n"))
}
