// Package config loads the host-side description of where the EEPROM is
// attached: which backend reaches it, on which bus and with which
// write-protect line.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"lc512/eeprom"
)

// Backends
const (
	BackendLinux   = "linux"
	BackendKlipper = "klipper"
)

// NoPin marks a write-protect line that is not wired.
const NoPin = -1

// Config describes one EEPROM attachment.
type Config struct {
	// Backend is "linux" (i2c-dev + sysfs GPIO) or "klipper" (MCU over serial)
	Backend string `json:"backend"`

	// Device is the i2c-dev node for linux or the serial port for klipper
	Device string `json:"device"`

	// Baud applies to the klipper serial port
	Baud int `json:"baud,omitempty"`

	// I2CBus and I2CRate select the MCU bus for klipper
	I2CBus  uint32 `json:"i2c_bus,omitempty"`
	I2CRate uint32 `json:"i2c_rate,omitempty"`

	// Address is the 7-bit device address
	Address uint16 `json:"address,omitempty"`

	// WPPin is the write-protect GPIO (sysfs number or MCU pin), -1 if none
	WPPin *int `json:"wp_pin,omitempty"`

	// GPIORoot overrides /sys/class/gpio
	GPIORoot string `json:"gpio_root,omitempty"`

	// SettleMS is the wait after each page write in milliseconds
	SettleMS int `json:"settle_ms,omitempty"`

	// PollAttempts enables acknowledge polling after the settle wait
	PollAttempts int `json:"poll_attempts,omitempty"`
}

// LoadConfig parses a JSON configuration and applies defaults
func LoadConfig(jsonData []byte) (*Config, error) {
	var config Config

	if err := json.Unmarshal(jsonData, &config); err != nil {
		return nil, err
	}

	if err := config.Resolve(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Resolve fills in defaults for fields left empty, e.g. after command line
// overrides, and validates the result
func (c *Config) Resolve() error {
	applyDefaults(c)
	return c.Validate()
}

// LoadFile reads and parses the configuration at path
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	config, err := LoadConfig(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return config, nil
}

// Default returns a Linux configuration for the first i2c-dev bus
func Default() *Config {
	config := &Config{}
	applyDefaults(config)
	return config
}

// applyDefaults fills in missing configuration values
func applyDefaults(config *Config) {
	if config.Backend == "" {
		config.Backend = BackendLinux
	}

	if config.Device == "" {
		switch config.Backend {
		case BackendKlipper:
			config.Device = "/dev/ttyACM0"
		default:
			config.Device = "/dev/i2c-1"
		}
	}

	if config.Baud == 0 {
		config.Baud = 250000
	}
	if config.I2CRate == 0 {
		config.I2CRate = 400000 // fast mode
	}
	if config.Address == 0 {
		config.Address = eeprom.DefaultAddress
	}
	if config.WPPin == nil {
		pin := NoPin
		config.WPPin = &pin
	}
	if config.SettleMS == 0 {
		config.SettleMS = int(eeprom.DefaultSettleTime / time.Millisecond)
	}
}

// Validate reports settings no backend can honour
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendLinux, BackendKlipper:
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if c.Address > 0x7F {
		return fmt.Errorf("address 0x%x is not a 7-bit address", c.Address)
	}
	if c.SettleMS < 0 || c.PollAttempts < 0 {
		return errors.New("settle_ms and poll_attempts must not be negative")
	}
	if c.Backend == BackendKlipper && c.PollAttempts > 0 {
		// a NAKed i2c_write shuts the MCU down
		return errors.New("poll_attempts is not supported by the klipper backend")
	}
	return nil
}

// HasWP reports whether a write-protect line is configured
func (c *Config) HasWP() bool {
	return c.WPPin != nil && *c.WPPin >= 0
}

// EEPROM returns the driver settings described by the configuration
func (c *Config) EEPROM() eeprom.Config {
	return eeprom.Config{
		Address:      c.Address,
		SettleTime:   time.Duration(c.SettleMS) * time.Millisecond,
		PollAttempts: c.PollAttempts,
	}
}
