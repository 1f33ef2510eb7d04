package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	config, err := LoadConfig([]byte(`{}`))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if config.Backend != BackendLinux {
		t.Errorf("Backend = %q, want linux", config.Backend)
	}
	if config.Device != "/dev/i2c-1" {
		t.Errorf("Device = %q, want /dev/i2c-1", config.Device)
	}
	if config.Address != 0x50 {
		t.Errorf("Address = 0x%x, want 0x50", config.Address)
	}
	if config.SettleMS != 5 {
		t.Errorf("SettleMS = %d, want 5", config.SettleMS)
	}
	if config.HasWP() {
		t.Error("WP should default to not wired")
	}
}

func TestLoadConfigKlipper(t *testing.T) {
	config, err := LoadConfig([]byte(`{
		"backend": "klipper",
		"i2c_bus": 1,
		"address": 81,
		"wp_pin": 0,
		"settle_ms": 10
	}`))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if config.Device != "/dev/ttyACM0" {
		t.Errorf("Device = %q, want /dev/ttyACM0", config.Device)
	}
	if config.Baud != 250000 {
		t.Errorf("Baud = %d, want 250000", config.Baud)
	}
	if config.I2CBus != 1 || config.I2CRate != 400000 {
		t.Errorf("bus = %d at %d Hz, want 1 at 400000", config.I2CBus, config.I2CRate)
	}
	// pin 0 is a real pin, not "unset"
	if !config.HasWP() || *config.WPPin != 0 {
		t.Errorf("WPPin = %v, want 0", config.WPPin)
	}

	ee := config.EEPROM()
	if ee.Address != 0x51 {
		t.Errorf("eeprom Address = 0x%x, want 0x51", ee.Address)
	}
	if ee.SettleTime != 10*time.Millisecond {
		t.Errorf("eeprom SettleTime = %v, want 10ms", ee.SettleTime)
	}
	if ee.PollAttempts != 0 {
		t.Errorf("eeprom PollAttempts = %d, want 0", ee.PollAttempts)
	}
}

func TestLoadConfigPolling(t *testing.T) {
	config, err := LoadConfig([]byte(`{"poll_attempts": 3}`))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if ee := config.EEPROM(); ee.PollAttempts != 3 {
		t.Errorf("eeprom PollAttempts = %d, want 3", ee.PollAttempts)
	}

	_, err = LoadConfig([]byte(`{"backend": "klipper", "poll_attempts": 3}`))
	if err == nil || !strings.Contains(err.Error(), "klipper") {
		t.Errorf("expected klipper polling to be rejected, got %v", err)
	}
}

func TestLoadConfigInvalid(t *testing.T) {
	tests := []struct {
		name string
		json string
	}{
		{"syntax", `{"backend":`},
		{"backend", `{"backend": "spi"}`},
		{"address", `{"address": 200}`},
		{"settle", `{"settle_ms": -1}`},
		{"klipper poll", `{"backend": "klipper", "poll_attempts": 1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadConfig([]byte(tt.json)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lc512.json")
	if err := os.WriteFile(path, []byte(`{"device": "/dev/i2c-3"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	config, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if config.Device != "/dev/i2c-3" {
		t.Errorf("Device = %q, want /dev/i2c-3", config.Device)
	}

	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestDefault(t *testing.T) {
	config := Default()
	if err := config.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestResolveAfterOverride(t *testing.T) {
	config := Default()
	config.Backend = BackendKlipper
	config.Device = ""

	if err := config.Resolve(); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if config.Device != "/dev/ttyACM0" {
		t.Errorf("Device = %q, want /dev/ttyACM0", config.Device)
	}

	config.Address = 0x80
	if err := config.Resolve(); err == nil {
		t.Error("expected error for 8-bit address")
	}
}
