package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"lc512/core"
	"lc512/eeprom"
	"lc512/host/config"
)

// memBus is a 24LC512 without page wrap, enough for command tests.
type memBus struct {
	mem     [1 << 16]byte
	pointer int
}

func (b *memBus) Tx(addr uint16, w, r []byte) error {
	if len(w) >= 2 {
		b.pointer = int(w[0])<<8 | int(w[1])
		copy(b.mem[b.pointer:], w[2:])
	}
	copy(r, b.mem[b.pointer:])
	return nil
}

type harness struct {
	bus     *memBus
	configs []*config.Config
	opens   int
}

func (h *harness) open(cfg *config.Config) (*session, error) {
	h.opens++
	h.configs = append(h.configs, cfg)
	s := &session{dev: eeprom.New(h.bus, core.NopLine{}, core.SystemClock{})}
	ee := cfg.EEPROM()
	ee.Address = 0
	ee.SettleTime = time.Microsecond
	s.dev.Configure(ee)
	return s, nil
}

func (h *harness) run(t *testing.T, stdin string, args ...string) (string, string, int) {
	t.Helper()
	var out, errOut bytes.Buffer
	code := run(args, strings.NewReader(stdin), &out, &errOut, h.open)
	return out.String(), errOut.String(), code
}

func newHarness() *harness {
	return &harness{bus: &memBus{}}
}

func TestWriteThenRead(t *testing.T) {
	h := newHarness()

	if _, errOut, code := h.run(t, "", "write", "0x100", "48656c6c6f"); code != 0 {
		t.Fatalf("write exited %d: %s", code, errOut)
	}
	if got := string(h.bus.mem[0x100:0x105]); got != "Hello" {
		t.Errorf("memory = %q, want Hello", got)
	}

	out, errOut, code := h.run(t, "", "read", "256", "5")
	if code != 0 {
		t.Fatalf("read exited %d: %s", code, errOut)
	}
	want := "00000100  48 65 6c 6c 6f                                    |Hello|\n"
	if out != want {
		t.Errorf("read output:\n%q\nwant:\n%q", out, want)
	}
}

func TestWriteString(t *testing.T) {
	h := newHarness()

	out, errOut, code := h.run(t, "", "write", "--string", "0", "boot=1")
	if code != 0 {
		t.Fatalf("write exited %d: %s", code, errOut)
	}
	if !strings.Contains(out, "wrote 6 bytes at 0x0000") {
		t.Errorf("unexpected output %q", out)
	}
	if got := string(h.bus.mem[:6]); got != "boot=1" {
		t.Errorf("memory = %q, want boot=1", got)
	}
}

func TestCommandErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"bad offset", []string{"read", "zz"}, "invalid offset"},
		{"bad hex", []string{"write", "0", "xyz"}, "invalid hex"},
		{"out of range", []string{"write", "64000", "00"}, "out of range"},
		{"too much", []string{"read", "63999", "2"}, "exceeds device capacity"},
		{"dump too much", []string{"dump", "-o", "63990", "-n", "100", "out.bin"}, "exceeds device capacity"},
		{"missing args", []string{"write", "0"}, "accepts 2 arg"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			_, errOut, code := h.run(t, "", tt.args...)
			if code != 1 {
				t.Errorf("exit code = %d, want 1", code)
			}
			if !strings.Contains(errOut, tt.want) {
				t.Errorf("stderr %q does not mention %q", errOut, tt.want)
			}
		})
	}
}

func TestDumpAndLoad(t *testing.T) {
	h := newHarness()
	dir := t.TempDir()

	image := make([]byte, 300)
	for i := range image {
		image[i] = byte(i)
	}
	in := filepath.Join(dir, "in.bin")
	if err := os.WriteFile(in, image, 0o644); err != nil {
		t.Fatal(err)
	}

	if _, errOut, code := h.run(t, "", "load", "--offset", "1000", in); code != 0 {
		t.Fatalf("load exited %d: %s", code, errOut)
	}
	if !bytes.Equal(h.bus.mem[1000:1300], image) {
		t.Fatal("loaded image differs")
	}

	out := filepath.Join(dir, "out.bin")
	if _, errOut, code := h.run(t, "", "dump", "-o", "1000", "-n", "300", out); code != 0 {
		t.Fatalf("dump exited %d: %s", code, errOut)
	}
	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, image) {
		t.Error("dumped image differs")
	}
}

func TestDumpWholeDevice(t *testing.T) {
	h := newHarness()
	h.bus.mem[eeprom.Capacity-1] = 0xEE

	out := filepath.Join(t.TempDir(), "full.bin")
	if _, errOut, code := h.run(t, "", "dump", out); code != 0 {
		t.Fatalf("dump exited %d: %s", code, errOut)
	}
	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != eeprom.Capacity {
		t.Fatalf("dumped %d bytes, want %d", len(got), eeprom.Capacity)
	}
	if got[eeprom.Capacity-1] != 0xEE {
		t.Error("last byte not dumped")
	}
}

func TestLoadTooLarge(t *testing.T) {
	h := newHarness()
	in := filepath.Join(t.TempDir(), "big.bin")
	if err := os.WriteFile(in, make([]byte, 200), 0o644); err != nil {
		t.Fatal(err)
	}

	_, errOut, code := h.run(t, "", "load", "-o", "63900", in)
	if code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
	if !strings.Contains(errOut, "exceeds device capacity") {
		t.Errorf("unexpected stderr %q", errOut)
	}
}

func TestShell(t *testing.T) {
	h := newHarness()

	script := strings.Join([]string{
		"write 0x10 'de ad'",
		"write --string 0x20 \"two words\"",
		"read 0x10 2",
		"read nope",
		"",
		"quit",
		"read 0 1",
	}, "\n")

	out, errOut, code := h.run(t, script, "shell")
	if code != 0 {
		t.Fatalf("shell exited %d: %s", code, errOut)
	}
	if h.opens != 1 {
		t.Errorf("session opened %d times, want 1", h.opens)
	}
	if !strings.Contains(out, "00000010  de ad") {
		t.Errorf("missing read output in %q", out)
	}
	if got := string(h.bus.mem[0x20:0x29]); got != "two words" {
		t.Errorf("memory = %q, want two words", got)
	}
	if !strings.Contains(errOut, "invalid offset") {
		t.Errorf("shell should report errors and continue, stderr %q", errOut)
	}
	if strings.Count(out, "00000000") != 0 {
		t.Error("commands after quit were executed")
	}
}

func TestShellRejectsDeviceFlags(t *testing.T) {
	h := newHarness()

	script := strings.Join([]string{
		"write 0 aa",
		"--address 0x51 write 0 bb",
		"read -d /dev/i2c-9 0 1",
		"read 0 1",
	}, "\n")

	out, errOut, code := h.run(t, script, "shell")
	if code != 0 {
		t.Fatalf("shell exited %d: %s", code, errOut)
	}
	if h.opens != 1 || len(h.configs) != 1 {
		t.Errorf("session opened %d times, want 1", h.opens)
	}
	for _, flag := range []string{"--address", "--device"} {
		if !strings.Contains(errOut, flag+" cannot change the open device") {
			t.Errorf("stderr %q does not reject %s", errOut, flag)
		}
	}
	if h.bus.mem[0] != 0xaa {
		t.Errorf("memory[0] = %#x, rejected write was executed", h.bus.mem[0])
	}
	if !strings.Contains(out, "00000000  aa") {
		t.Errorf("missing read output in %q", out)
	}
}

func TestFlagOverrides(t *testing.T) {
	h := newHarness()

	_, errOut, code := h.run(t, "", "--backend", "klipper", "--address", "0x51", "--wp-pin", "7", "read", "0")
	if code != 0 {
		t.Fatalf("read exited %d: %s", code, errOut)
	}

	cfg := h.configs[0]
	if cfg.Backend != config.BackendKlipper {
		t.Errorf("Backend = %q", cfg.Backend)
	}
	if cfg.Device != "/dev/ttyACM0" {
		t.Errorf("Device = %q, want the klipper default", cfg.Device)
	}
	if cfg.Address != 0x51 {
		t.Errorf("Address = 0x%x, want 0x51", cfg.Address)
	}
	if !cfg.HasWP() || *cfg.WPPin != 7 {
		t.Errorf("WPPin = %v, want 7", cfg.WPPin)
	}
}

func TestConfigFile(t *testing.T) {
	h := newHarness()
	path := filepath.Join(t.TempDir(), "lc512.json")
	if err := os.WriteFile(path, []byte(`{"device": "/dev/i2c-7", "settle_ms": 2}`), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, errOut, code := h.run(t, "", "-c", path, "-d", "/dev/i2c-9", "read", "0"); code != 0 {
		t.Fatalf("read exited %d: %s", code, errOut)
	}
	cfg := h.configs[0]
	if cfg.Device != "/dev/i2c-9" {
		t.Errorf("Device = %q, want the flag value", cfg.Device)
	}
	if cfg.SettleMS != 2 {
		t.Errorf("SettleMS = %d, want 2", cfg.SettleMS)
	}
}

func TestHexDump(t *testing.T) {
	var b bytes.Buffer
	data := []byte("0123456789abcdef\x00\xff")
	if err := writeHexDump(&b, 0x20, data); err != nil {
		t.Fatal(err)
	}

	want := "00000020  30 31 32 33 34 35 36 37  38 39 61 62 63 64 65 66  |0123456789abcdef|\n" +
		"00000030  00 ff                                             |..|\n"
	if b.String() != want {
		t.Errorf("hex dump:\n%s\nwant:\n%s", b.String(), want)
	}
}
