package linux

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/jpillora/backoff"

	"lc512/core"
)

// SysfsRoot is the GPIO class directory of the legacy sysfs interface.
const SysfsRoot = "/sys/class/gpio"

// ErrExportTimeout is returned when an exported GPIO never appears.
var ErrExportTimeout = errors.New("gpio export timed out")

// SysfsPin is an output line driven through /sys/class/gpio. High and Low
// match machine.Pin; a failed update is kept for Err.
type SysfsPin struct {
	root string
	pin  int
	dir  string

	mu      sync.Mutex
	lastErr error
}

// OpenPin exports pin under root if needed, configures it as an output
// and drives it high.
func OpenPin(root string, pin int) (*SysfsPin, error) {
	if root == "" {
		root = SysfsRoot
	}
	p := &SysfsPin{
		root: root,
		pin:  pin,
		dir:  filepath.Join(root, "gpio"+strconv.Itoa(pin)),
	}

	if err := p.export(); err != nil {
		return nil, err
	}
	// "high" sets the direction and level in one write, without a glitch
	if err := p.write("direction", "high"); err != nil {
		return nil, err
	}
	core.DebugPrintln("gpio: pin " + strconv.Itoa(pin) + " configured as output")
	return p, nil
}

func (p *SysfsPin) export() error {
	if _, err := os.Stat(p.dir); err == nil {
		return nil
	}
	err := os.WriteFile(filepath.Join(p.root, "export"), []byte(strconv.Itoa(p.pin)), 0)
	if err != nil {
		return fmt.Errorf("export gpio %d: %w", p.pin, err)
	}

	// udev may need a moment to create the attribute files
	b := &backoff.Backoff{Min: 5 * time.Millisecond, Max: 100 * time.Millisecond, Factor: 2}
	for b.Attempt() < 10 {
		if _, err := os.Stat(p.dir); err == nil {
			return nil
		}
		time.Sleep(b.Duration())
	}
	return fmt.Errorf("gpio %d: %w", p.pin, ErrExportTimeout)
}

func (p *SysfsPin) write(attr, value string) error {
	if err := os.WriteFile(filepath.Join(p.dir, attr), []byte(value), 0); err != nil {
		return fmt.Errorf("gpio %d %s: %w", p.pin, attr, err)
	}
	return nil
}

// High drives the line high.
func (p *SysfsPin) High() { p.set("1") }

// Low drives the line low.
func (p *SysfsPin) Low() { p.set("0") }

func (p *SysfsPin) set(v string) {
	if err := p.write("value", v); err != nil {
		p.mu.Lock()
		p.lastErr = err
		p.mu.Unlock()
	}
}

// Err returns the most recent update failure and clears it.
func (p *SysfsPin) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	err := p.lastErr
	p.lastErr = nil
	return err
}

// Close unexports the pin.
func (p *SysfsPin) Close() error {
	return os.WriteFile(filepath.Join(p.root, "unexport"), []byte(strconv.Itoa(p.pin)), 0)
}
