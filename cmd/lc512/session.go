package main

import (
	"errors"
	"fmt"
	"io"

	"lc512/core"
	"lc512/eeprom"
	"lc512/host/config"
	"lc512/host/linux"
	"lc512/host/mcu"
	"lc512/host/serial"
)

// session is an open EEPROM plus whatever has to be released with it.
type session struct {
	dev     eeprom.Device
	closers []io.Closer
	pinErr  func() error
}

// check reports a write-protect update that failed during the last
// operation.
func (s *session) check() error {
	if s.pinErr == nil {
		return nil
	}
	if err := s.pinErr(); err != nil {
		return fmt.Errorf("write-protect: %w", err)
	}
	return nil
}

func (s *session) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i].Close())
	}
	return errors.Join(errs...)
}

// sessionOpener builds a session from a configuration.
type sessionOpener func(cfg *config.Config) (*session, error)

func openSession(cfg *config.Config) (*session, error) {
	switch cfg.Backend {
	case config.BackendLinux:
		return openLinux(cfg)
	case config.BackendKlipper:
		return openKlipper(cfg)
	}
	return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}

func openLinux(cfg *config.Config) (*session, error) {
	bus := linux.OpenBus(cfg.Device)
	s := &session{closers: []io.Closer{bus}}

	var wp eeprom.Pin = core.NopLine{}
	if cfg.HasWP() {
		pin, err := linux.OpenPin(cfg.GPIORoot, *cfg.WPPin)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.closers = append(s.closers, pin)
		s.pinErr = pin.Err
		wp = pin
	}

	s.dev = eeprom.New(bus, wp, core.SystemClock{})
	s.dev.Configure(cfg.EEPROM())
	return s, nil
}

func openKlipper(cfg *config.Config) (*session, error) {
	m := mcu.NewMCU()
	err := m.ConnectWithConfig(&serial.Config{
		Device:      cfg.Device,
		Baud:        cfg.Baud,
		ReadTimeout: 100,
	})
	if err != nil {
		return nil, err
	}
	s := &session{closers: []io.Closer{m}}

	wp, bus, err := configureKlipper(m, cfg)
	if err != nil {
		s.Close()
		return nil, err
	}
	if pin, ok := wp.(*mcu.RemotePin); ok {
		s.pinErr = pin.Err
	}

	s.dev = eeprom.New(bus, wp, core.SystemClock{})
	ee := cfg.EEPROM()
	ee.MaxTransfer = bus.MaxTransfer()
	s.dev.Configure(ee)
	return s, nil
}

// configureKlipper loads the dictionary and runs the MCU config phase
// for the bus and the optional write-protect output.
func configureKlipper(m *mcu.MCU, cfg *config.Config) (eeprom.Pin, *mcu.RemoteI2C, error) {
	if err := m.RetrieveDictionary(); err != nil {
		return nil, nil, err
	}

	oids := uint8(1)
	if cfg.HasWP() {
		oids++
	}
	if err := m.AllocateOids(oids); err != nil {
		return nil, nil, err
	}

	bus, err := m.ConfigI2C(cfg.I2CBus, cfg.I2CRate, cfg.Address)
	if err != nil {
		return nil, nil, err
	}

	var wp eeprom.Pin = core.NopLine{}
	if cfg.HasWP() {
		pin, err := m.ConfigDigitalOut(uint32(*cfg.WPPin), true)
		if err != nil {
			return nil, nil, err
		}
		wp = pin
	}

	if err := m.FinalizeConfig(0); err != nil {
		return nil, nil, err
	}
	return wp, bus, nil
}
