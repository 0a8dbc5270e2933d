//go:build linux && !disablegpio

// This file provides a Raspberry Pi / BeagleBone implementation of the HAL
// using the periph.io library.  When cross-compiling for other platforms or
// when the build tag "disablegpio" is specified, hal_stub.go is used instead.

package main

import (
	"fmt"
	"sync"

	// Use the new periph module layout.  See https://periph.io/news/2020/a_new_start/
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// PeriphDriver drives pins through periph.io.  Pins are looked up by their
// "GPIO<N>" name in the periph registry.
type PeriphDriver struct {
	exportSet

	mu   sync.Mutex
	pins map[int]gpio.PinIO
}

// newPeriphDriver initialises periph host state.  host.Init can safely be
// called multiple times; subsequent calls are no-ops.
func newPeriphDriver() (PinDriver, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}
	return &PeriphDriver{pins: make(map[int]gpio.PinIO)}, nil
}

func (d *PeriphDriver) Request(pin int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.pins[pin]; ok {
		return fmt.Errorf("gpio %d busy", pin)
	}
	name := fmt.Sprintf("GPIO%d", pin)
	p := gpioreg.ByName(name)
	if p == nil {
		return fmt.Errorf("pin %d (%s) not found in hardware", pin, name)
	}
	d.pins[pin] = p
	return nil
}

func (d *PeriphDriver) pin(pin int) (gpio.PinIO, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.pins[pin]
	if !ok {
		return nil, fmt.Errorf("%w: gpio %d", ErrPinNotClaimed, pin)
	}
	return p, nil
}

func (d *PeriphDriver) DirectionOutput(pin int, level Level) error {
	p, err := d.pin(pin)
	if err != nil {
		return err
	}
	return p.Out(gpio.Level(level))
}

func (d *PeriphDriver) SetLevel(pin int, level Level) error {
	p, err := d.pin(pin)
	if err != nil {
		return err
	}
	return p.Out(gpio.Level(level))
}

func (d *PeriphDriver) Release(pin int) error {
	d.mu.Lock()
	p, ok := d.pins[pin]
	delete(d.pins, pin)
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: gpio %d", ErrPinNotClaimed, pin)
	}
	return p.Halt()
}

// Export records the pin as exported.  Every periph pin is already listed in
// gpioreg, so there is nothing to publish on the host side.
func (d *PeriphDriver) Export(pin int, _ bool) error {
	if _, err := d.pin(pin); err != nil {
		return err
	}
	d.add(pin)
	return nil
}

func (d *PeriphDriver) Unexport(pin int) error {
	d.remove(pin)
	return nil
}
