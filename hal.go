package main

// This file defines the hardware abstraction layer (HAL) for the controlled
// GPIO line.  The in-memory SimDriver is always compiled so that the daemon
// can run and be tested on a desktop machine without GPIO hardware.  The real
// backends live in hal_periph.go and hal_cdev.go, guarded by build tags;
// hal_stub.go replaces them when building for other platforms or with the
// "disablegpio" tag.

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// PinDriver is the set of operations the attribute needs from the hardware.
// Pins are addressed by their kernel line number.
type PinDriver interface {
	// Request claims ownership of the pin for this process.
	Request(pin int) error
	// DirectionOutput configures the pin as an output driven to level.
	DirectionOutput(pin int, level Level) error
	// SetLevel drives an output pin to level.
	SetLevel(pin int, level Level) error
	// Release gives the pin back.
	Release(pin int) error
	// Export makes the pin discoverable in the pin-class listing.
	Export(pin int, allowDirectionChange bool) error
	// Unexport removes the pin from the pin-class listing.
	Unexport(pin int) error
}

// ExportLister is implemented by drivers that can report which pins are
// currently exported.
type ExportLister interface {
	Exported() []int
}

// Driver names accepted in configuration.
const (
	DriverSim    = "sim"
	DriverPeriph = "periph"
	DriverCdev   = "cdev"
)

// NewPinDriver constructs the backend named in cfg.  The returned close
// function releases driver wide resources and must be called on shutdown.
func NewPinDriver(cfg GPIOConfig) (PinDriver, func() error, error) {
	noop := func() error { return nil }
	switch strings.ToLower(cfg.Driver) {
	case DriverSim, "":
		return NewSimDriver(), noop, nil
	case DriverPeriph:
		d, err := newPeriphDriver()
		if err != nil {
			return nil, nil, err
		}
		return d, noop, nil
	case DriverCdev:
		return newCdevDriver(cfg.Chip, cfg.Consumer)
	default:
		return nil, nil, fmt.Errorf("%w: unknown driver %q", ErrDriverUnavailable, cfg.Driver)
	}
}

// exportSet tracks exported pins for drivers that have no native notion of
// exporting.  It is safe for concurrent use.
type exportSet struct {
	mu   sync.Mutex
	pins map[int]bool
}

func (e *exportSet) add(pin int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pins == nil {
		e.pins = make(map[int]bool)
	}
	e.pins[pin] = true
}

func (e *exportSet) remove(pin int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.pins, pin)
}

// Exported returns the exported pins in ascending order.
func (e *exportSet) Exported() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	pins := make([]int, 0, len(e.pins))
	for p := range e.pins {
		pins = append(pins, p)
	}
	sort.Ints(pins)
	return pins
}

// SimDriver is an in-memory PinDriver.  It enforces the same ordering rules
// as real hardware (a pin must be requested before it is configured, and
// configured as an output before it is driven) and lets tests inject
// failures through the Fail* fields.
type SimDriver struct {
	exportSet

	mu      sync.Mutex
	claimed map[int]bool
	outputs map[int]bool
	levels  map[int]Level
	writes  int

	// Non-nil values are returned by the corresponding operation.
	FailRequest   error
	FailDirection error
	FailSet       error
	FailExport    error
}

// NewSimDriver returns a SimDriver with no pins claimed.
func NewSimDriver() *SimDriver {
	return &SimDriver{
		claimed: make(map[int]bool),
		outputs: make(map[int]bool),
		levels:  make(map[int]Level),
	}
}

func (s *SimDriver) Request(pin int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailRequest != nil {
		return s.FailRequest
	}
	if s.claimed[pin] {
		return fmt.Errorf("gpio %d busy", pin)
	}
	s.claimed[pin] = true
	return nil
}

func (s *SimDriver) DirectionOutput(pin int, level Level) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailDirection != nil {
		return s.FailDirection
	}
	if !s.claimed[pin] {
		return fmt.Errorf("%w: gpio %d", ErrPinNotClaimed, pin)
	}
	s.outputs[pin] = true
	s.levels[pin] = level
	return nil
}

func (s *SimDriver) SetLevel(pin int, level Level) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailSet != nil {
		return s.FailSet
	}
	if !s.claimed[pin] {
		return fmt.Errorf("%w: gpio %d", ErrPinNotClaimed, pin)
	}
	if !s.outputs[pin] {
		return fmt.Errorf("gpio %d is not an output", pin)
	}
	s.levels[pin] = level
	s.writes++
	return nil
}

func (s *SimDriver) Release(pin int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.claimed[pin] {
		return fmt.Errorf("%w: gpio %d", ErrPinNotClaimed, pin)
	}
	delete(s.claimed, pin)
	delete(s.outputs, pin)
	return nil
}

func (s *SimDriver) Export(pin int, _ bool) error {
	s.mu.Lock()
	fail := s.FailExport
	claimed := s.claimed[pin]
	s.mu.Unlock()
	if fail != nil {
		return fail
	}
	if !claimed {
		return fmt.Errorf("%w: gpio %d", ErrPinNotClaimed, pin)
	}
	s.add(pin)
	return nil
}

func (s *SimDriver) Unexport(pin int) error {
	s.remove(pin)
	return nil
}

// Level returns the last level driven on pin.  The level survives Release,
// like a line that keeps its value after the consumer lets go.
func (s *SimDriver) Level(pin int) (Level, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.levels[pin]
	return l, ok
}

// Claimed reports whether pin is currently requested.
func (s *SimDriver) Claimed(pin int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.claimed[pin]
}

// Writes returns the number of successful SetLevel calls.
func (s *SimDriver) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}
