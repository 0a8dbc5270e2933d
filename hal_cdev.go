//go:build linux && !disablegpio

package main

import (
	"fmt"
	"sync"

	"github.com/warthog618/gpiod"
)

// CdevDriver drives pins through the Linux GPIO character device
// (/dev/gpiochipN).  Pin numbers are line offsets on the configured chip.
type CdevDriver struct {
	exportSet

	chip  *gpiod.Chip
	mu    sync.Mutex
	lines map[int]*gpiod.Line
}

func newCdevDriver(chip, consumer string) (PinDriver, func() error, error) {
	if chip == "" {
		chip = "gpiochip0"
	}
	if consumer == "" {
		consumer = "ebbgpio"
	}
	c, err := gpiod.NewChip(chip, gpiod.WithConsumer(consumer))
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", chip, err)
	}
	d := &CdevDriver{chip: c, lines: make(map[int]*gpiod.Line)}
	return d, d.Close, nil
}

func levelValue(level Level) int {
	if level {
		return 1
	}
	return 0
}

// Request claims the line without touching its direction or value.
func (d *CdevDriver) Request(pin int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.lines[pin]; ok {
		return fmt.Errorf("gpio %d busy", pin)
	}
	l, err := d.chip.RequestLine(pin, gpiod.AsIs)
	if err != nil {
		return fmt.Errorf("request line %d: %w", pin, err)
	}
	d.lines[pin] = l
	return nil
}

func (d *CdevDriver) line(pin int) (*gpiod.Line, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.lines[pin]
	if !ok {
		return nil, fmt.Errorf("%w: gpio %d", ErrPinNotClaimed, pin)
	}
	return l, nil
}

func (d *CdevDriver) DirectionOutput(pin int, level Level) error {
	l, err := d.line(pin)
	if err != nil {
		return err
	}
	return l.Reconfigure(gpiod.AsOutput(levelValue(level)))
}

func (d *CdevDriver) SetLevel(pin int, level Level) error {
	l, err := d.line(pin)
	if err != nil {
		return err
	}
	return l.SetValue(levelValue(level))
}

func (d *CdevDriver) Release(pin int) error {
	d.mu.Lock()
	l, ok := d.lines[pin]
	delete(d.lines, pin)
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: gpio %d", ErrPinNotClaimed, pin)
	}
	return l.Close()
}

// Export records the pin as exported.  Requested lines are already visible
// to gpioinfo with our consumer label.
func (d *CdevDriver) Export(pin int, _ bool) error {
	if _, err := d.line(pin); err != nil {
		return err
	}
	d.add(pin)
	return nil
}

func (d *CdevDriver) Unexport(pin int) error {
	d.remove(pin)
	return nil
}

// Close releases any lines still held and closes the chip.
func (d *CdevDriver) Close() error {
	d.mu.Lock()
	for pin, l := range d.lines {
		l.Close()
		delete(d.lines, pin)
	}
	d.mu.Unlock()
	return d.chip.Close()
}
