//go:build !linux || disablegpio

// Stub hardware backends for platforms without Linux GPIO support, or for
// builds tagged "disablegpio".  Only the "sim" driver is usable.

package main

import "fmt"

func newPeriphDriver() (PinDriver, error) {
	return nil, fmt.Errorf("%w: periph backend not built for this platform", ErrDriverUnavailable)
}

func newCdevDriver(_, _ string) (PinDriver, func() error, error) {
	return nil, nil, fmt.Errorf("%w: cdev backend not built for this platform", ErrDriverUnavailable)
}
