package main

import "errors"

// Failure classes surfaced by the attribute, the registry and the pin
// drivers.  Callers match them with errors.Is; the wrapped message carries
// the detail.
var (
	// ErrResourceExhausted means the attribute group could not be registered.
	ErrResourceExhausted = errors.New("attribute registry exhausted")
	// ErrHardwareClaim means the pin could not be requested or configured.
	ErrHardwareClaim = errors.New("gpio claim failed")
	// ErrInvalidInput means a write buffer was not "0" or "1".
	ErrInvalidInput = errors.New("invalid argument")
	// ErrHardwareWrite means the pin level could not be set.
	ErrHardwareWrite = errors.New("gpio write failed")
	// ErrInvalidState means the stored mode is outside {off, on}.
	ErrInvalidState = errors.New("invalid mode state")

	ErrNotFound          = errors.New("no such attribute")
	ErrPermission        = errors.New("permission denied")
	ErrGroupExists       = errors.New("attribute group already exists")
	ErrDriverUnavailable = errors.New("gpio driver unavailable")
	ErrPinNotClaimed     = errors.New("gpio not requested")
)
