package main

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"sync"
	"time"
)

// ModeAttrName is the name of the single attribute in the pin's group.
const ModeAttrName = "mode"

// ModeAttrPerm grants read/write to the owner and read to everyone else.
const ModeAttrPerm = 0644

// changeQueueSize bounds the number of changes waiting for the handlers.
// Store drops a change rather than wait when the queue is full.
const changeQueueSize = 64

// DefaultDrainTimeout bounds how long Exit waits for queued changes to be
// delivered to the handlers.
const DefaultDrainTimeout = 5 * time.Second

// Option configures a ModeAttribute.
type Option func(*ModeAttribute)

// WithEventLogger records init, changes and teardown in el.
func WithEventLogger(el *EventLogger) Option {
	return func(m *ModeAttribute) { m.events = el }
}

// WithChangeHandlers registers handlers notified after every applied change.
// Handlers run on a single background goroutine, in the order the changes
// were applied to the pin, never on the write path.
func WithChangeHandlers(handlers ...ChangeHandler) Option {
	return func(m *ModeAttribute) { m.handlers = append(m.handlers, handlers...) }
}

// WithDrainTimeout overrides DefaultDrainTimeout.
func WithDrainTimeout(d time.Duration) Option {
	return func(m *ModeAttribute) { m.drainTimeout = d }
}

// ModeAttribute binds one GPIO line to a "mode" attribute published in an
// AttributeRegistry.  Reads report the last applied mode; writes drive the
// line.  All state lives in the instance, so several pins can be served by
// independent ModeAttributes sharing one registry and driver.
type ModeAttribute struct {
	cfg      PinConfig
	driver   PinDriver
	reg      *AttributeRegistry
	logger   *slog.Logger
	events   *EventLogger
	handlers []ChangeHandler

	drainTimeout time.Duration

	// mu guards the fields below and serialises pin writes with them.
	mu      sync.Mutex
	mode    Mode
	group   *AttributeGroup
	active  bool
	changes chan ModeChange
	drained chan struct{}
}

// NewModeAttribute returns an inactive attribute for cfg.  Call Init to
// publish it and claim the pin.
func NewModeAttribute(cfg PinConfig, driver PinDriver, reg *AttributeRegistry, logger *slog.Logger, opts ...Option) *ModeAttribute {
	if logger == nil {
		logger = slog.Default()
	}
	m := &ModeAttribute{
		cfg:    cfg,
		driver: driver,
		reg:    reg,
		logger: logger.With("gpio", cfg.Pin, "name", cfg.Name),

		drainTimeout: DefaultDrainTimeout,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Init registers the attribute group and claims the pin as an output driven
// high.  If the group cannot be registered nothing is claimed; if the pin
// cannot be claimed the group is removed again before returning.
func (m *ModeAttribute) Init() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active {
		return fmt.Errorf("%s already initialised", m.cfg.Name)
	}

	g, err := m.reg.CreateGroup(m.cfg.Name, ParentCollection, []Attribute{{
		Name:  ModeAttrName,
		Perm:  ModeAttrPerm,
		Show:  func(context.Context) (string, error) { return m.Show() },
		Store: m.Store,
	}})
	if err != nil {
		m.logger.Error("failed to create attribute group", "error", err)
		return fmt.Errorf("%w: create group %s: %w", ErrResourceExhausted, m.cfg.Name, err)
	}

	pin := m.cfg.Pin
	if err := m.driver.Request(pin); err != nil {
		m.reg.RemoveGroup(g)
		m.logger.Error("failed to request gpio", "error", err)
		return fmt.Errorf("%w: request gpio %d: %w", ErrHardwareClaim, pin, err)
	}
	if err := m.driver.DirectionOutput(pin, High); err != nil {
		m.reg.RemoveGroup(g)
		if rerr := m.driver.Release(pin); rerr != nil {
			m.logger.Warn("release after failed configure", "error", rerr)
		}
		m.logger.Error("failed to configure gpio as output", "error", err)
		return fmt.Errorf("%w: configure gpio %d: %w", ErrHardwareClaim, pin, err)
	}
	if err := m.driver.Export(pin, true); err != nil {
		m.logger.Warn("gpio export failed", "error", err)
	}

	m.group = g
	m.mode = ModeOn
	m.active = true
	if len(m.handlers) > 0 {
		m.changes = make(chan ModeChange, changeQueueSize)
		m.drained = make(chan struct{})
		go m.dispatch(m.changes, m.drained)
	}
	m.logger.Info("gpio attribute ready", "path", g.Path(), "mode", m.mode)
	m.events.Log("init %s (pin %d): mode %s", m.cfg.Name, pin, m.mode)
	return nil
}

// Show renders the current mode as "off\n" or "on\n".
func (m *ModeAttribute) Show() (string, error) {
	m.mu.Lock()
	mode := m.mode
	m.mu.Unlock()
	if !mode.Valid() {
		return "", fmt.Errorf("%w: %d", ErrInvalidState, int(mode))
	}
	return mode.String() + "\n", nil
}

// Store parses buf as "0" or "1", drives the pin to the matching level and
// records the new mode.  The mode only changes once the pin write has
// succeeded.  On success the whole buffer is reported as consumed.
func (m *ModeAttribute) Store(ctx context.Context, buf []byte) (int, error) {
	want, err := ParseMode(string(buf))
	if err != nil {
		m.logger.Warn("rejected mode write", "input", string(buf), "error", err)
		return 0, err
	}
	caller := CallerFrom(ctx)

	m.mu.Lock()
	if !m.active {
		m.mu.Unlock()
		return 0, fmt.Errorf("%w: %s", ErrPinNotClaimed, m.cfg.Name)
	}
	prev := m.mode
	if err := m.driver.SetLevel(m.cfg.Pin, want.Level()); err != nil {
		m.mu.Unlock()
		m.logger.Error("failed to set gpio level", "level", want.Level(), "error", err)
		return 0, fmt.Errorf("%w: gpio %d: %w", ErrHardwareWrite, m.cfg.Pin, err)
	}
	m.mode = want
	if prev != want && m.changes != nil {
		select {
		case m.changes <- ModeChange{Pin: m.cfg, From: prev, To: want, By: caller.Name, At: time.Now()}:
		default:
			m.logger.Warn("change queue full, notification dropped", "from", prev, "to", want)
		}
	}
	m.mu.Unlock()

	m.logger.Debug("mode written", "from", prev, "to", want, "by", caller.Name)
	return len(buf), nil
}

// dispatch delivers queued changes to the handlers until changes is closed.
func (m *ModeAttribute) dispatch(changes <-chan ModeChange, drained chan<- struct{}) {
	defer close(drained)
	for c := range changes {
		for _, h := range m.handlers {
			if err := h.Notify(c, m.events); err != nil {
				m.logger.Warn("change handler failed", "handler", h.Name(), "error", err)
			}
		}
	}
}

// Exit removes the attribute group, drives the pin low and releases it,
// then waits up to the drain timeout for queued changes to reach the
// handlers.  Every step is attempted; failures are logged and never returned.
func (m *ModeAttribute) Exit() {
	m.mu.Lock()
	if !m.active {
		m.mu.Unlock()
		return
	}
	pin := m.cfg.Pin
	m.reg.RemoveGroup(m.group)
	m.group = nil
	if err := m.driver.SetLevel(pin, Low); err != nil {
		// The mode keeps the last level that was actually applied.
		m.logger.Warn("failed to drive gpio low on exit", "error", err)
	} else {
		m.mode = ModeOff
	}
	if err := m.driver.Unexport(pin); err != nil {
		m.logger.Warn("gpio unexport failed", "error", err)
	}
	if err := m.driver.Release(pin); err != nil {
		m.logger.Warn("gpio release failed", "error", err)
	}
	m.active = false
	changes, drained := m.changes, m.drained
	m.changes, m.drained = nil, nil
	if changes != nil {
		close(changes)
	}
	m.mu.Unlock()

	if drained != nil {
		select {
		case <-drained:
		case <-time.After(m.drainTimeout):
			m.logger.Warn("change handlers still busy, not waiting", "timeout", m.drainTimeout)
		}
	}
	m.logger.Info("gpio attribute removed")
	m.events.Log("exit %s (pin %d)", m.cfg.Name, pin)
}

// Mode returns the last applied mode.
func (m *ModeAttribute) Mode() Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

// Active reports whether Init succeeded and Exit has not run yet.
func (m *ModeAttribute) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Config returns the pin this attribute controls.
func (m *ModeAttribute) Config() PinConfig { return m.cfg }

// Path returns the registry path of the mode attribute, e.g. "ebb/gpio76/mode".
func (m *ModeAttribute) Path() string {
	return path.Join(ParentCollection, m.cfg.Name, ModeAttrName)
}
