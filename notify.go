package main

// This file defines pluggable handlers that are told when the pin's mode
// changes through the mode attribute.

import (
	"fmt"
	"net/smtp"
	"strings"
	"time"
)

// ModeChange describes one applied write to the mode attribute.
type ModeChange struct {
	Pin  PinConfig
	From Mode
	To   Mode
	By   string
	At   time.Time
}

// ChangeHandler is notified after a mode change has been applied to the pin.
// Errors are logged by the caller and never undo the change.
type ChangeHandler interface {
	Name() string
	Notify(change ModeChange, logger *EventLogger) error
}

// LogHandler records the change in the event log.  It is the default when
// no handlers are configured.
type LogHandler struct{}

// Name returns the type name of the handler.
func (LogHandler) Name() string { return "log" }

// Notify writes the change to the event log.
func (LogHandler) Notify(c ModeChange, logger *EventLogger) error {
	logger.Log("mode %s: %s -> %s by %s", c.Pin.Name, c.From, c.To, c.By)
	return nil
}

// EmailHandler sends an email via an SMTP server for every change.  The
// subject defaults to "<pin> mode changed" if empty.
type EmailHandler struct {
	SMTPServer string
	SMTPPort   int
	Username   string
	Password   string
	From       string
	To         string
	Subject    string
}

// Name returns the type name of the handler.
func (EmailHandler) Name() string { return "email" }

// Notify composes a minimal plaintext message and hands it to smtp.SendMail.
func (e EmailHandler) Notify(c ModeChange, _ *EventLogger) error {
	subject := e.Subject
	if subject == "" {
		subject = c.Pin.Name + " mode changed"
	}
	body := fmt.Sprintf("%s (pin %d) switched from %s to %s by %s at %s",
		c.Pin.Name, c.Pin.Pin, c.From, c.To, c.By, c.At.Format(time.RFC3339))
	// RFC 5322 requires CRLF line endings.
	msg := fmt.Sprintf("To: %s\r\nSubject: %s\r\n\r\n%s\r\n", e.To, subject, body)
	addr := fmt.Sprintf("%s:%d", e.SMTPServer, e.SMTPPort)
	auth := smtp.PlainAuth("", e.Username, e.Password, e.SMTPServer)
	return smtp.SendMail(addr, auth, e.From, []string{e.To}, []byte(msg))
}

// initChangeHandlers builds the handlers listed in cfg.  Unknown types are
// skipped; an empty result falls back to a single LogHandler so that changes
// are always recorded.
func initChangeHandlers(cfg []NotifyConfig) []ChangeHandler {
	var handlers []ChangeHandler
	for _, nc := range cfg {
		switch strings.ToLower(nc.Type) {
		case "log":
			handlers = append(handlers, LogHandler{})
		case "email":
			handlers = append(handlers, EmailHandler{
				SMTPServer: nc.SMTPServer,
				SMTPPort:   nc.SMTPPort,
				Username:   nc.Username,
				Password:   nc.Password,
				From:       nc.From,
				To:         nc.To,
				Subject:    nc.Subject,
			})
		}
	}
	if len(handlers) == 0 {
		handlers = append(handlers, LogHandler{})
	}
	return handlers
}
