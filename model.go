package main

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultPin is the GPIO line claimed when no pin is configured.
const DefaultPin = 76

// ParentCollection is the fixed collection under which the pin's attribute
// group is registered, e.g. /sys/ebb/gpio76/mode.
const ParentCollection = "ebb"

// Level is the logical level requested for an output pin, independent of the
// electrical polarity of the line.
type Level bool

const (
	Low  Level = false
	High Level = true
)

// String returns "high" or "low".
func (l Level) String() string {
	if l {
		return "high"
	}
	return "low"
}

// Mode is the user visible state of the pin: 0 = off, 1 = on.
type Mode int

const (
	ModeOff Mode = 0
	ModeOn  Mode = 1
)

// Valid reports whether m is one of the two defined modes.
func (m Mode) Valid() bool {
	return m == ModeOff || m == ModeOn
}

// String returns the textual form used by the mode attribute, without the
// trailing newline.  Undefined values render as "invalid(n)".
func (m Mode) String() string {
	switch m {
	case ModeOff:
		return "off"
	case ModeOn:
		return "on"
	}
	return fmt.Sprintf("invalid(%d)", int(m))
}

// Level maps the mode onto the pin level that represents it.
func (m Mode) Level() Level {
	return Level(m == ModeOn)
}

// ParseMode interprets a write buffer as a decimal mode.  Surrounding
// whitespace, including the trailing newline echo(1) appends, is ignored.
// Anything that is not exactly 0 or 1 is rejected with ErrInvalidInput.
func ParseMode(text string) (Mode, error) {
	s := strings.TrimSpace(text)
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a decimal integer", ErrInvalidInput, s)
	}
	m := Mode(n)
	if !m.Valid() {
		return 0, fmt.Errorf("%w: mode %d out of range (want 0 or 1)", ErrInvalidInput, n)
	}
	return m, nil
}

// PinConfig identifies the GPIO line this process controls.  The display
// name is derived once from the pin number and never changes afterwards.
type PinConfig struct {
	Pin  int
	Name string
}

// NewPinConfig builds a PinConfig for pin, naming it "gpio<pin>".
func NewPinConfig(pin int) PinConfig {
	return PinConfig{Pin: pin, Name: "gpio" + strconv.Itoa(pin)}
}

// Status is the JSON body returned by /api/status.
type Status struct {
	Pin    int    `json:"pin"`
	Name   string `json:"name"`
	Mode   string `json:"mode"`
	Path   string `json:"path"`
	Driver string `json:"driver"`
}

// User is an account allowed to write attributes.  Passwords are stored as
// bcrypt hashes.  The Admin flag additionally grants access to the event log.
type User struct {
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password_hash"`
	Admin        bool   `yaml:"admin"`
}

// GPIOConfig selects the controlled pin and the backend used to drive it.
type GPIOConfig struct {
	Pin      int    `yaml:"pin"`      // GPIO LED number
	Driver   string `yaml:"driver"`   // "sim", "periph" or "cdev"
	Chip     string `yaml:"chip"`     // cdev only, e.g. "gpiochip0"
	Consumer string `yaml:"consumer"` // cdev only, label shown by gpioinfo
}

// LoggerConfig controls the diagnostic logger.
type LoggerConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
	Output string `yaml:"output"` // stderr, stdout or a file path
}

// RateLimitConfig bounds attribute writes per client.
type RateLimitConfig struct {
	RequestsPerMin int `yaml:"requests_per_min"`
	Burst          int `yaml:"burst"`
}

// NotifyConfig describes one change handler.  Type is "log" or "email";
// the SMTP fields are only used by "email".
type NotifyConfig struct {
	Type       string `yaml:"type"`
	SMTPServer string `yaml:"smtp_server,omitempty"`
	SMTPPort   int    `yaml:"smtp_port,omitempty"`
	Username   string `yaml:"username,omitempty"`
	Password   string `yaml:"password,omitempty"`
	From       string `yaml:"from,omitempty"`
	To         string `yaml:"to,omitempty"`
	Subject    string `yaml:"subject,omitempty"`
}

// Config is the top-level structure serialized to config.yaml.
type Config struct {
	HTTPPort  int             `yaml:"http_port"` // port to listen on (default 8443)
	CertFile  string          `yaml:"cert_file"` // TLS is enabled when both files are set
	KeyFile   string          `yaml:"key_file"`
	GPIO      GPIOConfig      `yaml:"gpio"`
	Logger    LoggerConfig    `yaml:"logger"`
	LogFile   string          `yaml:"log_file"`   // event log, empty disables it
	MaxGroups int             `yaml:"max_groups"` // attribute registry capacity
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Notify    []NotifyConfig  `yaml:"notify"`
	Users     []User          `yaml:"users"`
}
