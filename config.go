package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is the default filename for persisted configuration.
const DefaultConfigPath = "config.yaml"

// DefaultConfig returns the configuration written on first start: pin 76 on
// the simulated driver, plain HTTP on 8443 and a single admin user
// (password: "admin", which you should change immediately).
func DefaultConfig() Config {
	cfg := baseConfig()
	cfg.Notify = []NotifyConfig{{Type: "log"}}
	cfg.Users = []User{
		{Username: "admin", PasswordHash: hashPassword("admin"), Admin: true},
	}
	return cfg
}

// baseConfig holds the defaults a configuration file is read on top of.
// Lists are left empty so the file alone decides users and notifiers.
func baseConfig() Config {
	return Config{
		HTTPPort:  8443,
		GPIO:      GPIOConfig{Pin: DefaultPin, Driver: DriverSim, Consumer: "ebbgpio"},
		Logger:    LoggerConfig{Level: "info", Format: "text", Output: "stderr"},
		LogFile:   "events.log",
		MaxGroups: DefaultMaxGroups,
		RateLimit: RateLimitConfig{RequestsPerMin: 120, Burst: 10},
	}
}

// ConfigManager wraps the loaded configuration and a mutex for concurrent
// access.  Changes made through Update are persisted immediately.
type ConfigManager struct {
	path   string
	mu     sync.RWMutex
	cfg    Config
	loaded bool
}

// NewConfigManager returns a manager for the file at path.  An empty path
// selects DefaultConfigPath.
func NewConfigManager(path string) *ConfigManager {
	if path == "" {
		path = DefaultConfigPath
	}
	return &ConfigManager{path: path}
}

// Load reads configuration from disk.  If the file does not exist, the
// default configuration is persisted first.  Environment overrides are
// applied on top of what was read and the result is validated.
func (cm *ConfigManager) Load() error {
	cm.mu.Lock()
	if cm.loaded {
		cm.mu.Unlock()
		return nil
	}
	data, err := os.ReadFile(cm.path)
	if err != nil {
		if !os.IsNotExist(err) {
			cm.mu.Unlock()
			return fmt.Errorf("unable to read config: %w", err)
		}
		cm.cfg = DefaultConfig()
		// Release the write lock before saving to avoid deadlock: Save acquires
		// a read lock on the same mutex.
		cm.mu.Unlock()
		if err := cm.Save(); err != nil {
			return err
		}
		cm.mu.Lock()
	} else {
		cfg := baseConfig()
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			cm.mu.Unlock()
			return fmt.Errorf("invalid %s: %w", cm.path, err)
		}
		cm.cfg = cfg
	}
	ApplyEnvOverrides(&cm.cfg)
	if err := Validate(cm.cfg); err != nil {
		cm.mu.Unlock()
		return err
	}
	cm.loaded = true
	cm.mu.Unlock()
	return nil
}

// Save writes the configuration to disk atomically.
func (cm *ConfigManager) Save() error {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	bytes, err := yaml.Marshal(cm.cfg)
	if err != nil {
		return err
	}
	tmpPath := cm.path + ".tmp"
	if err := os.WriteFile(tmpPath, bytes, 0600); err != nil {
		return err
	}
	return os.Rename(tmpPath, cm.path)
}

// Get returns a copy of the current configuration.  Callers must treat the
// returned Config as immutable.
func (cm *ConfigManager) Get() Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.cfg
}

// Update applies fn to the configuration under the write lock, validates the
// result and persists it.  The updater must not keep the pointer.
func (cm *ConfigManager) Update(fn func(*Config) error) error {
	cm.mu.Lock()
	next := cm.cfg
	next.Users = append([]User(nil), cm.cfg.Users...)
	if err := fn(&next); err != nil {
		cm.mu.Unlock()
		return err
	}
	if err := Validate(next); err != nil {
		cm.mu.Unlock()
		return err
	}
	cm.cfg = next
	// Release the lock before saving: Save acquires a read lock.
	cm.mu.Unlock()
	return cm.Save()
}

// SetPin overrides the configured pin for this run without persisting it,
// like a load-time module parameter.
func (cm *ConfigManager) SetPin(pin int) error {
	if pin < 0 {
		return fmt.Errorf("invalid gpio %d", pin)
	}
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.cfg.GPIO.Pin = pin
	return nil
}

// FindUser returns a user and its index by username.  If not found, index
// will be -1.
func (cm *ConfigManager) FindUser(username string) (User, int) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	for i, u := range cm.cfg.Users {
		if u.Username == username {
			return u, i
		}
	}
	return User{}, -1
}

// Authenticate checks whether the provided username and password are valid.
// It returns the user object if authentication succeeds.
func (cm *ConfigManager) Authenticate(username, password string) (User, error) {
	user, _ := cm.FindUser(username)
	if user.Username == "" {
		return User{}, errors.New("invalid credentials")
	}
	if err := checkPasswordHash(password, user.PasswordHash); err != nil {
		return User{}, errors.New("invalid credentials")
	}
	return user, nil
}

// ApplyEnvOverrides maps EBBGPIO_* environment variables to config fields.
// Malformed numbers are ignored.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("EBBGPIO_PIN"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.GPIO.Pin = n
		}
	}
	if v := os.Getenv("EBBGPIO_DRIVER"); v != "" {
		cfg.GPIO.Driver = v
	}
	if v := os.Getenv("EBBGPIO_CHIP"); v != "" {
		cfg.GPIO.Chip = v
	}
	if v := os.Getenv("EBBGPIO_HTTP_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.HTTPPort = n
		}
	}
	if v := os.Getenv("EBBGPIO_LOG_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("EBBGPIO_LOG_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
}

// Validate rejects configurations the daemon cannot start with.
func Validate(cfg Config) error {
	var errs []error
	if cfg.GPIO.Pin < 0 {
		errs = append(errs, fmt.Errorf("gpio.pin must not be negative, got %d", cfg.GPIO.Pin))
	}
	switch strings.ToLower(cfg.GPIO.Driver) {
	case "", DriverSim, DriverPeriph, DriverCdev:
	default:
		errs = append(errs, fmt.Errorf("gpio.driver %q is not one of sim, periph, cdev", cfg.GPIO.Driver))
	}
	if cfg.HTTPPort <= 0 || cfg.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("http_port %d out of range", cfg.HTTPPort))
	}
	if (cfg.CertFile == "") != (cfg.KeyFile == "") {
		errs = append(errs, errors.New("cert_file and key_file must be set together"))
	}
	if cfg.RateLimit.RequestsPerMin < 0 || cfg.RateLimit.Burst < 0 {
		errs = append(errs, errors.New("rate_limit values must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
