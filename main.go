package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// Entry point for the ebb GPIO daemon.
//
//	ebbgpio [-config config.yaml] [-gpio 76]
//	ebbgpio [-config config.yaml] passwd <user> <password>
func main() {
	configPath := flag.String("config", DefaultConfigPath, "path to the YAML configuration file")
	pin := flag.Int("gpio", -1, "GPIO LED number (default 76)")
	flag.Parse()

	cfgMgr := NewConfigManager(*configPath)
	if err := cfgMgr.Load(); err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	if flag.Arg(0) == "passwd" {
		if flag.NArg() != 3 {
			fmt.Fprintln(os.Stderr, "usage: ebbgpio passwd <user> <password>")
			os.Exit(2)
		}
		if err := setPassword(cfgMgr, flag.Arg(1), flag.Arg(2)); err != nil {
			log.Fatalf("passwd: %v", err)
		}
		return
	}

	if *pin >= 0 {
		if err := cfgMgr.SetPin(*pin); err != nil {
			log.Fatalf("invalid -gpio: %v", err)
		}
	}

	// Installed before the pin is claimed so a signal during start-up still
	// reaches the teardown path.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, cfgMgr)
	stop()
	if err != nil {
		log.Fatalf("ebbgpio: %v", err)
	}
}

// run opens the configured logger and pin driver, then serves until ctx is
// cancelled.
func run(ctx context.Context, cfgMgr *ConfigManager) error {
	cfg := cfgMgr.Get()
	logger, closeLog, err := NewLogger(cfg.Logger)
	if err != nil {
		return err
	}
	defer closeLog()

	driver, closeDriver, err := NewPinDriver(cfg.GPIO)
	if err != nil {
		return fmt.Errorf("initialisation error: %w", err)
	}
	defer func() {
		if err := closeDriver(); err != nil {
			logger.Warn("closing gpio driver", "error", err)
		}
	}()

	return serve(ctx, cfgMgr, driver, logger)
}

// serve claims the pin, serves the attribute tree until ctx is cancelled and
// then releases the pin.
func serve(ctx context.Context, cfgMgr *ConfigManager, driver PinDriver, logger *slog.Logger) error {
	cfg := cfgMgr.Get()
	events := NewEventLogger(cfg.LogFile)
	reg := NewAttributeRegistry(cfg.MaxGroups)
	attr := NewModeAttribute(NewPinConfig(cfg.GPIO.Pin), driver, reg, logger,
		WithEventLogger(events),
		WithChangeHandlers(initChangeHandlers(cfg.Notify)...),
	)
	if err := attr.Init(); err != nil {
		return err
	}
	defer attr.Exit()

	srv := NewServer(cfgMgr, reg, attr, driver, events, logger)
	return srv.Start(ctx)
}

// setPassword creates or updates a user and persists the configuration.
func setPassword(cfgMgr *ConfigManager, username, password string) error {
	if username == "" || password == "" {
		return fmt.Errorf("username and password must not be empty")
	}
	hash := hashPassword(password)
	return cfgMgr.Update(func(cfg *Config) error {
		for i := range cfg.Users {
			if cfg.Users[i].Username == username {
				cfg.Users[i].PasswordHash = hash
				return nil
			}
		}
		cfg.Users = append(cfg.Users, User{Username: username, PasswordHash: hash})
		return nil
	})
}
