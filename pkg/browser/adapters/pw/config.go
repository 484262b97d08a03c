package pw

import (
	"errors"
	"time"

	"github.com/odvcencio/greenlight/pkg/browser"
)

// Config controls how the Playwright adapter starts its driver and browsers.
type Config struct {
	// DriverDirectory overrides where the Playwright driver is cached.
	DriverDirectory string
	// Install downloads the driver and the selected engine before launching.
	Install bool

	LaunchTimeout time.Duration
	CloseTimeout  time.Duration
	Metrics       *browser.Metrics
}

// DefaultConfig returns the default adapter configuration.
func DefaultConfig() Config {
	return Config{
		LaunchTimeout: 60 * time.Second,
		CloseTimeout:  10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	defaults.DriverDirectory = c.DriverDirectory
	defaults.Install = c.Install
	defaults.Metrics = c.Metrics
	if c.LaunchTimeout != 0 {
		defaults.LaunchTimeout = c.LaunchTimeout
	}
	if c.CloseTimeout != 0 {
		defaults.CloseTimeout = c.CloseTimeout
	}
	return defaults
}

// Validate checks whether the config is usable.
func (c Config) Validate() error {
	if c.LaunchTimeout < 0 {
		return errors.New("launch_timeout must be zero or positive")
	}
	if c.CloseTimeout < 0 {
		return errors.New("close_timeout must be zero or positive")
	}
	return nil
}
