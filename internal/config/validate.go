package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateImaging(); err != nil {
		return err
	}
	if err := c.validateParity(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateImaging() error {
	switch c.Imaging.Mode {
	case ModeDDRescue, ModeHDIUtil:
	default:
		return fmt.Errorf("imaging.mode must be %q or %q, got %q", ModeDDRescue, ModeHDIUtil, c.Imaging.Mode)
	}
	if c.Imaging.MaxErrors < 0 {
		return errors.New("imaging.max_errors must not be negative")
	}
	if c.Imaging.RetryPasses > 25 {
		return errors.New("imaging.retry_passes above 25 would run for days on a damaged disc")
	}
	return nil
}

func (c *Config) validateParity() error {
	if !c.Parity.Enabled {
		return nil
	}
	if c.Parity.RedundancyPercent < 5 || c.Parity.RedundancyPercent > 64 {
		return errors.New("parity.redundancy_percent must be between 5 and 64")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	return nil
}
