package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeImaging()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.ArchiveDir) == "" {
		c.Paths.ArchiveDir = defaultArchiveDir
	}
	if value, ok := os.LookupEnv("DVD_ARCHIVE_BASE"); ok && strings.TrimSpace(value) != "" {
		c.Paths.ArchiveDir = value
	}
	if c.Paths.ArchiveDir, err = expandPath(c.Paths.ArchiveDir); err != nil {
		return fmt.Errorf("paths.archive_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}

	sources := make([]string, 0, len(c.Paths.SourceDirs))
	for _, dir := range c.Paths.SourceDirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		expanded, err := expandPath(dir)
		if err != nil {
			return fmt.Errorf("paths.source_dirs: %w", err)
		}
		sources = append(sources, expanded)
	}
	c.Paths.SourceDirs = sources
	return nil
}

func (c *Config) normalizeImaging() {
	c.Imaging.Mode = strings.ToLower(strings.TrimSpace(c.Imaging.Mode))
	if c.Imaging.Mode == "" {
		if value, ok := os.LookupEnv("DVD_MODE"); ok {
			c.Imaging.Mode = strings.ToLower(strings.TrimSpace(value))
		}
	}
	if c.Imaging.Mode == "" {
		c.Imaging.Mode = defaultMode
	}
	c.Imaging.OpticalDrive = strings.TrimSpace(c.Imaging.OpticalDrive)
	if c.Imaging.OpticalDrive == "" {
		c.Imaging.OpticalDrive = defaultOpticalDrive
	}
	if c.Imaging.RetryPasses <= 0 {
		c.Imaging.RetryPasses = defaultRetryPasses
	}
	if c.Imaging.SectorSize <= 0 {
		c.Imaging.SectorSize = defaultSectorSize
	}
	if c.Imaging.ClusterSize <= 0 {
		c.Imaging.ClusterSize = defaultClusterSize
	}
	if c.Imaging.DeviceTimeout <= 0 {
		c.Imaging.DeviceTimeout = defaultDeviceTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
