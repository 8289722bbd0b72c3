package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	// ArchiveDir is the destination root; each unit gets a disc_<id> subdirectory.
	ArchiveDir string `toml:"archive_dir"`
	// SourceDirs are scanned by the copy pipeline for pre-existing image folders.
	SourceDirs []string `toml:"source_dirs"`
	LogDir     string   `toml:"log_dir"`
}

// Imaging contains device imaging settings.
type Imaging struct {
	// Mode selects the imaging pipeline: "ddrescue" (fast pass then retries)
	// or "hdiutil" (single pass).
	Mode         string `toml:"mode"`
	OpticalDrive string `toml:"optical_drive"`
	// RetryPasses is the ddrescue retry budget for the second pass.
	RetryPasses int `toml:"retry_passes"`
	SectorSize  int `toml:"sector_size"`
	ClusterSize int `toml:"cluster_size"`
	// MaxErrors rejects an acquisition whose residual error count exceeds it.
	// 0 accepts any artifact with recovered bytes.
	MaxErrors     int `toml:"max_errors"`
	DeviceTimeout int `toml:"device_timeout"`
}

// Parity contains parity artifact generation settings.
type Parity struct {
	Enabled           bool `toml:"enabled"`
	RedundancyPercent int  `toml:"redundancy_percent"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for the archiver.
type Config struct {
	Paths   Paths   `toml:"paths"`
	Imaging Imaging `toml:"imaging"`
	Parity  Parity  `toml:"parity"`
	Logging Logging `toml:"logging"`
}

// ModeDDRescue and ModeHDIUtil are the supported imaging modes.
const (
	ModeDDRescue = "ddrescue"
	ModeHDIUtil  = "hdiutil"
)

// DefaultConfigPath returns the absolute path to the default configuration
// file location.
func DefaultConfigPath() (string, error) {
	return expandPath(filepath.Join(xdg.ConfigHome, "dvd-archiver", "config.toml"))
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("dvd-archiver.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the directories a run needs.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.ArchiveDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// StatePath returns the canonical location of the durable archive snapshot.
func (c *Config) StatePath() string {
	return filepath.Join(c.Paths.ArchiveDir, "archive_log.json")
}

// HistoryDBPath returns the location of the run-history journal.
func (c *Config) HistoryDBPath() string {
	return filepath.Join(c.Paths.LogDir, "history.db")
}

// DDRescueBinary returns the ddrescue executable name.
func (c *Config) DDRescueBinary() string {
	return "ddrescue"
}

// DVDisasterBinary returns the dvdisaster executable name.
func (c *Config) DVDisasterBinary() string {
	return "dvdisaster"
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(os.ExpandEnv(pathValue))
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
