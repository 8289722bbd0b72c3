// Package testsupport provides shared helpers for package tests.
package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dreamworks2050/dvd-archiver/internal/archive"
	"github.com/dreamworks2050/dvd-archiver/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.ArchiveDir = filepath.Join(base, "archive")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.SourceDirs = []string{filepath.Join(base, "source")}
	cfg.Parity.Enabled = false

	for _, opt := range opts {
		opt(&cfg)
	}

	for _, dir := range append([]string{cfg.Paths.ArchiveDir, cfg.Paths.LogDir}, cfg.Paths.SourceDirs...) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("create test directory %s: %v", dir, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("test config invalid: %v", err)
	}
	return &cfg
}

// WithParity enables parity generation in the test config.
func WithParity() ConfigOption {
	return func(cfg *config.Config) {
		cfg.Parity.Enabled = true
	}
}

// NewStore opens an archive store rooted in the test config's archive
// directory and closes it when the test finishes.
func NewStore(t testing.TB, cfg *config.Config) *archive.Store {
	t.Helper()
	store, err := archive.Open(cfg.StatePath())
	if err != nil {
		t.Fatalf("open archive store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close archive store: %v", err)
		}
	})
	return store
}
