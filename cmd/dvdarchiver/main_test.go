package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// writeTestConfig writes a minimal config pointing every path at temp
// directories and returns its location.
func writeTestConfig(t *testing.T) string {
	t.Helper()
	base := t.TempDir()
	content := fmt.Sprintf(`[paths]
archive_dir = %q
log_dir = %q
source_dirs = [%q]
`,
		filepath.Join(base, "archive"),
		filepath.Join(base, "logs"),
		filepath.Join(base, "source"),
	)
	path := filepath.Join(base, "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func runCLI(t *testing.T, configPath string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(append([]string{"--config", configPath}, args...))
	err := cmd.Execute()
	return buf.String(), err
}

func requireContains(t *testing.T, output, want string) {
	t.Helper()
	if !strings.Contains(output, want) {
		t.Fatalf("output missing %q:\n%s", want, output)
	}
}

func TestRootShowsHelp(t *testing.T) {
	out, err := runCLI(t, writeTestConfig(t))
	if err != nil {
		t.Fatalf("root command: %v", err)
	}
	requireContains(t, out, "Archive DVDs")
	requireContains(t, out, "run")
	requireContains(t, out, "copy")
}

func TestStatusEmptyState(t *testing.T) {
	out, err := runCLI(t, writeTestConfig(t), "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "No discs archived yet.")
}

func TestHistoryEmpty(t *testing.T) {
	out, err := runCLI(t, writeTestConfig(t), "history")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	requireContains(t, out, "No runs recorded yet.")
}

func TestConfigShowPrintsEffectiveConfig(t *testing.T) {
	out, err := runCLI(t, writeTestConfig(t), "config", "show")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	requireContains(t, out, "[paths]")
	requireContains(t, out, "[imaging]")
}
