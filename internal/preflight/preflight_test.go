package preflight

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCheckBinaries(t *testing.T) {
	binDir := t.TempDir()
	present := filepath.Join(binDir, "present")
	if err := os.WriteFile(present, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}

	results := CheckBinaries([]Requirement{
		{Name: "Present", Command: present},
		{Name: "Missing", Command: "clearly-not-present-binary"},
		{Name: "Optional missing", Command: "also-not-present", Optional: true},
		{Name: "Unconfigured", Command: "  "},
	})
	if len(results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(results))
	}
	if !results[0].Passed {
		t.Fatalf("expected present binary to pass, got %+v", results[0])
	}
	if results[1].Passed || results[1].Detail == "" {
		t.Fatalf("expected missing binary to fail with detail, got %+v", results[1])
	}
	if !results[2].Passed {
		t.Fatalf("expected optional missing binary to pass, got %+v", results[2])
	}
	if results[3].Passed {
		t.Fatalf("expected unconfigured command to fail, got %+v", results[3])
	}
}

func TestCheckDirectoryAccess(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "archive")
	result := CheckDirectoryAccess("Archive directory", dir)
	if !result.Passed {
		t.Fatalf("expected pass, got %+v", result)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("directory was not created: %v", err)
	}

	if result := CheckDirectoryAccess("Archive directory", ""); result.Passed {
		t.Fatalf("expected failure for empty path, got %+v", result)
	}
}

func TestCheckFreeSpace(t *testing.T) {
	orig := statfsFreeBytes
	t.Cleanup(func() { statfsFreeBytes = orig })

	statfsFreeBytes = func(string) (uint64, error) { return 50 << 30, nil }
	if result := CheckFreeSpace("Free space", "/tmp", MinFreeBytes); !result.Passed {
		t.Fatalf("expected pass with ample space, got %+v", result)
	}

	statfsFreeBytes = func(string) (uint64, error) { return 1 << 30, nil }
	result := CheckFreeSpace("Free space", "/tmp", MinFreeBytes)
	if result.Passed {
		t.Fatalf("expected failure with low space, got %+v", result)
	}
	if !strings.Contains(result.Detail, "need") {
		t.Fatalf("detail = %q", result.Detail)
	}

	statfsFreeBytes = func(string) (uint64, error) { return 0, errors.New("boom") }
	if result := CheckFreeSpace("Free space", "/tmp", MinFreeBytes); result.Passed {
		t.Fatalf("expected failure on statfs error, got %+v", result)
	}
}

func TestFailedAndSummary(t *testing.T) {
	results := []Result{
		{Name: "ok", Passed: true},
		{Name: "a", Detail: "binary missing"},
		{Name: "b"},
	}
	failed := Failed(results)
	if len(failed) != 2 {
		t.Fatalf("failed = %+v", failed)
	}
	summary := Summary(failed)
	if summary != "a: binary missing; b: failed" {
		t.Fatalf("summary = %q", summary)
	}
}
