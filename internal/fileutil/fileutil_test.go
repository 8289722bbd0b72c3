package fileutil_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dreamworks2050/dvd-archiver/internal/fileutil"
)

func TestWriteFileAtomicReplacesContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	if err := fileutil.WriteFileAtomic(path, []byte("first"), 0o644); err != nil {
		t.Fatalf("WriteFileAtomic failed: %v", err)
	}
	if err := fileutil.WriteFileAtomic(path, []byte("second"), 0o644); err != nil {
		t.Fatalf("WriteFileAtomic replace failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != "second" {
		t.Fatalf("unexpected content %q", data)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("temp files left behind: %d entries", len(entries))
	}
}

func TestCopyFileProgressReportsCumulativeBytes(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.iso")
	dst := filepath.Join(dir, "dst.iso")
	payload := make([]byte, 4096)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	if err := os.WriteFile(src, payload, 0o644); err != nil {
		t.Fatalf("seed source: %v", err)
	}

	var last int64
	if err := fileutil.CopyFileProgress(src, dst, func(written int64) {
		if written < last {
			t.Fatalf("progress went backwards: %d after %d", written, last)
		}
		last = written
	}); err != nil {
		t.Fatalf("CopyFileProgress failed: %v", err)
	}
	if last != int64(len(payload)) {
		t.Fatalf("final progress %d, want %d", last, len(payload))
	}

	copied, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("read copy: %v", err)
	}
	if string(copied) != string(payload) {
		t.Fatal("copied content differs from source")
	}
}

func TestClearDirectory(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "disc_0042")
	if err := os.MkdirAll(filepath.Join(target, "nested"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(target, "stale.iso"), []byte("x"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	if err := fileutil.ClearDirectory(target); err != nil {
		t.Fatalf("ClearDirectory failed: %v", err)
	}
	entries, err := os.ReadDir(target)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty directory, found %d entries", len(entries))
	}

	missing := filepath.Join(dir, "not-there")
	if err := fileutil.ClearDirectory(missing); err != nil {
		t.Fatalf("ClearDirectory on missing dir failed: %v", err)
	}
	if _, err := os.Stat(missing); err != nil {
		t.Fatalf("expected directory to be created: %v", err)
	}
}
