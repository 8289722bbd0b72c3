package archive_test

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dreamworks2050/dvd-archiver/internal/archive"
)

func openStore(t *testing.T, path string) *archive.Store {
	t.Helper()
	store, err := archive.Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func record(id string) archive.CompletedRecord {
	now := archive.Timestamp(time.Now())
	return archive.CompletedRecord{
		Identifier: id,
		Title:      "Movie_Title",
		Source:     "/dev/sr0",
		Files: []archive.FileArtifact{
			{Index: 1, ArtifactPath: "/tmp/disc_" + id + ".iso", ChecksumSHA256: "abc"},
		},
		StartedAt:  now,
		FinishedAt: now,
	}
}

func TestOpenMissingSnapshotYieldsEmptyState(t *testing.T) {
	store := openStore(t, filepath.Join(t.TempDir(), "archive_log.json"))
	if _, ok := store.Query("0042"); ok {
		t.Fatal("empty store should have no records")
	}
}

func TestOpenRejectsCorruptSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive_log.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("seed corrupt state: %v", err)
	}
	if _, err := archive.Open(path); !errors.Is(err, archive.ErrCorruptState) {
		t.Fatalf("Open = %v, want ErrCorruptState", err)
	}
	// The corrupt file must survive for operator inspection.
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "{not json" {
		t.Fatalf("corrupt snapshot was modified: %q err=%v", data, err)
	}
}

func TestOpenRefusesSecondInstance(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive_log.json")
	openStore(t, path)
	if _, err := archive.Open(path); !errors.Is(err, archive.ErrLocked) {
		t.Fatalf("second Open = %v, want ErrLocked", err)
	}
}

func TestCommitUnitPersistsAndReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive_log.json")
	store := openStore(t, path)

	if err := store.CommitUnit(record("0042"), "/dev/sr0"); err != nil {
		t.Fatalf("CommitUnit failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened := openStore(t, path)
	rec, ok := reopened.Query("0042")
	if !ok {
		t.Fatal("record missing after reload")
	}
	if rec.Title != "Movie_Title" || len(rec.Files) != 1 {
		t.Fatalf("unexpected record: %#v", rec)
	}
	stats := reopened.Snapshot().PathStatistics["/dev/sr0"]
	if stats.FoldersProcessed != 1 || stats.DiscsProcessed != 1 {
		t.Fatalf("unexpected stats: %#v", stats)
	}
}

func TestCommitUnitOverwritesWithoutMerge(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive_log.json")
	store := openStore(t, path)

	first := record("0042")
	first.ParityPath = "/tmp/disc_0042.iso.ecc"
	first.Acquisition = archive.AcquisitionStats{RecoveredBytes: 100, ErrorCount: 3}
	if err := store.CommitUnit(first, "/dev/sr0"); err != nil {
		t.Fatalf("CommitUnit failed: %v", err)
	}

	second := record("0042")
	second.Title = "Retitled"
	if err := store.CommitUnit(second, "/dev/sr0"); err != nil {
		t.Fatalf("CommitUnit replace failed: %v", err)
	}

	rec, _ := store.Query("0042")
	if rec.Title != "Retitled" {
		t.Fatalf("title = %q", rec.Title)
	}
	if rec.ParityPath != "" || rec.Acquisition.ErrorCount != 0 {
		t.Fatalf("old fields leaked into new record: %#v", rec)
	}
}

func TestCommitFailureLeavesPriorSnapshotIntact(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("directory permissions do not restrict root")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "archive_log.json")
	store := openStore(t, path)
	if err := store.CommitUnit(record("0042"), "/dev/sr0"); err != nil {
		t.Fatalf("CommitUnit failed: %v", err)
	}

	// Make the directory read-only so the temp-file write fails mid-commit.
	if err := os.Chmod(dir, 0o555); err != nil {
		t.Fatalf("chmod: %v", err)
	}
	t.Cleanup(func() { _ = os.Chmod(dir, 0o755) })

	err := store.CommitUnit(record("0100"), "/dev/sr0")
	if !errors.Is(err, archive.ErrCommitFailed) {
		t.Fatalf("CommitUnit = %v, want ErrCommitFailed", err)
	}
	if _, ok := store.Query("0100"); ok {
		t.Fatal("failed commit must not appear in memory")
	}

	_ = os.Chmod(dir, 0o755)
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	reopened := openStore(t, path)
	if _, ok := reopened.Query("0100"); ok {
		t.Fatal("failed commit must not appear on disk")
	}
	if _, ok := reopened.Query("0042"); !ok {
		t.Fatal("prior commit lost")
	}
}

func TestInterruptedWriteBeforeRenameIsInvisible(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "archive_log.json")
	store := openStore(t, path)
	if err := store.CommitUnit(record("0042"), "/dev/sr0"); err != nil {
		t.Fatalf("CommitUnit failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// A crash between temp-file write and rename leaves a stray temp file.
	// Reloading must yield exactly the committed snapshot.
	stray := filepath.Join(dir, "archive_log.json.tmp-crashed")
	if err := os.WriteFile(stray, []byte(`{"discs":{"0999":{}}}`), 0o644); err != nil {
		t.Fatalf("seed stray temp file: %v", err)
	}

	reopened := openStore(t, path)
	if _, ok := reopened.Query("0999"); ok {
		t.Fatal("stray temp file leaked into state")
	}
	if _, ok := reopened.Query("0042"); !ok {
		t.Fatal("committed record missing")
	}
}

func TestSnapshotOnDiskIsAlwaysParseable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive_log.json")
	store := openStore(t, path)
	if err := store.CommitUnit(record("0042"), "/dev/sr0"); err != nil {
		t.Fatalf("CommitUnit failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("snapshot is not valid JSON: %v", err)
	}
	for _, key := range []string{"discs", "path_statistics"} {
		if _, ok := doc[key]; !ok {
			t.Fatalf("snapshot missing %q section", key)
		}
	}
}

func TestLowestUnprocessed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive_log.json")
	store := openStore(t, path)
	if err := store.CommitUnit(record("0042"), "/src"); err != nil {
		t.Fatalf("CommitUnit failed: %v", err)
	}

	next, ok := store.LowestUnprocessed([]string{"0042", "0200", "0100"})
	if !ok || next != "0100" {
		t.Fatalf("LowestUnprocessed = %q ok=%v, want 0100", next, ok)
	}

	if _, ok := store.LowestUnprocessed([]string{"0042"}); ok {
		t.Fatal("expected no work when everything is completed")
	}
}

func TestRecordFailureKeepsCompletedMappingClean(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive_log.json")
	store := openStore(t, path)

	if err := store.RecordFailure("0042", "/dev/sr0", "no artifact produced"); err != nil {
		t.Fatalf("RecordFailure failed: %v", err)
	}
	if _, ok := store.Query("0042"); ok {
		t.Fatal("failed unit must not enter the completed mapping")
	}
	state := store.Snapshot()
	if state.LastErrors["0042"].Message != "no artifact produced" {
		t.Fatalf("last error missing: %#v", state.LastErrors)
	}
	if state.PathStatistics["/dev/sr0"].Failed != 1 {
		t.Fatalf("failed counter = %d", state.PathStatistics["/dev/sr0"].Failed)
	}

	// A later successful commit clears the failure metadata.
	if err := store.CommitUnit(record("0042"), "/dev/sr0"); err != nil {
		t.Fatalf("CommitUnit failed: %v", err)
	}
	if _, ok := store.Snapshot().LastErrors["0042"]; ok {
		t.Fatal("stale failure metadata survived a successful commit")
	}
}
