// Package archive persists the durable record of completed units. The
// on-disk snapshot is a single JSON document replaced atomically; readers
// never observe a partially written state.
package archive

import "time"

// FileArtifact is one produced image file with its checksum. Single-disc
// units carry exactly one; multi-disc sets carry an ordered list numbered
// from 1.
type FileArtifact struct {
	Index          int    `json:"index"`
	ArtifactPath   string `json:"artifact_path"`
	ChecksumSHA256 string `json:"checksum_sha256"`
}

// AcquisitionStats captures how the primary artifact was produced.
type AcquisitionStats struct {
	RecoveredBytes  int64   `json:"recovered_bytes"`
	ErrorCount      int64   `json:"error_count"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// CompletedRecord is the durable representation of a successfully finished
// unit. Re-processing a unit replaces its record entirely.
type CompletedRecord struct {
	Identifier  string           `json:"identifier"`
	Title       string           `json:"title"`
	Source      string           `json:"source"`
	Files       []FileArtifact   `json:"files"`
	ParityPath  string           `json:"parity_path,omitempty"`
	Acquisition AcquisitionStats `json:"ddrescue"`
	StartedAt   string           `json:"started_at"`
	FinishedAt  string           `json:"finished_at"`
}

// SourceStatistics aggregates monotonic counters per source origin.
type SourceStatistics struct {
	FoldersProcessed int `json:"folders_processed"`
	DiscsProcessed   int `json:"discs_processed"`
	Failed           int `json:"failed"`
}

// LastError records why a unit's most recent run failed.
type LastError struct {
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// State is the full durable store content. Published State values are
// immutable; mutations build a new value and swap it in.
type State struct {
	Discs          map[string]CompletedRecord  `json:"discs"`
	PathStatistics map[string]SourceStatistics `json:"path_statistics"`
	LastErrors     map[string]LastError        `json:"last_errors,omitempty"`
}

func newState() *State {
	return &State{
		Discs:          map[string]CompletedRecord{},
		PathStatistics: map[string]SourceStatistics{},
		LastErrors:     map[string]LastError{},
	}
}

// clone deep-copies the state so the published value stays immutable.
func (s *State) clone() *State {
	next := &State{
		Discs:          make(map[string]CompletedRecord, len(s.Discs)),
		PathStatistics: make(map[string]SourceStatistics, len(s.PathStatistics)),
		LastErrors:     make(map[string]LastError, len(s.LastErrors)),
	}
	for id, rec := range s.Discs {
		copied := rec
		copied.Files = append([]FileArtifact(nil), rec.Files...)
		next.Discs[id] = copied
	}
	for source, stats := range s.PathStatistics {
		next.PathStatistics[source] = stats
	}
	for id, lastErr := range s.LastErrors {
		next.LastErrors[id] = lastErr
	}
	return next
}

// Timestamp renders t in the persisted ISO-8601 form.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
