package archive

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/dreamworks2050/dvd-archiver/internal/fileutil"
	"github.com/dreamworks2050/dvd-archiver/internal/naming"
)

var (
	// ErrCorruptState indicates the snapshot exists but cannot be parsed.
	// The operator decides whether to repair or start fresh; the store never
	// discards it.
	ErrCorruptState = errors.New("archive state corrupt")
	// ErrCommitFailed indicates the durable write could not complete. The
	// previously committed snapshot is intact and the attempted unit is not
	// considered processed.
	ErrCommitFailed = errors.New("archive commit failed")
	// ErrLocked indicates another process holds the store.
	ErrLocked = errors.New("archive store already in use")
)

// Store is the durable archive state. One unit is in flight per store
// instance; an flock beside the snapshot enforces that across processes.
type Store struct {
	path string
	lock *flock.Flock

	mu    sync.RWMutex
	state *State
}

// Open locks and loads the store at path. A missing snapshot yields an empty
// state; a malformed one returns ErrCorruptState and releases the lock.
func Open(path string) (*Store, error) {
	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire archive lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrLocked, path)
	}

	state, err := load(path)
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}
	return &Store{path: path, lock: lock, state: state}, nil
}

// Close releases the store lock.
func (s *Store) Close() error {
	if s == nil || s.lock == nil {
		return nil
	}
	return s.lock.Unlock()
}

// Path returns the canonical snapshot location.
func (s *Store) Path() string {
	return s.path
}

// Query returns the completed record for identifier, if present.
func (s *Store) Query(identifier string) (CompletedRecord, bool) {
	s.mu.RLock()
	state := s.state
	s.mu.RUnlock()
	rec, ok := state.Discs[identifier]
	return rec, ok
}

// Snapshot returns the current immutable state for read-only inspection.
func (s *Store) Snapshot() *State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// LowestUnprocessed returns the smallest discovered identifier (by integer
// value) that has no completed record. ok is false when every discovered
// identifier is already completed.
func (s *Store) LowestUnprocessed(discovered []string) (string, bool) {
	s.mu.RLock()
	state := s.state
	s.mu.RUnlock()

	best := ""
	bestValue := 0
	for _, id := range discovered {
		if _, done := state.Discs[id]; done {
			continue
		}
		value, err := naming.Value(id)
		if err != nil {
			continue
		}
		if best == "" || value < bestValue {
			best = id
			bestValue = value
		}
	}
	return best, best != ""
}

// CommitUnit merges one completed record and the source statistics increment,
// then performs the full-snapshot durable write. The record fully replaces
// any prior entry for the identifier; stale failure metadata is dropped. On
// write failure the in-memory state continues to reflect only prior durable
// commits.
func (s *Store) CommitUnit(record CompletedRecord, source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.state.clone()
	next.Discs[record.Identifier] = record
	delete(next.LastErrors, record.Identifier)

	stats := next.PathStatistics[source]
	stats.FoldersProcessed++
	stats.DiscsProcessed += len(record.Files)
	next.PathStatistics[source] = stats

	if err := s.persist(next); err != nil {
		return fmt.Errorf("%w: %v", ErrCommitFailed, err)
	}
	s.state = next
	return nil
}

// RecordFailure durably notes a failed run for the identifier using the same
// atomic write discipline as CommitUnit. The completed mapping is untouched.
func (s *Store) RecordFailure(identifier, source, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.state.clone()
	next.LastErrors[identifier] = LastError{
		Message:   message,
		Timestamp: Timestamp(time.Now()),
	}
	stats := next.PathStatistics[source]
	stats.Failed++
	next.PathStatistics[source] = stats

	if err := s.persist(next); err != nil {
		return fmt.Errorf("%w: %v", ErrCommitFailed, err)
	}
	s.state = next
	return nil
}

func (s *Store) persist(state *State) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return fileutil.WriteFileAtomic(s.path, data, 0o644)
}

func load(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return newState(), nil
		}
		return nil, fmt.Errorf("read archive state: %w", err)
	}

	state := newState()
	if err := json.Unmarshal(data, state); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	if state.Discs == nil {
		state.Discs = map[string]CompletedRecord{}
	}
	if state.PathStatistics == nil {
		state.PathStatistics = map[string]SourceStatistics{}
	}
	if state.LastErrors == nil {
		state.LastErrors = map[string]LastError{}
	}
	return state, nil
}
