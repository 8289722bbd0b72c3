// Package workflow drives one archival unit through its pipeline,
// coordinating the step ledger, the progress estimator and the external
// collaborators, and committing to the archive store only on full success.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dreamworks2050/dvd-archiver/internal/archive"
	"github.com/dreamworks2050/dvd-archiver/internal/config"
	"github.com/dreamworks2050/dvd-archiver/internal/device"
	"github.com/dreamworks2050/dvd-archiver/internal/discovery"
	"github.com/dreamworks2050/dvd-archiver/internal/history"
	"github.com/dreamworks2050/dvd-archiver/internal/imaging"
	"github.com/dreamworks2050/dvd-archiver/internal/ledger"
	"github.com/dreamworks2050/dvd-archiver/internal/logging"
	"github.com/dreamworks2050/dvd-archiver/internal/naming"
	"github.com/dreamworks2050/dvd-archiver/internal/parity"
)

// Error classification for terminal unit outcomes. Device, imaging and
// naming sentinels are shared so errors.Is works across package boundaries.
var (
	ErrNoIdentifier      = naming.ErrNoIdentifier
	ErrDeviceNotFound    = device.ErrNotFound
	ErrAcquisitionFailed = imaging.ErrAcquisitionFailed
	ErrCommitFailed      = archive.ErrCommitFailed

	// ErrPreflightFailed indicates a required tool or directory check failed
	// before any work started.
	ErrPreflightFailed = errors.New("preflight checks failed")
	// ErrSourceUnreadable indicates a discovered unit's files cannot be read.
	ErrSourceUnreadable = errors.New("source unreadable")
	// ErrNoWork indicates every discovered unit is already committed.
	ErrNoWork = errors.New("no unprocessed units")
)

// Status is the terminal state of one unit run.
type Status string

const (
	StatusCommitted Status = "committed"
	StatusFailed    Status = "failed"
)

// Outcome summarizes one finished unit run.
type Outcome struct {
	Identifier string
	Title      string
	Status     Status
	Steps      []ledger.Step
	Record     archive.CompletedRecord
	Err        error
}

// deviceInfo and parityProgress keep the pipeline files free of repeated
// collaborator package qualifiers.
type (
	deviceInfo     = device.Info
	parityProgress = parity.ProgressUpdate
)

// Devices is the narrow collaborator surface for optical drive control.
type Devices interface {
	Detect(ctx context.Context) (device.Info, error)
	Unmount(ctx context.Context, dev string) error
	Eject(ctx context.Context, dev string) error
}

// Acquirer runs the two-pass imaging backend.
type Acquirer interface {
	FastPass(ctx context.Context, dev, imagePath, mapPath string, progress func(imaging.ProgressUpdate)) (imaging.Result, error)
	RetryPass(ctx context.Context, dev, imagePath, mapPath string, progress func(imaging.ProgressUpdate)) (imaging.Result, error)
}

// SinglePassAcquirer runs the single-pass imaging backend.
type SinglePassAcquirer interface {
	Acquire(ctx context.Context, dev, outPrefix string, progress func(imaging.ProgressUpdate)) (string, imaging.Result, error)
}

// Hasher produces the checksum sidecar for an artifact.
type Hasher interface {
	WriteSidecar(imagePath string, onBytes func(int64)) (string, error)
}

// Copier copies one source file with byte-progress samples.
type Copier interface {
	Copy(src, dst string, onBytes func(int64)) error
}

// Discoverer lists candidate units under the configured source directories.
type Discoverer interface {
	Scan(sourceDirs []string) ([]discovery.Unit, error)
}

// Collaborators bundles the external interfaces the engine drives. Fields
// irrelevant to the selected pipeline may be nil.
type Collaborators struct {
	Devices    Devices
	Acquirer   Acquirer
	SinglePass SinglePassAcquirer
	Hasher     Hasher
	Parity     parity.Generator
	Copier     Copier
	Discovery  Discoverer
}

// Option configures an engine.
type Option func(*Engine)

// WithJournal records every terminal outcome in the run-history journal.
func WithJournal(journal *history.Store) Option {
	return func(e *Engine) { e.journal = journal }
}

// WithClock overrides time acquisition (for tests).
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithPreflight overrides the preflight check hook (for tests). The returned
// string is a failure summary; empty means all checks passed.
func WithPreflight(check func(imagingRun bool) string) Option {
	return func(e *Engine) {
		if check != nil {
			e.preflight = check
		}
	}
}

// Engine processes exactly one unit per Run call. Units are never processed
// concurrently within one engine; the archive store lock enforces the same
// across processes.
type Engine struct {
	cfg       *config.Config
	store     *archive.Store
	logger    *slog.Logger
	collab    Collaborators
	journal   *history.Store
	now       func() time.Time
	sessionID string
	preflight func(imagingRun bool) string

	mu      sync.Mutex
	current *ledger.Ledger
}

// New constructs an engine. The configuration is an explicit value; the
// engine holds no process-wide mutable state.
func New(cfg *config.Config, store *archive.Store, logger *slog.Logger, collab Collaborators, opts ...Option) *Engine {
	if logger == nil {
		logger = logging.NewNop()
	}
	e := &Engine{
		cfg:       cfg,
		store:     store,
		logger:    logging.WithComponent(logger, "engine"),
		collab:    collab,
		now:       time.Now,
		sessionID: history.NewSessionID(),
	}
	e.preflight = e.runPreflight
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(slog.String(logging.FieldSession, e.sessionID))
	return e
}

// SessionID identifies this engine run in logs and the history journal.
func (e *Engine) SessionID() string {
	return e.sessionID
}

// Steps returns a point-in-time snapshot of the in-flight ledger for
// rendering. Nil when no unit is in flight.
func (e *Engine) Steps() []ledger.Step {
	e.mu.Lock()
	led := e.current
	e.mu.Unlock()
	if led == nil {
		return nil
	}
	return led.Snapshot()
}

func (e *Engine) setCurrent(led *ledger.Ledger) {
	e.mu.Lock()
	e.current = led
	e.mu.Unlock()
}

func (e *Engine) runPreflight(imagingRun bool) string {
	return preflightRun(e.cfg, imagingRun)
}

// finish logs the terminal outcome and appends it to the history journal.
func (e *Engine) finish(ctx context.Context, out Outcome, pipeline string, recoveredBytes int64, started time.Time) Outcome {
	if out.Status == StatusCommitted {
		e.logger.Info("unit committed",
			slog.String(logging.FieldUnit, out.Identifier),
			slog.String("pipeline", pipeline),
		)
	} else {
		e.logger.Error("unit failed",
			slog.String(logging.FieldUnit, out.Identifier),
			slog.String("pipeline", pipeline),
			slog.Any("error", out.Err),
		)
	}

	if e.journal != nil && out.Identifier != "" {
		outcome := history.OutcomeCommitted
		detail := ""
		if out.Status != StatusCommitted {
			outcome = history.OutcomeFailed
			if out.Err != nil {
				detail = out.Err.Error()
			}
		}
		if _, err := e.journal.Append(ctx, history.Run{
			SessionID:      e.sessionID,
			Identifier:     out.Identifier,
			Title:          out.Title,
			Pipeline:       pipeline,
			Outcome:        outcome,
			Detail:         detail,
			RecoveredBytes: recoveredBytes,
			Steps:          out.Steps,
			StartedAt:      started,
			FinishedAt:     e.now(),
		}); err != nil {
			e.logger.Warn("history journal append failed", slog.Any("error", err))
		}
	}
	return out
}

// recordFailure durably notes the failed run when the unit got far enough to
// have an identifier.
func (e *Engine) recordFailure(identifier, source string, failure error) {
	if identifier == "" || e.store == nil {
		return
	}
	message := "unit failed"
	if failure != nil {
		message = failure.Error()
	}
	if err := e.store.RecordFailure(identifier, source, message); err != nil {
		e.logger.Warn("failure metadata write failed",
			slog.String(logging.FieldUnit, identifier),
			slog.Any("error", err),
		)
	}
}

func shortDigest(digest string) string {
	if len(digest) <= 16 {
		return digest
	}
	return digest[:16] + "..."
}

func stepFailMessage(err error) string {
	if err == nil {
		return "failed"
	}
	return strings.TrimSpace(err.Error())
}

// mustTransition applies a ledger transition that cannot legally fail given
// the engine's linear control flow; a failure is a pipeline definition bug.
func (e *Engine) mustTransition(err error) {
	if err != nil {
		panic(fmt.Sprintf("workflow: ledger transition rejected: %v", err))
	}
}
