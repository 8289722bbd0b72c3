// Package ledger records the ordered step statuses for the unit currently in
// flight. A ledger lives for exactly one run and is rebuilt, never resumed.
package ledger

import (
	"errors"
	"fmt"
	"sync"
)

// Status is the lifecycle state of a single pipeline step.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusError   Status = "error"
	StatusSkipped Status = "skipped"
)

// ErrInvalidTransition indicates an out-of-order or repeated step transition.
// These are programming errors in the pipeline driver, not user-facing faults.
var ErrInvalidTransition = errors.New("invalid step transition")

// ErrUnknownStep indicates a step name absent from the pipeline definition.
var ErrUnknownStep = errors.New("unknown step")

// StepDef declares one step of a pipeline.
type StepDef struct {
	Name string
	// Label is the human-readable description shown in status tables.
	Label string
	// Optional steps may be skipped without failing the unit.
	Optional bool
	// Cleanup steps (eject, release) may still begin after a failure.
	Cleanup bool
}

// Step is a point-in-time view of one ledger entry.
type Step struct {
	Name     string `json:"name"`
	Label    string `json:"label"`
	Status   Status `json:"status"`
	Message  string `json:"message,omitempty"`
	Optional bool   `json:"optional,omitempty"`
	Cleanup  bool   `json:"cleanup,omitempty"`
}

// Ledger is the mutable, ordered step record. The engine owns all writes; a
// rendering observer may take snapshots concurrently.
type Ledger struct {
	mu     sync.RWMutex
	steps  []Step
	failed bool
}

// New builds a ledger with every step pending, in declared order.
func New(pipeline []StepDef) *Ledger {
	l := &Ledger{}
	l.Initialize(pipeline)
	return l
}

// Initialize resets the ledger to the given pipeline with all steps pending.
func (l *Ledger) Initialize(pipeline []StepDef) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.steps = make([]Step, 0, len(pipeline))
	for _, def := range pipeline {
		l.steps = append(l.steps, Step{
			Name:     def.Name,
			Label:    def.Label,
			Status:   StatusPending,
			Optional: def.Optional,
			Cleanup:  def.Cleanup,
		})
	}
	l.failed = false
}

// Begin transitions the named step from pending to running. The step must be
// the next non-terminal step in sequence; after a failure only cleanup steps
// may begin.
func (l *Ledger) Begin(name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	idx := l.index(name)
	if idx < 0 {
		return fmt.Errorf("%w: %q", ErrUnknownStep, name)
	}
	step := &l.steps[idx]
	if step.Status != StatusPending {
		return fmt.Errorf("%w: step %q is %s, not pending", ErrInvalidTransition, name, step.Status)
	}
	if l.failed && !step.Cleanup {
		return fmt.Errorf("%w: step %q cannot begin after failure", ErrInvalidTransition, name)
	}
	for i := 0; i < idx; i++ {
		prior := l.steps[i]
		if prior.Status == StatusPending || prior.Status == StatusRunning {
			if l.failed && step.Cleanup {
				continue
			}
			return fmt.Errorf("%w: step %q begun before %q finished", ErrInvalidTransition, name, prior.Name)
		}
	}
	step.Status = StatusRunning
	step.Message = ""
	return nil
}

// Complete transitions a running step to done.
func (l *Ledger) Complete(name, message string) error {
	return l.transition(name, StatusDone, message, StatusRunning)
}

// Fail transitions a running step to error and marks the ledger failed.
func (l *Ledger) Fail(name, message string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	idx := l.index(name)
	if idx < 0 {
		return fmt.Errorf("%w: %q", ErrUnknownStep, name)
	}
	step := &l.steps[idx]
	if step.Status != StatusRunning {
		return fmt.Errorf("%w: cannot fail step %q from %s", ErrInvalidTransition, name, step.Status)
	}
	step.Status = StatusError
	step.Message = message
	l.failed = true
	return nil
}

// Skip transitions a pending or running step to skipped. Skipping an optional
// step does not fail the unit.
func (l *Ledger) Skip(name, message string) error {
	return l.transition(name, StatusSkipped, message, StatusPending, StatusRunning)
}

// SetMessage updates the message of a running step for live progress display.
func (l *Ledger) SetMessage(name, message string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if idx := l.index(name); idx >= 0 && l.steps[idx].Status == StatusRunning {
		l.steps[idx].Message = message
	}
}

// Failed reports whether any step has reached error.
func (l *Ledger) Failed() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.failed
}

// Succeeded reports whether every step is done or an allowed skip. Only true
// once no step remains pending or running.
func (l *Ledger) Succeeded() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.failed {
		return false
	}
	for _, step := range l.steps {
		switch step.Status {
		case StatusDone:
		case StatusSkipped:
			if !step.Optional {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// Snapshot returns a point-in-time copy of every step for rendering. Safe to
// call while the engine mutates the ledger.
func (l *Ledger) Snapshot() []Step {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Step, len(l.steps))
	copy(out, l.steps)
	return out
}

func (l *Ledger) transition(name string, to Status, message string, allowed ...Status) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	idx := l.index(name)
	if idx < 0 {
		return fmt.Errorf("%w: %q", ErrUnknownStep, name)
	}
	step := &l.steps[idx]
	for _, from := range allowed {
		if step.Status == from {
			step.Status = to
			step.Message = message
			return nil
		}
	}
	return fmt.Errorf("%w: cannot move step %q from %s to %s", ErrInvalidTransition, name, step.Status, to)
}

func (l *Ledger) index(name string) int {
	for i := range l.steps {
		if l.steps[i].Name == name {
			return i
		}
	}
	return -1
}
