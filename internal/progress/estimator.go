// Package progress turns polled byte counts into smoothed throughput and
// percent-complete estimates for long-running archival operations.
package progress

import (
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

// WindowSize bounds the sample buffer; at the default 0.5s cadence this
// covers roughly the last ten seconds of activity.
const WindowSize = 20

// DefaultInterval is the sampling cadence for file-size polling.
const DefaultInterval = 500 * time.Millisecond

type sample struct {
	at    time.Time
	bytes int64
}

// Estimator consumes a time-ordered stream of byte samples for one operation.
// Construct a fresh instance per step invocation; state never crosses units.
type Estimator struct {
	mu     sync.Mutex
	total  int64
	window []sample
}

// NewEstimator returns an estimator for an operation expected to produce
// totalBytes. Pass 0 when the total is unknown; Percent then reports
// unavailable instead of extrapolating.
func NewEstimator(totalBytes int64) *Estimator {
	return &Estimator{total: totalBytes, window: make([]sample, 0, WindowSize)}
}

// Observe appends one (timestamp, observedBytes) sample, evicting the oldest
// entry once the window is full.
func (e *Estimator) Observe(at time.Time, bytes int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.window) == WindowSize {
		copy(e.window, e.window[1:])
		e.window = e.window[:WindowSize-1]
	}
	e.window = append(e.window, sample{at: at, bytes: bytes})
}

// Rate reports the throughput in bytes per second computed across the
// retained window. ok is false while the window holds fewer than two samples
// or no measurable time has elapsed.
func (e *Estimator) Rate() (bytesPerSecond float64, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.window) < 2 {
		return 0, false
	}
	oldest := e.window[0]
	latest := e.window[len(e.window)-1]
	elapsed := latest.at.Sub(oldest.at).Seconds()
	if elapsed <= 0 {
		return 0, false
	}
	delta := latest.bytes - oldest.bytes
	if delta < 0 {
		delta = 0
	}
	return float64(delta) / elapsed, true
}

// Percent reports completion clamped to [0, 100]. ok is false when the total
// is unknown or no sample has been observed yet.
func (e *Estimator) Percent() (percent float64, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.total <= 0 || len(e.window) == 0 {
		return 0, false
	}
	latest := e.window[len(e.window)-1]
	percent = float64(latest.bytes) / float64(e.total) * 100
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	return percent, true
}

// Summary renders the current estimate for step messages, e.g.
// "2.5 MB/s, 42.1%". Unknown components are omitted.
func (e *Estimator) Summary() string {
	rate, rateOK := e.Rate()
	percent, percentOK := e.Percent()
	switch {
	case rateOK && percentOK:
		return fmt.Sprintf("%s/s, %.1f%%", humanize.Bytes(uint64(rate)), percent)
	case rateOK:
		return fmt.Sprintf("%s/s", humanize.Bytes(uint64(rate)))
	case percentOK:
		return fmt.Sprintf("%.1f%%", percent)
	default:
		return "starting"
	}
}
