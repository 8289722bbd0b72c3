package progress

import (
	"context"
	"time"

	"github.com/dreamworks2050/dvd-archiver/internal/fileutil"
)

// WatchFile polls the size of path on a fixed cadence, feeding the estimator
// and invoking onSample after each observation. It returns when ctx is
// cancelled; callers run it alongside the external operation that grows the
// file and cancel once the operation signals completion.
func WatchFile(ctx context.Context, path string, est *Estimator, interval time.Duration, onSample func(summary string)) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			size := fileutil.FileSize(path)
			if size == 0 {
				continue
			}
			est.Observe(now, size)
			if onSample != nil {
				onSample(est.Summary())
			}
		}
	}
}
