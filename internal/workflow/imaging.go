package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dreamworks2050/dvd-archiver/internal/archive"
	"github.com/dreamworks2050/dvd-archiver/internal/config"
	"github.com/dreamworks2050/dvd-archiver/internal/fileutil"
	"github.com/dreamworks2050/dvd-archiver/internal/imaging"
	"github.com/dreamworks2050/dvd-archiver/internal/ledger"
	"github.com/dreamworks2050/dvd-archiver/internal/logging"
	"github.com/dreamworks2050/dvd-archiver/internal/naming"
	"github.com/dreamworks2050/dvd-archiver/internal/preflight"
	"github.com/dreamworks2050/dvd-archiver/internal/progress"
)

func preflightRun(cfg *config.Config, imagingRun bool) string {
	failed := preflight.Failed(preflight.RunAll(cfg, imagingRun))
	if len(failed) == 0 {
		return ""
	}
	return preflight.Summary(failed)
}

// unitPaths lays out the per-unit output files under the archive root.
type unitPaths struct {
	dir       string
	prefix    string
	imagePath string
	mapPath   string
	infoPath  string
}

func (e *Engine) pathsFor(identifier string) unitPaths {
	dir := filepath.Join(e.cfg.Paths.ArchiveDir, "disc_"+identifier)
	prefix := filepath.Join(dir, "disc_"+identifier)
	return unitPaths{
		dir:       dir,
		prefix:    prefix,
		imagePath: prefix + ".iso",
		mapPath:   prefix + ".log",
		infoPath:  prefix + "_info.txt",
	}
}

// prepareUnitDir creates the unit output directory, clearing any artifacts a
// previous run left behind.
func prepareUnitDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create unit directory: %w", err)
	}
	if err := fileutil.ClearDirectory(dir); err != nil {
		return fmt.Errorf("clear stale outputs: %w", err)
	}
	return nil
}

// RunImaging archives the disc currently in the configured drive. One unit
// per call; the outcome is terminal (Committed or Failed).
func (e *Engine) RunImaging(ctx context.Context) Outcome {
	mode := e.cfg.Imaging.Mode
	led := ledger.New(ImagingPipeline(mode))
	e.setCurrent(led)
	started := e.now()
	out := Outcome{Status: StatusFailed}
	drive := e.cfg.Imaging.OpticalDrive

	fail := func(recovered int64) Outcome {
		e.ejectAfterFailure(ctx, led, drive)
		out.Steps = led.Snapshot()
		e.recordFailure(out.Identifier, drive, out.Err)
		return e.finish(ctx, out, "imaging", recovered, started)
	}

	// Detect: preflight, device probe, identifier extraction, info capture.
	e.mustTransition(led.Begin(StepDetect))
	if summary := e.preflight(true); summary != "" {
		e.mustTransition(led.Fail(StepDetect, summary))
		out.Err = fmt.Errorf("%w: %s", ErrPreflightFailed, summary)
		return fail(0)
	}
	info, err := e.collab.Devices.Detect(ctx)
	if err != nil {
		e.mustTransition(led.Fail(StepDetect, stepFailMessage(err)))
		out.Err = err
		return fail(0)
	}
	unit, err := naming.Extract(info.Label)
	if err != nil {
		e.mustTransition(led.Fail(StepDetect, stepFailMessage(err)))
		out.Err = err
		return fail(0)
	}
	out.Identifier = unit.Identifier
	out.Title = unit.Title
	logger := e.logger.With(slog.String(logging.FieldUnit, unit.Identifier))
	logger.Info("disc detected",
		slog.String("device", info.Device),
		slog.String("label", info.Label),
		slog.Int64("capacity_bytes", info.CapacityBytes),
	)

	paths := e.pathsFor(unit.Identifier)
	if err := prepareUnitDir(paths.dir); err != nil {
		e.mustTransition(led.Fail(StepDetect, stepFailMessage(err)))
		out.Err = err
		return fail(0)
	}
	e.writeInfoFile(paths.infoPath, info)
	e.mustTransition(led.Complete(StepDetect, fmt.Sprintf("%s (%s)", info.Device, info.Label)))

	// Unmount: drives often hold no mounted filesystem, so a failure here is
	// reported but does not abort the run.
	e.mustTransition(led.Begin(StepUnmount))
	if err := e.collab.Devices.Unmount(ctx, info.Device); err != nil {
		logger.Warn("unmount failed, continuing", slog.Any("error", err))
		e.mustTransition(led.Complete(StepUnmount, "failed (continuing)"))
	} else {
		e.mustTransition(led.Complete(StepUnmount, "unmounted"))
	}

	// Acquire.
	var stats archive.AcquisitionStats
	acquireStarted := e.now()
	var acquireErr error
	if mode == config.ModeHDIUtil {
		stats, acquireErr = e.acquireSinglePass(ctx, led, info, paths)
	} else {
		stats, acquireErr = e.acquireTwoPass(ctx, led, info, paths)
	}
	stats.DurationSeconds = e.now().Sub(acquireStarted).Seconds()
	if acquireErr != nil {
		out.Err = acquireErr
		return fail(stats.RecoveredBytes)
	}

	// Checksum.
	digest, err := e.checksumStep(led, paths.imagePath)
	if err != nil {
		out.Err = err
		return fail(stats.RecoveredBytes)
	}

	// Parity.
	parityPath := e.parityStep(ctx, led, logger, paths.imagePath)

	// Eject.
	e.ejectStep(ctx, led, drive)

	record := archive.CompletedRecord{
		Identifier: unit.Identifier,
		Title:      unit.Title,
		Source:     drive,
		Files: []archive.FileArtifact{
			{Index: 1, ArtifactPath: paths.imagePath, ChecksumSHA256: digest},
		},
		ParityPath:  parityPath,
		Acquisition: stats,
		StartedAt:   archive.Timestamp(started),
		FinishedAt:  archive.Timestamp(e.now()),
	}

	if !led.Succeeded() {
		out.Steps = led.Snapshot()
		out.Err = fmt.Errorf("pipeline did not succeed")
		e.recordFailure(out.Identifier, drive, out.Err)
		return e.finish(ctx, out, "imaging", stats.RecoveredBytes, started)
	}
	if err := e.store.CommitUnit(record, drive); err != nil {
		out.Steps = led.Snapshot()
		out.Err = err
		e.recordFailure(out.Identifier, drive, err)
		return e.finish(ctx, out, "imaging", stats.RecoveredBytes, started)
	}

	out.Status = StatusCommitted
	out.Record = record
	out.Err = nil
	out.Steps = led.Snapshot()
	return e.finish(ctx, out, "imaging", stats.RecoveredBytes, started)
}

// acquireTwoPass drives ddrescue: a fast sweep that skips bad regions, then
// a bounded retry pass over whatever the sweep left behind. Residual errors
// with a usable artifact degrade the unit, they do not fail it.
func (e *Engine) acquireTwoPass(ctx context.Context, led *ledger.Ledger, info deviceInfo, paths unitPaths) (archive.AcquisitionStats, error) {
	var stats archive.AcquisitionStats

	// One watcher per pass, each bound to its own step name. A straggling
	// sample after cancellation lands on a step that is no longer running
	// and SetMessage drops it.
	est := progress.NewEstimator(info.CapacityBytes)
	watch := func(step string) context.CancelFunc {
		watchCtx, cancel := context.WithCancel(ctx)
		go progress.WatchFile(watchCtx, paths.imagePath, est, progress.DefaultInterval, func(summary string) {
			led.SetMessage(step, summary)
		})
		return cancel
	}

	e.mustTransition(led.Begin(StepAcquireFast))
	cancelWatch := watch(StepAcquireFast)
	fastResult, err := e.collab.Acquirer.FastPass(ctx, info.Device, paths.imagePath, paths.mapPath, nil)
	cancelWatch()
	if err != nil {
		e.mustTransition(led.Fail(StepAcquireFast, stepFailMessage(err)))
		return stats, err
	}
	stats.RecoveredBytes = recoveredBytes(fastResult, paths.imagePath)
	stats.ErrorCount = int64(fastResult.ErrorCount)

	if fastResult.ErrorCount == 0 {
		e.mustTransition(led.Complete(StepAcquireFast, "clean pass"))
		e.mustTransition(led.Skip(StepAcquireRetry, "no read errors"))
		return stats, nil
	}
	e.mustTransition(led.Complete(StepAcquireFast, fmt.Sprintf("%d regions unread", fastResult.ErrorCount)))

	e.mustTransition(led.Begin(StepAcquireRetry))
	cancelWatch = watch(StepAcquireRetry)
	retryResult, err := e.collab.Acquirer.RetryPass(ctx, info.Device, paths.imagePath, paths.mapPath, nil)
	cancelWatch()
	if err != nil {
		e.mustTransition(led.Fail(StepAcquireRetry, stepFailMessage(err)))
		return stats, err
	}
	stats.RecoveredBytes = recoveredBytes(retryResult, paths.imagePath)
	stats.ErrorCount = int64(retryResult.ErrorCount)

	residual := retryResult.ErrorCount
	switch {
	case residual == 0:
		e.mustTransition(led.Complete(StepAcquireRetry, "all regions recovered"))
	case e.cfg.Imaging.MaxErrors > 0 && residual > e.cfg.Imaging.MaxErrors:
		message := fmt.Sprintf("%d unresolved errors exceed limit %d", residual, e.cfg.Imaging.MaxErrors)
		e.mustTransition(led.Fail(StepAcquireRetry, message))
		return stats, fmt.Errorf("%w: %s", ErrAcquisitionFailed, message)
	case stats.RecoveredBytes > 0:
		e.mustTransition(led.Complete(StepAcquireRetry, fmt.Sprintf("degraded: %d unresolved errors", residual)))
	default:
		e.mustTransition(led.Fail(StepAcquireRetry, "no usable artifact produced"))
		return stats, fmt.Errorf("%w: no usable artifact produced", ErrAcquisitionFailed)
	}
	return stats, nil
}

// acquireSinglePass drives the hdiutil backend, watching the growing .cdr
// container for progress samples.
func (e *Engine) acquireSinglePass(ctx context.Context, led *ledger.Ledger, info deviceInfo, paths unitPaths) (archive.AcquisitionStats, error) {
	var stats archive.AcquisitionStats

	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()
	est := progress.NewEstimator(info.CapacityBytes)
	go progress.WatchFile(watchCtx, paths.prefix+".cdr", est, progress.DefaultInterval, func(summary string) {
		led.SetMessage(StepAcquireFast, summary)
	})

	e.mustTransition(led.Begin(StepAcquireFast))
	isoPath, result, err := e.collab.SinglePass.Acquire(ctx, info.Device, paths.prefix, nil)
	if err != nil {
		e.mustTransition(led.Fail(StepAcquireFast, stepFailMessage(err)))
		return stats, err
	}
	stats.RecoveredBytes = recoveredBytes(result, isoPath)
	e.mustTransition(led.Complete(StepAcquireFast, "imaged"))
	return stats, nil
}

func (e *Engine) checksumStep(led *ledger.Ledger, imagePath string) (string, error) {
	e.mustTransition(led.Begin(StepChecksum))
	total := fileutil.FileSize(imagePath)
	est := progress.NewEstimator(total)
	sampler := logging.NewProgressSampler(5)
	digest, err := e.collab.Hasher.WriteSidecar(imagePath, func(n int64) {
		est.Observe(e.now(), n)
		if percent, ok := est.Percent(); ok && sampler.ShouldLog(percent, StepChecksum) {
			led.SetMessage(StepChecksum, est.Summary())
		}
	})
	if err != nil {
		e.mustTransition(led.Fail(StepChecksum, stepFailMessage(err)))
		return "", err
	}
	e.mustTransition(led.Complete(StepChecksum, shortDigest(digest)))
	return digest, nil
}

// parityStep generates the parity artifact when enabled and available.
// Generation problems skip the step; a missing parity file never fails a
// unit.
func (e *Engine) parityStep(ctx context.Context, led *ledger.Ledger, logger *slog.Logger, imagePath string) string {
	if !e.cfg.Parity.Enabled {
		e.mustTransition(led.Skip(StepParity, "disabled"))
		return ""
	}
	e.mustTransition(led.Begin(StepParity))
	gen := e.collab.Parity
	if gen == nil || !gen.Available() {
		e.mustTransition(led.Skip(StepParity, "dvdisaster not available"))
		return ""
	}
	parityPath, err := gen.Generate(ctx, imagePath, func(update parityProgress) {
		led.SetMessage(StepParity, update.Message)
	})
	if err != nil {
		logger.Warn("parity generation failed", slog.Any("error", err))
		e.mustTransition(led.Skip(StepParity, stepFailMessage(err)))
		return ""
	}
	e.mustTransition(led.Complete(StepParity, "created"))
	return parityPath
}

// ejectStep releases the disc on the success path.
func (e *Engine) ejectStep(ctx context.Context, led *ledger.Ledger, drive string) {
	e.mustTransition(led.Begin(StepEject))
	if err := e.collab.Devices.Eject(ctx, drive); err != nil {
		e.mustTransition(led.Skip(StepEject, stepFailMessage(err)))
		return
	}
	e.mustTransition(led.Complete(StepEject, "ejected"))
}

// ejectAfterFailure attempts the cleanup eject once a primary step has
// failed. Best effort: its own failure is only logged.
func (e *Engine) ejectAfterFailure(ctx context.Context, led *ledger.Ledger, drive string) {
	if e.collab.Devices == nil {
		return
	}
	if err := led.Begin(StepEject); err != nil {
		return
	}
	if err := e.collab.Devices.Eject(ctx, drive); err != nil {
		e.logger.Warn("cleanup eject failed", slog.Any("error", err))
		_ = led.Skip(StepEject, stepFailMessage(err))
		return
	}
	_ = led.Complete(StepEject, "ejected")
}

func (e *Engine) writeInfoFile(path string, info deviceInfo) {
	report := fmt.Sprintf(
		"device: %s\nlabel: %s\nfilesystem: %s\ncapacity_bytes: %d\ndetected_at: %s\n",
		info.Device, info.Label, info.FSType, info.CapacityBytes, archive.Timestamp(e.now()),
	)
	if err := fileutil.WriteFileAtomic(path, []byte(report), 0o644); err != nil {
		e.logger.Warn("info capture failed", slog.Any("error", err))
	}
}

// recoveredBytes prefers the artifact size on disk over the tool's parsed
// byte report, which rounds to SI units.
func recoveredBytes(result imaging.Result, imagePath string) int64 {
	if size := fileutil.FileSize(imagePath); size > 0 {
		return size
	}
	return result.RescuedBytes
}
