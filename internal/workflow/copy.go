package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/dreamworks2050/dvd-archiver/internal/archive"
	"github.com/dreamworks2050/dvd-archiver/internal/discovery"
	"github.com/dreamworks2050/dvd-archiver/internal/ledger"
	"github.com/dreamworks2050/dvd-archiver/internal/logging"
	"github.com/dreamworks2050/dvd-archiver/internal/progress"
)

// RunCopy discovers the lowest-numbered unprocessed unit under the source
// directories and archives it. Each call processes exactly one unit, making
// repeated invocations trivially resumable.
func (e *Engine) RunCopy(ctx context.Context) Outcome {
	out := Outcome{Status: StatusFailed}
	started := e.now()

	units, err := e.collab.Discovery.Scan(e.cfg.Paths.SourceDirs)
	if err != nil {
		out.Err = err
		return out
	}
	identifier, ok := e.store.LowestUnprocessed(discovery.Identifiers(units))
	if !ok {
		out.Err = ErrNoWork
		return out
	}
	unit, _ := discovery.Find(units, identifier)
	out.Identifier = unit.Identifier
	out.Title = unit.Title
	logger := e.logger.With(slog.String(logging.FieldUnit, unit.Identifier))

	led := ledger.New(CopyPipeline())
	e.setCurrent(led)

	fail := func(failure error) Outcome {
		out.Err = failure
		out.Steps = led.Snapshot()
		e.recordFailure(unit.Identifier, unit.Source, failure)
		return e.finish(ctx, out, "copy", 0, started)
	}

	// Detect: verify the unit's files are present and readable.
	e.mustTransition(led.Begin(StepDetect))
	if summary := e.preflight(false); summary != "" {
		e.mustTransition(led.Fail(StepDetect, summary))
		return fail(fmt.Errorf("%w: %s", ErrPreflightFailed, summary))
	}
	var totalBytes int64
	for _, file := range unit.Files {
		info, err := os.Stat(file.Path)
		if err != nil || info.Size() == 0 {
			message := fmt.Sprintf("file %s unreadable", filepath.Base(file.Path))
			e.mustTransition(led.Fail(StepDetect, message))
			return fail(fmt.Errorf("%w: %s", ErrSourceUnreadable, file.Path))
		}
		totalBytes += info.Size()
	}
	e.mustTransition(led.Complete(StepDetect, fmt.Sprintf("%s (%d files)", unit.Dir, len(unit.Files))))
	logger.Info("unit selected",
		slog.String("source", unit.Source),
		slog.Int("files", len(unit.Files)),
		slog.Int64("total_bytes", totalBytes),
	)

	paths := e.pathsFor(unit.Identifier)
	if err := prepareUnitDir(paths.dir); err != nil {
		// The output directory failed after detect completed; surface it on
		// the copy step.
		e.mustTransition(led.Begin(StepCopy))
		e.mustTransition(led.Fail(StepCopy, stepFailMessage(err)))
		return fail(err)
	}

	// Copy, in declared file order, with byte-progress estimation over the
	// whole set.
	e.mustTransition(led.Begin(StepCopy))
	est := progress.NewEstimator(totalBytes)
	sampler := logging.NewProgressSampler(5)
	artifacts := make([]archive.FileArtifact, 0, len(unit.Files))
	var copiedBase int64
	for _, file := range unit.Files {
		dst := copyDestination(paths, unit.Identifier, file, len(unit.Files))
		base := copiedBase
		if err := e.collab.Copier.Copy(file.Path, dst, func(written int64) {
			est.Observe(e.now(), base+written)
			if percent, ok := est.Percent(); ok && sampler.ShouldLog(percent, StepCopy) {
				led.SetMessage(StepCopy, est.Summary())
			}
		}); err != nil {
			e.mustTransition(led.Fail(StepCopy, stepFailMessage(err)))
			return fail(fmt.Errorf("%w: %v", ErrSourceUnreadable, err))
		}
		copiedBase += fileSizeOf(file.Path)
		artifacts = append(artifacts, archive.FileArtifact{Index: file.Index, ArtifactPath: dst})
	}
	e.mustTransition(led.Complete(StepCopy, fmt.Sprintf("%d files copied", len(artifacts))))

	// Checksum every copied artifact.
	e.mustTransition(led.Begin(StepChecksum))
	for i := range artifacts {
		digest, err := e.collab.Hasher.WriteSidecar(artifacts[i].ArtifactPath, nil)
		if err != nil {
			e.mustTransition(led.Fail(StepChecksum, stepFailMessage(err)))
			return fail(err)
		}
		artifacts[i].ChecksumSHA256 = digest
	}
	e.mustTransition(led.Complete(StepChecksum, checksumSummary(artifacts)))

	// Parity for the primary artifact.
	parityPath := e.parityStep(ctx, led, logger, artifacts[0].ArtifactPath)

	// Finalize: durability of the record is part of the success contract.
	e.mustTransition(led.Begin(StepFinalize))
	record := archive.CompletedRecord{
		Identifier:  unit.Identifier,
		Title:       unit.Title,
		Source:      unit.Source,
		Files:       artifacts,
		ParityPath:  parityPath,
		Acquisition: archive.AcquisitionStats{RecoveredBytes: totalBytes},
		StartedAt:   archive.Timestamp(started),
		FinishedAt:  archive.Timestamp(e.now()),
	}
	if err := e.store.CommitUnit(record, unit.Source); err != nil {
		e.mustTransition(led.Fail(StepFinalize, stepFailMessage(err)))
		return fail(err)
	}
	e.mustTransition(led.Complete(StepFinalize, "committed"))

	out.Status = StatusCommitted
	out.Record = record
	out.Err = nil
	out.Steps = led.Snapshot()
	return e.finish(ctx, out, "copy", totalBytes, started)
}

// copyDestination names single-file units disc_<id>.<ext>; multi-file sets
// keep their index: disc_<id>_<index>.<ext>.
func copyDestination(paths unitPaths, identifier string, file discovery.File, totalFiles int) string {
	ext := strings.ToLower(filepath.Ext(file.Path))
	if ext == "" {
		ext = ".iso"
	}
	if totalFiles == 1 {
		return paths.prefix + ext
	}
	return fmt.Sprintf("%s_%02d%s", paths.prefix, file.Index, ext)
}

func checksumSummary(artifacts []archive.FileArtifact) string {
	if len(artifacts) == 1 {
		return shortDigest(artifacts[0].ChecksumSHA256)
	}
	return fmt.Sprintf("%d checksums", len(artifacts))
}

func fileSizeOf(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
