package workflow

import (
	"github.com/dreamworks2050/dvd-archiver/internal/config"
	"github.com/dreamworks2050/dvd-archiver/internal/ledger"
)

// Step names shared by the pipeline definitions.
const (
	StepDetect       = "detect"
	StepUnmount      = "unmount"
	StepAcquireFast  = "acquire_fast"
	StepAcquireRetry = "acquire_retry"
	StepCopy         = "copy"
	StepChecksum     = "checksum"
	StepParity       = "parity"
	StepEject        = "eject"
	StepFinalize     = "finalize"
)

// ImagingPipeline returns the step definitions for imaging a physical disc.
// The single-pass mode has no retry step; the retry decision belongs to the
// pipeline definition, not to runtime branching.
func ImagingPipeline(mode string) []ledger.StepDef {
	steps := []ledger.StepDef{
		{Name: StepDetect, Label: "Detect disc"},
		{Name: StepUnmount, Label: "Unmount disc"},
		{Name: StepAcquireFast, Label: "Image (fast pass)"},
	}
	if mode != config.ModeHDIUtil {
		// Skippable: a clean fast pass leaves nothing to retry.
		steps = append(steps, ledger.StepDef{Name: StepAcquireRetry, Label: "Image (retries)", Optional: true})
	}
	steps = append(steps,
		ledger.StepDef{Name: StepChecksum, Label: "Compute SHA-256"},
		ledger.StepDef{Name: StepParity, Label: "Create parity", Optional: true},
		ledger.StepDef{Name: StepEject, Label: "Eject disc", Optional: true, Cleanup: true},
	)
	return steps
}

// CopyPipeline returns the step definitions for archiving a discovered
// source folder of pre-existing image files.
func CopyPipeline() []ledger.StepDef {
	return []ledger.StepDef{
		{Name: StepDetect, Label: "Locate unit"},
		{Name: StepCopy, Label: "Copy images"},
		{Name: StepChecksum, Label: "Compute SHA-256"},
		{Name: StepParity, Label: "Create parity", Optional: true},
		{Name: StepFinalize, Label: "Commit record"},
	}
}
