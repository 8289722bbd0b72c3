// Package preflight verifies external tools, directories and free space
// before a unit run starts.
package preflight

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"

	"github.com/dreamworks2050/dvd-archiver/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// Requirement defines an external binary the run relies on.
type Requirement struct {
	Name     string
	Command  string
	Optional bool
}

// MinFreeBytes is the free-space floor on the archive filesystem: one
// dual-layer DVD image plus parity headroom.
const MinFreeBytes = 10 << 30

// statfsFreeBytes is swappable in tests.
var statfsFreeBytes = func(path string) (uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, err
	}
	return stat.Bavail * uint64(stat.Bsize), nil
}

// CheckBinaries evaluates each requirement against PATH.
func CheckBinaries(requirements []Requirement) []Result {
	results := make([]Result, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		result := Result{Name: req.Name}
		switch {
		case cmd == "":
			result.Detail = "command not configured"
		case !lookPathOK(cmd):
			if req.Optional {
				result.Passed = true
				result.Detail = fmt.Sprintf("optional binary %q not found", cmd)
			} else {
				result.Detail = fmt.Sprintf("binary %q not found", cmd)
			}
		default:
			result.Passed = true
		}
		results = append(results, result)
	}
	return results
}

func lookPathOK(cmd string) bool {
	_, err := exec.LookPath(cmd)
	return err == nil
}

// CheckDirectoryAccess verifies the directory exists (creating it when
// missing) and is writable.
func CheckDirectoryAccess(name, dir string) Result {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return Result{Name: name, Detail: "path not configured"}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("create failed (%v)", err)}
	}
	probe, err := os.CreateTemp(dir, ".preflight-*")
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("not writable (%v)", err)}
	}
	probePath := probe.Name()
	_ = probe.Close()
	_ = os.Remove(probePath)
	return Result{Name: name, Passed: true}
}

// CheckFreeSpace verifies the filesystem holding dir has at least minBytes
// available.
func CheckFreeSpace(name, dir string, minBytes uint64) Result {
	free, err := statfsFreeBytes(dir)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("statfs failed (%v)", err)}
	}
	if free < minBytes {
		return Result{
			Name:   name,
			Detail: fmt.Sprintf("%s free, need %s", humanize.Bytes(free), humanize.Bytes(minBytes)),
		}
	}
	return Result{Name: name, Passed: true, Detail: humanize.Bytes(free) + " free"}
}

// RunAll executes every applicable check for the given config and pipeline.
// imagingRun selects the imaging tool requirements; a copy run needs none.
func RunAll(cfg *config.Config, imagingRun bool) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result
	results = append(results, CheckDirectoryAccess("Archive directory", cfg.Paths.ArchiveDir))
	results = append(results, CheckDirectoryAccess("Log directory", cfg.Paths.LogDir))
	if dir := strings.TrimSpace(cfg.Paths.ArchiveDir); dir != "" {
		results = append(results, CheckFreeSpace("Archive free space", dir, MinFreeBytes))
	}

	var reqs []Requirement
	if imagingRun {
		switch cfg.Imaging.Mode {
		case config.ModeHDIUtil:
			reqs = append(reqs, Requirement{Name: "hdiutil", Command: "hdiutil"})
		default:
			reqs = append(reqs, Requirement{Name: "ddrescue", Command: cfg.DDRescueBinary()})
		}
		reqs = append(reqs,
			Requirement{Name: "lsblk", Command: "lsblk"},
			Requirement{Name: "umount", Command: "umount"},
			Requirement{Name: "eject", Command: "eject"},
		)
	}
	if cfg.Parity.Enabled {
		reqs = append(reqs, Requirement{Name: "dvdisaster", Command: cfg.DVDisasterBinary(), Optional: true})
	}
	results = append(results, CheckBinaries(reqs)...)
	return results
}

// Failed returns the checks that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, result := range results {
		if !result.Passed {
			failed = append(failed, result)
		}
	}
	return failed
}

// Summary renders one failed-check list into a single message for the ledger.
func Summary(failed []Result) string {
	parts := make([]string, 0, len(failed))
	for _, result := range failed {
		detail := result.Detail
		if detail == "" {
			detail = "failed"
		}
		parts = append(parts, fmt.Sprintf("%s: %s", result.Name, detail))
	}
	return strings.Join(parts, "; ")
}
