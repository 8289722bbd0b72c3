// Package imaging acquires raw disc images. Two acquisition backends are
// supported: GNU ddrescue (fast pass then retry pass over a shared map file)
// and hdiutil (single pass, macOS).
package imaging

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// ErrAcquisitionFailed indicates the acquisition tool exited unsuccessfully.
var ErrAcquisitionFailed = errors.New("image acquisition failed")

// Result summarizes one acquisition pass.
type Result struct {
	// RescuedBytes is the byte count the tool last reported as recovered,
	// zero when the tool never reported one.
	RescuedBytes int64
	// ErrorCount is the unreadable-area count the tool last reported.
	ErrorCount int
	// LastLine is the final raw status line, kept for the run journal.
	LastLine string
}

// ProgressUpdate reports tool-native acquisition progress.
type ProgressUpdate struct {
	Percent float64
	Message string
}

// Executor abstracts command execution for testability.
type Executor interface {
	Run(ctx context.Context, binary string, args []string, onStdout func(string)) error
}

// Option configures an acquisition client.
type Option func(*options)

type options struct {
	exec Executor
}

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec Executor) Option {
	return func(o *options) {
		if exec != nil {
			o.exec = exec
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{exec: commandExecutor{}}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// DDRescue drives GNU ddrescue across its two passes.
type DDRescue struct {
	binary      string
	sectorSize  int
	clusterSize int
	retryPasses int
	exec        Executor
}

// NewDDRescue constructs a ddrescue client.
func NewDDRescue(binary string, sectorSize, clusterSize, retryPasses int, opts ...Option) (*DDRescue, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		return nil, errors.New("ddrescue binary required")
	}
	if sectorSize <= 0 {
		return nil, fmt.Errorf("sector size must be positive, got %d", sectorSize)
	}
	if clusterSize <= 0 {
		return nil, fmt.Errorf("cluster size must be positive, got %d", clusterSize)
	}
	if retryPasses < 0 {
		return nil, fmt.Errorf("retry passes must not be negative, got %d", retryPasses)
	}
	o := buildOptions(opts)
	return &DDRescue{
		binary:      binary,
		sectorSize:  sectorSize,
		clusterSize: clusterSize,
		retryPasses: retryPasses,
		exec:        o.exec,
	}, nil
}

// FastPass sweeps the readable areas of device into imagePath, skipping bad
// regions and recording them in mapPath for the retry pass.
func (c *DDRescue) FastPass(ctx context.Context, device, imagePath, mapPath string, progress func(ProgressUpdate)) (Result, error) {
	args := []string{
		"-b", strconv.Itoa(c.sectorSize),
		"-c", strconv.Itoa(c.clusterSize),
		"-n",
		device, imagePath, mapPath,
	}
	return c.run(ctx, args, progress)
}

// RetryPass revisits the regions the fast pass left behind, retrying each up
// to the configured pass budget.
func (c *DDRescue) RetryPass(ctx context.Context, device, imagePath, mapPath string, progress func(ProgressUpdate)) (Result, error) {
	args := []string{
		"-b", strconv.Itoa(c.sectorSize),
		"-c", strconv.Itoa(c.clusterSize),
		fmt.Sprintf("-r%d", c.retryPasses),
		device, imagePath, mapPath,
	}
	return c.run(ctx, args, progress)
}

func (c *DDRescue) run(ctx context.Context, args []string, progress func(ProgressUpdate)) (Result, error) {
	var (
		mu     sync.Mutex
		result Result
	)
	err := c.exec.Run(ctx, c.binary, args, func(line string) {
		line = strings.TrimSpace(line)
		if line == "" {
			return
		}
		mu.Lock()
		result.LastLine = line
		if bytes, ok := parseRescuedBytes(line); ok {
			result.RescuedBytes = bytes
		}
		if count, ok := parseErrorCount(line); ok {
			result.ErrorCount = count
		}
		mu.Unlock()
		if progress != nil {
			if update, ok := parseDDRescueProgress(line); ok {
				progress(update)
			}
		}
	})
	if err != nil {
		return result, fmt.Errorf("%w: %v", ErrAcquisitionFailed, err)
	}
	return result, nil
}

var (
	pctRescuedPattern = regexp.MustCompile(`(?i)pct rescued:\s*([0-9.]+)%`)
	rescuedPattern    = regexp.MustCompile(`(?i)rescued:\s*([0-9.]+)\s*(B|kB|MB|GB|TB)\b`)
	errorsPattern     = regexp.MustCompile(`(?i)\berrors:\s*(\d+)`)
	ratePattern       = regexp.MustCompile(`(?i)current rate:\s*([0-9.]+\s*(?:B|kB|MB|GB)/s)`)
)

func parseRescuedBytes(line string) (int64, bool) {
	match := rescuedPattern.FindStringSubmatch(line)
	if match == nil {
		return 0, false
	}
	value, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return 0, false
	}
	var scale float64
	switch strings.ToUpper(match[2]) {
	case "B":
		scale = 1
	case "KB":
		scale = 1e3
	case "MB":
		scale = 1e6
	case "GB":
		scale = 1e9
	case "TB":
		scale = 1e12
	default:
		return 0, false
	}
	return int64(value * scale), true
}

func parseErrorCount(line string) (int, bool) {
	match := errorsPattern.FindStringSubmatch(line)
	if match == nil {
		return 0, false
	}
	count, err := strconv.Atoi(match[1])
	if err != nil {
		return 0, false
	}
	return count, true
}

func parseDDRescueProgress(line string) (ProgressUpdate, bool) {
	if match := pctRescuedPattern.FindStringSubmatch(line); match != nil {
		percent, err := strconv.ParseFloat(match[1], 64)
		if err != nil {
			return ProgressUpdate{}, false
		}
		return ProgressUpdate{Percent: percent, Message: fmt.Sprintf("%s%% rescued", match[1])}, true
	}
	if match := ratePattern.FindStringSubmatch(line); match != nil {
		return ProgressUpdate{Message: strings.TrimSpace(match[1])}, true
	}
	return ProgressUpdate{}, false
}

// HDIUtil drives hdiutil for single-pass acquisition. hdiutil writes a .cdr
// container at the output prefix which is renamed to .iso on success.
type HDIUtil struct {
	binary string
	exec   Executor
}

// NewHDIUtil constructs an hdiutil client.
func NewHDIUtil(binary string, opts ...Option) (*HDIUtil, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		return nil, errors.New("hdiutil binary required")
	}
	o := buildOptions(opts)
	return &HDIUtil{binary: binary, exec: o.exec}, nil
}

var percentPattern = regexp.MustCompile(`PERCENT:\s*([0-9.]+)`)

// Acquire images device into outPrefix+".iso" and returns the image path.
func (c *HDIUtil) Acquire(ctx context.Context, device, outPrefix string, progress func(ProgressUpdate)) (string, Result, error) {
	cdrPath := outPrefix + ".cdr"
	isoPath := outPrefix + ".iso"
	if err := os.Remove(cdrPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", Result{}, fmt.Errorf("remove stale container: %w", err)
	}

	args := []string{
		"create",
		"-puppetstrings",
		"-srcdevice", device,
		"-format", "UDTO",
		"-o", outPrefix,
	}

	var (
		mu     sync.Mutex
		result Result
	)
	err := c.exec.Run(ctx, c.binary, args, func(line string) {
		line = strings.TrimSpace(line)
		if line == "" {
			return
		}
		mu.Lock()
		result.LastLine = line
		mu.Unlock()
		if progress == nil {
			return
		}
		if match := percentPattern.FindStringSubmatch(line); match != nil {
			if percent, err := strconv.ParseFloat(match[1], 64); err == nil {
				progress(ProgressUpdate{Percent: percent, Message: fmt.Sprintf("%.2f%%", percent)})
			}
		}
	})
	if err != nil {
		return "", result, fmt.Errorf("%w: %v", ErrAcquisitionFailed, err)
	}

	if err := os.Remove(isoPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", result, fmt.Errorf("remove stale image: %w", err)
	}
	if err := os.Rename(cdrPath, isoPath); err != nil {
		return "", result, fmt.Errorf("rename container to image: %w", err)
	}
	if info, err := os.Stat(isoPath); err == nil {
		result.RescuedBytes = info.Size()
	}
	return isoPath, result, nil
}

type commandExecutor struct{}

func (commandExecutor) Run(ctx context.Context, binary string, args []string, onStdout func(string)) error {
	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start command: %w", err)
	}

	var wg sync.WaitGroup
	scan := func(r io.Reader) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			if onStdout != nil {
				onStdout(scanner.Text())
			}
		}
	}
	wg.Add(2)
	go scan(stdout)
	go scan(stderr)
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("wait command: %w", err)
	}
	return nil
}
