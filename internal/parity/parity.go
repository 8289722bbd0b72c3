// Package parity wraps dvdisaster to generate error-correction data for
// acquired images.
package parity

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

// ErrUnavailable indicates the dvdisaster binary cannot be found.
var ErrUnavailable = errors.New("dvdisaster not available")

// EccSuffix is appended to the image filename for its parity file.
const EccSuffix = ".ecc"

// ProgressUpdate reports parity generation progress.
type ProgressUpdate struct {
	Percent float64
	Message string
}

// Generator defines the behaviour required by the workflow engine.
type Generator interface {
	Available() bool
	Generate(ctx context.Context, imagePath string, progress func(ProgressUpdate)) (string, error)
}

// Executor abstracts command execution for testability.
type Executor interface {
	Run(ctx context.Context, binary string, args []string, onStdout func(string)) error
}

// Option configures the client.
type Option func(*Client)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec Executor) Option {
	return func(c *Client) {
		if exec != nil {
			c.exec = exec
		}
	}
}

// WithLookPath overrides binary resolution (primarily for tests).
func WithLookPath(fn func(string) (string, error)) Option {
	return func(c *Client) {
		if fn != nil {
			c.lookPath = fn
		}
	}
}

// Client wraps dvdisaster CLI interactions.
type Client struct {
	binary     string
	redundancy int
	exec       Executor
	lookPath   func(string) (string, error)
}

// New constructs a dvdisaster client. redundancyPercent selects the RS02
// redundancy level.
func New(binary string, redundancyPercent int, opts ...Option) (*Client, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		return nil, errors.New("dvdisaster binary required")
	}
	if redundancyPercent <= 0 {
		return nil, fmt.Errorf("redundancy percent must be positive, got %d", redundancyPercent)
	}
	client := &Client{
		binary:     binary,
		redundancy: redundancyPercent,
		exec:       commandExecutor{},
		lookPath:   exec.LookPath,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// Available reports whether the dvdisaster binary resolves on PATH.
func (c *Client) Available() bool {
	_, err := c.lookPath(c.binary)
	return err == nil
}

// Generate creates an RS02 parity file next to imagePath and returns the
// parity file path.
func (c *Client) Generate(ctx context.Context, imagePath string, progress func(ProgressUpdate)) (string, error) {
	if imagePath == "" {
		return "", errors.New("image path required")
	}
	if !c.Available() {
		return "", fmt.Errorf("%w: %s", ErrUnavailable, c.binary)
	}

	eccPath := imagePath + EccSuffix
	args := []string{
		"-i", imagePath,
		"-e", eccPath,
		"-mRS02",
		"-n", fmt.Sprintf("%d%%", c.redundancy),
		"-c",
	}

	if err := c.exec.Run(ctx, c.binary, args, func(line string) {
		if progress == nil {
			return
		}
		if update, ok := parseProgress(line); ok {
			progress(update)
		}
	}); err != nil {
		return "", fmt.Errorf("dvdisaster generate: %w", err)
	}

	if _, err := os.Stat(eccPath); errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("dvdisaster produced no parity file for %s", imagePath)
	}
	return eccPath, nil
}

var progressPattern = regexp.MustCompile(`(\d+(?:\.\d+)?)%`)

func parseProgress(line string) (ProgressUpdate, bool) {
	line = strings.TrimSpace(line)
	match := progressPattern.FindStringSubmatch(line)
	if match == nil {
		return ProgressUpdate{}, false
	}
	percent, err := strconv.ParseFloat(match[1], 64)
	if err != nil || percent < 0 || percent > 100 {
		return ProgressUpdate{}, false
	}
	return ProgressUpdate{Percent: percent, Message: line}, true
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
