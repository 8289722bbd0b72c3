// Package device inspects and controls the optical drive.
package device

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// ErrNotFound indicates no readable disc is present in the drive.
var ErrNotFound = errors.New("no disc detected")

// Info describes a detected disc.
type Info struct {
	Device        string
	Label         string
	FSType        string
	CapacityBytes int64
}

// Detect queries lsblk for the disc in device and reports its label and
// capacity. Returns ErrNotFound when the drive holds no readable medium.
func Detect(ctx context.Context, device string, timeout time.Duration) (Info, error) {
	device = strings.TrimSpace(device)
	if device == "" {
		return Info{}, errors.New("no device specified")
	}

	lsblkCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		lsblkCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	output, err := exec.CommandContext(lsblkCtx, "lsblk", "-P", "-b", "-o", "LABEL,FSTYPE,SIZE", device).Output()
	if err != nil {
		return Info{}, fmt.Errorf("%w: lsblk %s: %v", ErrNotFound, device, err)
	}

	info, ok := ParseLSBLK(string(output))
	if !ok {
		return Info{}, fmt.Errorf("%w: %s reports no medium", ErrNotFound, device)
	}
	info.Device = device
	return info, nil
}

// ParseLSBLK parses lsblk -P -b output and returns the first row that carries
// a filesystem. The second return is false when no such row exists.
func ParseLSBLK(output string) (Info, bool) {
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		data := parseKeyValueLine(line)
		if len(data) == 0 {
			continue
		}
		if strings.TrimSpace(data["FSTYPE"]) == "" {
			continue
		}
		info := Info{
			Label:  data["LABEL"],
			FSType: data["FSTYPE"],
		}
		if size, err := strconv.ParseInt(strings.TrimSpace(data["SIZE"]), 10, 64); err == nil {
			info.CapacityBytes = size
		}
		return info, true
	}
	return Info{}, false
}

func parseKeyValueLine(line string) map[string]string {
	result := make(map[string]string)
	for _, field := range strings.Fields(line) {
		parts := strings.SplitN(field, "=", 2)
		if len(parts) != 2 {
			continue
		}
		result[strings.TrimSpace(parts[0])] = strings.Trim(strings.TrimSpace(parts[1]), "\"")
	}
	return result
}

// Unmounter detaches any mounted filesystems on the device before imaging.
type Unmounter interface {
	Unmount(ctx context.Context, device string) error
}

type commandUnmounter struct{}

// NewUnmounter creates an unmounter that shells out to umount.
func NewUnmounter() Unmounter {
	return commandUnmounter{}
}

func (commandUnmounter) Unmount(ctx context.Context, device string) error {
	cmd := exec.CommandContext(ctx, "umount", device)
	if output, err := cmd.CombinedOutput(); err != nil {
		// "not mounted" is the common case for raw data discs.
		if strings.Contains(strings.ToLower(string(output)), "not mounted") {
			return nil
		}
		return fmt.Errorf("umount %s: %w", device, err)
	}
	return nil
}

// Ejector defines disc eject operations.
type Ejector interface {
	Eject(ctx context.Context, device string) error
}

type commandEjector struct{}

// NewEjector creates an ejector that shells out to the eject utility.
func NewEjector() Ejector {
	return commandEjector{}
}

func (commandEjector) Eject(ctx context.Context, device string) error {
	var cmd *exec.Cmd
	if device == "" {
		cmd = exec.CommandContext(ctx, "eject")
	} else {
		cmd = exec.CommandContext(ctx, "eject", device)
	}
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("eject %s: %w", device, err)
	}
	return nil
}
