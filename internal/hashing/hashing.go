// Package hashing computes SHA-256 checksums for acquired images and writes
// sidecar files alongside them.
package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dreamworks2050/dvd-archiver/internal/fileutil"
)

// SidecarSuffix is appended to the image filename for its checksum sidecar.
const SidecarSuffix = ".sha256"

// FileSHA256 streams path through SHA-256 and reports the hex digest. onBytes,
// when non-nil, receives the cumulative byte count as the file is read.
func FileSHA256(path string, onBytes func(int64)) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, 1<<20)
	var total int64
	for {
		n, readErr := f.Read(buf)
		if n > 0 {
			if _, err := h.Write(buf[:n]); err != nil {
				return "", fmt.Errorf("hash %s: %w", path, err)
			}
			total += int64(n)
			if onBytes != nil {
				onBytes(total)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return "", fmt.Errorf("read %s: %w", path, readErr)
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// WriteSidecar writes the shasum-compatible sidecar for imagePath and returns
// the digest. Sidecar format: "<hex>  <filename>\n".
func WriteSidecar(imagePath string, onBytes func(int64)) (string, error) {
	digest, err := FileSHA256(imagePath, onBytes)
	if err != nil {
		return "", err
	}
	line := fmt.Sprintf("%s  %s\n", digest, filepath.Base(imagePath))
	sidecar := imagePath + SidecarSuffix
	if err := fileutil.WriteFileAtomic(sidecar, []byte(line), 0o644); err != nil {
		return "", fmt.Errorf("write sidecar %s: %w", sidecar, err)
	}
	return digest, nil
}

// Verify recomputes the digest of imagePath and compares it against expected.
func Verify(imagePath, expected string) error {
	actual, err := FileSHA256(imagePath, nil)
	if err != nil {
		return err
	}
	if actual != expected {
		return fmt.Errorf("checksum mismatch for %s: expected %s, got %s", filepath.Base(imagePath), expected, actual)
	}
	return nil
}
