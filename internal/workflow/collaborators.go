package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/dreamworks2050/dvd-archiver/internal/config"
	"github.com/dreamworks2050/dvd-archiver/internal/device"
	"github.com/dreamworks2050/dvd-archiver/internal/discovery"
	"github.com/dreamworks2050/dvd-archiver/internal/fileutil"
	"github.com/dreamworks2050/dvd-archiver/internal/hashing"
	"github.com/dreamworks2050/dvd-archiver/internal/imaging"
	"github.com/dreamworks2050/dvd-archiver/internal/parity"
)

// DefaultCollaborators wires the real tool-backed collaborators for the
// given configuration.
func DefaultCollaborators(cfg *config.Config) (Collaborators, error) {
	collab := Collaborators{
		Devices:   driveManager{drive: cfg.Imaging.OpticalDrive, timeout: time.Duration(cfg.Imaging.DeviceTimeout) * time.Second},
		Hasher:    sidecarHasher{},
		Copier:    fileCopier{},
		Discovery: sourceScanner{},
	}

	if cfg.Imaging.Mode == config.ModeHDIUtil {
		single, err := imaging.NewHDIUtil("hdiutil")
		if err != nil {
			return Collaborators{}, fmt.Errorf("configure hdiutil: %w", err)
		}
		collab.SinglePass = single
	} else {
		twoPass, err := imaging.NewDDRescue(
			cfg.DDRescueBinary(),
			cfg.Imaging.SectorSize,
			cfg.Imaging.ClusterSize,
			cfg.Imaging.RetryPasses,
		)
		if err != nil {
			return Collaborators{}, fmt.Errorf("configure ddrescue: %w", err)
		}
		collab.Acquirer = twoPass
	}

	if cfg.Parity.Enabled {
		gen, err := parity.New(cfg.DVDisasterBinary(), cfg.Parity.RedundancyPercent)
		if err != nil {
			return Collaborators{}, fmt.Errorf("configure dvdisaster: %w", err)
		}
		collab.Parity = gen
	}

	return collab, nil
}

type driveManager struct {
	drive   string
	timeout time.Duration
	eject   device.Ejector
	unmount device.Unmounter
}

func (m driveManager) Detect(ctx context.Context) (device.Info, error) {
	return device.Detect(ctx, m.drive, m.timeout)
}

func (m driveManager) Unmount(ctx context.Context, dev string) error {
	unmounter := m.unmount
	if unmounter == nil {
		unmounter = device.NewUnmounter()
	}
	return unmounter.Unmount(ctx, dev)
}

func (m driveManager) Eject(ctx context.Context, dev string) error {
	ejector := m.eject
	if ejector == nil {
		ejector = device.NewEjector()
	}
	return ejector.Eject(ctx, dev)
}

type sidecarHasher struct{}

func (sidecarHasher) WriteSidecar(imagePath string, onBytes func(int64)) (string, error) {
	return hashing.WriteSidecar(imagePath, onBytes)
}

type fileCopier struct{}

func (fileCopier) Copy(src, dst string, onBytes func(int64)) error {
	return fileutil.CopyFileProgress(src, dst, onBytes)
}

type sourceScanner struct{}

func (sourceScanner) Scan(sourceDirs []string) ([]discovery.Unit, error) {
	return discovery.Scan(sourceDirs)
}
