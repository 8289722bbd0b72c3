package config

const (
	defaultArchiveDir        = "~/DVD_Archive"
	defaultLogDir            = "~/.local/share/dvd-archiver/logs"
	defaultMode              = ModeDDRescue
	defaultOpticalDrive      = "/dev/sr0"
	defaultRetryPasses       = 3
	defaultSectorSize        = 2048
	defaultClusterSize       = 16384
	defaultDeviceTimeout     = 30
	defaultRedundancyPercent = 10
	defaultLogFormat         = "console"
	defaultLogLevel          = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			ArchiveDir: defaultArchiveDir,
			LogDir:     defaultLogDir,
		},
		Imaging: Imaging{
			Mode:          defaultMode,
			OpticalDrive:  defaultOpticalDrive,
			RetryPasses:   defaultRetryPasses,
			SectorSize:    defaultSectorSize,
			ClusterSize:   defaultClusterSize,
			DeviceTimeout: defaultDeviceTimeout,
		},
		Parity: Parity{
			Enabled:           true,
			RedundancyPercent: defaultRedundancyPercent,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
