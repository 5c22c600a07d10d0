package config

const (
	defaultStateDir       = "~/.local/share/scanstation"
	defaultLogDir         = "~/.local/share/scanstation/logs"
	defaultAPIBind        = "127.0.0.1:7488"
	defaultRetakeKey      = "r"
	defaultFinishKey      = "f"
	defaultCropOffset     = 2
	defaultPrepareTimeout = 120
	defaultTriggerTimeout = 60
	defaultMinFreeMiB     = 50
	defaultDriver         = DriverVirtual
	defaultDeviceCount    = 2
	defaultImageFormat    = "png"
	defaultCommandTimeout = 30
	defaultLogFormat      = "console"
	defaultLogLevel       = "info"
)

// Supported device drivers.
const (
	DriverVirtual = "virtual"
	DriverCommand = "command"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
			APIBind:  defaultAPIBind,
		},
		Capture: Capture{
			CaptureKeys:    []string{" ", "b"},
			RetakeKey:      defaultRetakeKey,
			FinishKey:      defaultFinishKey,
			CropOffset:     defaultCropOffset,
			PrepareTimeout: defaultPrepareTimeout,
			TriggerTimeout: defaultTriggerTimeout,
			MinFreeMiB:     defaultMinFreeMiB,
		},
		Device: Device{
			Driver:         defaultDriver,
			Count:          defaultDeviceCount,
			ImageFormat:    defaultImageFormat,
			CommandTimeout: defaultCommandTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
