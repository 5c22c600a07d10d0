package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	StateDir string `toml:"state_dir"`
	LogDir   string `toml:"log_dir"`
	APIBind  string `toml:"api_bind"`
	APIToken string `toml:"api_token"`
}

// Capture contains the operator-facing capture controls.
type Capture struct {
	// CaptureKeys lists every key that triggers a capture. A single space
	// character is the spacebar.
	CaptureKeys []string `toml:"capture_keys"`
	RetakeKey   string   `toml:"retake_key"`
	FinishKey   string   `toml:"finish_key"`
	// CropOffset is how many sequence numbers back a new capture reaches when
	// reapplying crop rectangles. Devices shooting in pairs use 2.
	CropOffset int `toml:"crop_offset"`
	// PrepareTimeout and TriggerTimeout bound how long the busy indicator may
	// stay up waiting on the device service (seconds, 0 disables).
	PrepareTimeout int `toml:"prepare_timeout"`
	TriggerTimeout int `toml:"trigger_timeout"`
	MinFreeMiB     int `toml:"min_free_mib"`
}

// Device contains capture device driver settings.
type Device struct {
	Driver          string   `toml:"driver"`
	Count           int      `toml:"count"`
	ParallelCapture bool     `toml:"parallel_capture"`
	FlipTargetPages bool     `toml:"flip_target_pages"`
	CaptureCommand  []string `toml:"capture_command"`
	PrepareCommand  []string `toml:"prepare_command"`
	FinishCommand   []string `toml:"finish_command"`
	CommandTimeout  int      `toml:"command_timeout"`
	ImageFormat     string   `toml:"image_format"`
	USBVendorIDs    []string `toml:"usb_vendor_ids"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for scanstation.
//
// Configuration sections by subsystem:
//   - Paths: state database, logs, and the HTTP API bind address
//   - Capture: shortcut keys, crop cadence, and busy-indicator timeouts
//   - Device: capture driver selection and device-mode flags
//   - Logging: log format and level
type Config struct {
	Paths   Paths   `toml:"paths"`
	Capture Capture `toml:"capture"`
	Device  Device  `toml:"device"`
	Logging Logging `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/scanstation/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("scanstation.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for capture sessions.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.LogDir, c.SessionsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the location of the key-value state database.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.StateDir, "state.db")
}

// SessionsDir is the default parent directory for capture sessions.
func (c *Config) SessionsDir() string {
	return filepath.Join(c.Paths.StateDir, "sessions")
}

// SocketPath returns the Unix socket the capture process listens on.
func (c *Config) SocketPath() string {
	return filepath.Join(c.Paths.StateDir, "scanstation.sock")
}

// PrepareTimeout returns the device preparation bound as a duration.
func (c *Config) PrepareTimeout() time.Duration {
	return time.Duration(c.Capture.PrepareTimeout) * time.Second
}

// TriggerTimeout returns the capture trigger bound as a duration.
func (c *Config) TriggerTimeout() time.Duration {
	return time.Duration(c.Capture.TriggerTimeout) * time.Second
}

// MinFreeBytes returns the free-space floor below which captures are refused.
func (c *Config) MinFreeBytes() uint64 {
	if c.Capture.MinFreeMiB <= 0 {
		return 0
	}
	return uint64(c.Capture.MinFreeMiB) * 1024 * 1024
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
