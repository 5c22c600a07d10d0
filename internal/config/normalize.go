package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeCapture()
	c.normalizeDevice()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	if value, ok := os.LookupEnv("SCANSTATION_API_TOKEN"); ok && strings.TrimSpace(value) != "" {
		c.Paths.APIToken = strings.TrimSpace(value)
	}
	return nil
}

func (c *Config) normalizeCapture() {
	if value, ok := os.LookupEnv("SCANSTATION_CAPTURE_KEYS"); ok && value != "" {
		c.Capture.CaptureKeys = strings.Split(value, ",")
	}
	keys := make([]string, 0, len(c.Capture.CaptureKeys))
	seen := make(map[string]struct{}, len(c.Capture.CaptureKeys))
	for _, key := range c.Capture.CaptureKeys {
		normalized := normalizeKey(key)
		if normalized == "" {
			continue
		}
		if _, exists := seen[normalized]; exists {
			continue
		}
		seen[normalized] = struct{}{}
		keys = append(keys, normalized)
	}
	c.Capture.CaptureKeys = keys
	c.Capture.RetakeKey = normalizeKey(c.Capture.RetakeKey)
	if c.Capture.RetakeKey == "" {
		c.Capture.RetakeKey = defaultRetakeKey
	}
	c.Capture.FinishKey = normalizeKey(c.Capture.FinishKey)
	if c.Capture.FinishKey == "" {
		c.Capture.FinishKey = defaultFinishKey
	}
	if c.Capture.CropOffset == 0 {
		c.Capture.CropOffset = defaultCropOffset
	}
}

// normalizeKey lowercases key names but keeps a lone space intact, since the
// spacebar is configured as " ".
func normalizeKey(key string) string {
	if key == " " {
		return key
	}
	return strings.ToLower(strings.TrimSpace(key))
}

func (c *Config) normalizeDevice() {
	c.Device.Driver = strings.ToLower(strings.TrimSpace(c.Device.Driver))
	if c.Device.Driver == "" {
		c.Device.Driver = defaultDriver
	}
	if c.Device.Count == 0 {
		c.Device.Count = defaultDeviceCount
	}
	c.Device.ImageFormat = strings.ToLower(strings.TrimSpace(c.Device.ImageFormat))
	switch c.Device.ImageFormat {
	case "", "png":
		c.Device.ImageFormat = "png"
	case "jpg", "jpeg":
		c.Device.ImageFormat = "jpeg"
	case "tif", "tiff":
		c.Device.ImageFormat = "tiff"
	}
	if c.Device.CommandTimeout <= 0 {
		c.Device.CommandTimeout = defaultCommandTimeout
	}
	vendors := make([]string, 0, len(c.Device.USBVendorIDs))
	for _, id := range c.Device.USBVendorIDs {
		if trimmed := strings.ToLower(strings.TrimSpace(id)); trimmed != "" {
			vendors = append(vendors, trimmed)
		}
	}
	c.Device.USBVendorIDs = vendors
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
