package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateCapture(); err != nil {
		return err
	}
	if err := c.validateDevice(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateCapture() error {
	if len(c.Capture.CaptureKeys) == 0 {
		return errors.New("capture.capture_keys must include at least one key")
	}
	owners := make(map[string]string, len(c.Capture.CaptureKeys)+2)
	for _, key := range c.Capture.CaptureKeys {
		owners[key] = "capture.capture_keys"
	}
	for field, key := range map[string]string{
		"capture.retake_key": c.Capture.RetakeKey,
		"capture.finish_key": c.Capture.FinishKey,
	} {
		if owner, taken := owners[key]; taken {
			return fmt.Errorf("%s %q is already bound by %s", field, key, owner)
		}
		owners[key] = field
	}
	if c.Capture.CropOffset < 1 {
		return errors.New("capture.crop_offset must be at least 1")
	}
	if err := ensureNonNegativeMap(map[string]int{
		"capture.prepare_timeout": c.Capture.PrepareTimeout,
		"capture.trigger_timeout": c.Capture.TriggerTimeout,
		"capture.min_free_mib":    c.Capture.MinFreeMiB,
	}); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateDevice() error {
	switch c.Device.Driver {
	case DriverVirtual:
	case DriverCommand:
		if len(c.Device.CaptureCommand) == 0 || strings.TrimSpace(c.Device.CaptureCommand[0]) == "" {
			return errors.New("device.capture_command must be set when device.driver is \"command\"")
		}
	default:
		return fmt.Errorf("device.driver: unsupported value %q", c.Device.Driver)
	}
	if c.Device.Count < 1 || c.Device.Count > 2 {
		return errors.New("device.count must be 1 or 2")
	}
	switch c.Device.ImageFormat {
	case "png", "jpeg", "tiff":
	default:
		return fmt.Errorf("device.image_format: unsupported value %q", c.Device.ImageFormat)
	}
	return nil
}

func ensureNonNegativeMap(values map[string]int) error {
	for key, value := range values {
		if value < 0 {
			return fmt.Errorf("%s must be >= 0", key)
		}
	}
	return nil
}
