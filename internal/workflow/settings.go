package workflow

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"scanstation/internal/services"
)

// DeviceSettings are the per-session camera options edited from the
// configuration dialog.
type DeviceSettings struct {
	ISO             int     `yaml:"iso" json:"iso"`
	ShutterSpeed    string  `yaml:"shutter_speed" json:"shutter_speed"`
	Zoom            float64 `yaml:"zoom" json:"zoom"`
	ParallelCapture *bool   `yaml:"parallel_capture,omitempty" json:"parallel_capture,omitempty"`
	FlipTargetPages *bool   `yaml:"flip_target_pages,omitempty" json:"flip_target_pages,omitempty"`
}

// ValidationError maps setting names to messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "invalid device settings: " + strings.Join(parts, "; ")
}

// Unwrap ties validation failures to the shared marker.
func (e *ValidationError) Unwrap() error { return services.ErrValidation }

var shutterPattern = regexp.MustCompile(`^(1/[1-9][0-9]*|[1-9][0-9]*(\.[0-9]+)?)$`)

// Validate checks settings and returns a *ValidationError listing every bad field.
func (d DeviceSettings) Validate() error {
	fields := map[string]string{}
	if d.ISO != 0 && (d.ISO < 50 || d.ISO > 25600) {
		fields["iso"] = "must be 0 (auto) or between 50 and 25600"
	}
	if d.ShutterSpeed != "" && !shutterPattern.MatchString(d.ShutterSpeed) {
		fields["shutter_speed"] = `must look like "1/125" or "2"`
	}
	if d.Zoom < 0 || d.Zoom > 10 {
		fields["zoom"] = "must be between 0 and 10"
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// Settings returns the stored device settings, or zero values when none were saved.
func (s *Session) Settings() (DeviceSettings, error) {
	var settings DeviceSettings
	data, err := os.ReadFile(filepath.Join(s.dir, settingsFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return settings, nil
		}
		return settings, fmt.Errorf("read device settings: %w", err)
	}
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return DeviceSettings{}, services.Wrap(services.ErrConfiguration, "workflow", "settings", "parse config.yml", err)
	}
	return settings, nil
}

// SaveSettings validates and persists settings. Invalid input returns a
// *ValidationError and leaves the stored file untouched.
func (s *Session) SaveSettings(settings DeviceSettings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(&settings)
	if err != nil {
		return fmt.Errorf("encode device settings: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeFileAtomic(filepath.Join(s.dir, settingsFile), data)
}
