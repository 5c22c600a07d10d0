package testsupport

import (
	"path/filepath"
	"testing"

	"scanstation/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Capture.MinFreeMiB = 0
	cfgVal.Capture.PrepareTimeout = 0
	cfgVal.Capture.TriggerTimeout = 0

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithDeviceCount sets the number of simulated devices.
func WithDeviceCount(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Device.Count = n
	}
}

// WithCaptureKeys overrides the capture trigger keys.
func WithCaptureKeys(keys ...string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Capture.CaptureKeys = keys
	}
}

// WithAPIToken sets the bearer token required by the HTTP API.
func WithAPIToken(token string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Paths.APIToken = token
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}
