package config_test

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"scanstation/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	t.Setenv("SCANSTATION_API_TOKEN", "")
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantState := filepath.Join(tempHome, ".local", "share", "scanstation")
	if cfg.Paths.StateDir != wantState {
		t.Fatalf("unexpected state dir: got %q want %q", cfg.Paths.StateDir, wantState)
	}
	if cfg.Paths.APIBind != "127.0.0.1:7488" {
		t.Fatalf("unexpected api bind: %q", cfg.Paths.APIBind)
	}
	if got := cfg.Capture.CaptureKeys; len(got) != 2 || got[0] != " " || got[1] != "b" {
		t.Fatalf("unexpected capture keys: %q", got)
	}
	if cfg.Capture.CropOffset != 2 {
		t.Fatalf("expected crop offset 2, got %d", cfg.Capture.CropOffset)
	}
	if cfg.Device.Driver != config.DriverVirtual {
		t.Fatalf("expected virtual driver, got %q", cfg.Device.Driver)
	}
	if cfg.MinFreeBytes() != 50*1024*1024 {
		t.Fatalf("unexpected free space floor: %d", cfg.MinFreeBytes())
	}
	if cfg.DatabasePath() != filepath.Join(wantState, "state.db") {
		t.Fatalf("unexpected database path: %q", cfg.DatabasePath())
	}
}

func TestLoadCustomPath(t *testing.T) {
	t.Setenv("SCANSTATION_API_TOKEN", "")
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	configPath := filepath.Join(t.TempDir(), "config.toml")
	payload := struct {
		Paths struct {
			StateDir string `toml:"state_dir"`
		} `toml:"paths"`
		Capture struct {
			CaptureKeys []string `toml:"capture_keys"`
			RetakeKey   string   `toml:"retake_key"`
			CropOffset  int      `toml:"crop_offset"`
		} `toml:"capture"`
		Device struct {
			Driver         string   `toml:"driver"`
			Count          int      `toml:"count"`
			CaptureCommand []string `toml:"capture_command"`
			ImageFormat    string   `toml:"image_format"`
		} `toml:"device"`
	}{}
	payload.Paths.StateDir = "~/scans"
	payload.Capture.CaptureKeys = []string{"B", " ", "b"}
	payload.Capture.RetakeKey = "R"
	payload.Capture.CropOffset = 1
	payload.Device.Driver = "Command"
	payload.Device.Count = 1
	payload.Device.CaptureCommand = []string{"gphoto2", "--filename", "{path}"}
	payload.Device.ImageFormat = "JPG"

	data, err := toml.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected config file to exist")
	}
	if resolved != configPath {
		t.Fatalf("unexpected resolved path: %q", resolved)
	}
	if cfg.Paths.StateDir != filepath.Join(tempHome, "scans") {
		t.Fatalf("unexpected state dir: %q", cfg.Paths.StateDir)
	}
	if got := cfg.Capture.CaptureKeys; len(got) != 2 || got[0] != "b" || got[1] != " " {
		t.Fatalf("expected deduplicated lowercase keys, got %q", got)
	}
	if cfg.Capture.RetakeKey != "r" {
		t.Fatalf("expected lowercase retake key, got %q", cfg.Capture.RetakeKey)
	}
	if cfg.Capture.CropOffset != 1 {
		t.Fatalf("expected crop offset 1, got %d", cfg.Capture.CropOffset)
	}
	if cfg.Device.Driver != config.DriverCommand || cfg.Device.Count != 1 {
		t.Fatalf("unexpected device config: %+v", cfg.Device)
	}
	if cfg.Device.ImageFormat != "jpeg" {
		t.Fatalf("expected jpeg image format, got %q", cfg.Device.ImageFormat)
	}
}

func TestEnvVarOverridesConfigFileForAPIToken(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("SCANSTATION_API_TOKEN", "from-env")

	configPath := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(configPath, []byte("[paths]\napi_token = \"from-file\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Paths.APIToken != "from-env" {
		t.Fatalf("expected env token, got %q", cfg.Paths.APIToken)
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	configPath := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(configPath, []byte("[capture\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, _, _, err := config.Load(configPath); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestCreateSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "sample.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(contents), "capture_keys") {
		t.Fatalf("sample config missing capture keys: %s", contents)
	}

	var cfg config.Config
	if err := toml.Unmarshal(contents, &cfg); err != nil {
		t.Fatalf("unmarshal sample: %v", err)
	}
	if runtime.GOOS != "windows" {
		if !strings.Contains(cfg.Paths.StateDir, "scanstation") {
			t.Fatalf("expected state dir to contain scanstation, got %q", cfg.Paths.StateDir)
		}
	}
	if cfg.Capture.CropOffset != 2 {
		t.Fatalf("expected sample crop offset 2, got %d", cfg.Capture.CropOffset)
	}
}

func TestValidateDetectsInvalidValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"no capture keys", func(c *config.Config) { c.Capture.CaptureKeys = nil }},
		{"retake collides with capture", func(c *config.Config) { c.Capture.RetakeKey = "b" }},
		{"finish collides with retake", func(c *config.Config) { c.Capture.FinishKey = "r" }},
		{"zero crop offset", func(c *config.Config) { c.Capture.CropOffset = 0 }},
		{"negative trigger timeout", func(c *config.Config) { c.Capture.TriggerTimeout = -1 }},
		{"unknown driver", func(c *config.Config) { c.Device.Driver = "twain" }},
		{"three devices", func(c *config.Config) { c.Device.Count = 3 }},
		{"command without argv", func(c *config.Config) { c.Device.Driver = config.DriverCommand }},
		{"bad image format", func(c *config.Config) { c.Device.ImageFormat = "bmp" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}

	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected defaults to validate, got %v", err)
	}
}
