package logging_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"scanstation/internal/config"
	"scanstation/internal/logging"
	"scanstation/internal/services"
)

func TestNewFromConfigWritesLogFile(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = t.TempDir()

	logger, err := logging.NewFromConfig(&cfg)
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	logger.Info("session opened")

	content, err := os.ReadFile(filepath.Join(cfg.Paths.LogDir, "scanstation.log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(content), "session opened") {
		t.Fatalf("expected message in log file, got %q", content)
	}
}

func TestConsoleLoggerOmitsCallerForInfo(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console-info.log")
	logger, err := logging.New(logging.Options{
		Format:      "console",
		Level:       "info",
		OutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logger.Info("message without caller")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if strings.Contains(string(content), ".go:") {
		t.Fatalf("expected no caller information in info logs, got %q", content)
	}
}

func TestConsoleLoggerRendersComponentAndSession(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console.log")
	base, err := logging.New(logging.Options{Format: "console", Level: "info", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logger := logging.NewComponentLogger(logging.WithSession(base, "3f2a9c1e-aaaa-bbbb"), "capture-machine")
	logger.Info("state changed", logging.Args(logging.Transition("ready", "triggering")...)...)

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	line := string(content)
	if !strings.Contains(line, "capture-machine [3f2a9c1e]: state changed") {
		t.Fatalf("expected component and short session prefix, got %q", line)
	}
	if !strings.Contains(line, "from=ready") || !strings.Contains(line, "to=triggering") {
		t.Fatalf("expected attributes, got %q", line)
	}
	if strings.Contains(line, "session_id=") {
		t.Fatalf("session id should render in the prefix only, got %q", line)
	}
}

func TestJSONLoggerIncludesContextFields(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "json.log")
	logger, err := logging.New(logging.Options{Format: "json", Level: "debug", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	ctx := services.WithRequestID(services.WithSessionID(context.Background(), "sess-42"), "req-7")
	logging.WithContext(ctx, logger).Debug("trigger forwarded")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	for _, fragment := range []string{`"session_id":"sess-42"`, `"correlation_id":"req-7"`, `"level":"debug"`} {
		if !strings.Contains(string(content), fragment) {
			t.Fatalf("expected %s in %q", fragment, content)
		}
	}
}

func TestWarnWithContextInjectsDefaults(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "warn.log")
	logger, err := logging.New(logging.Options{Format: "json", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logging.WarnWithContext(logger, "device disconnected", "device_disconnected", logging.String(logging.FieldImpact, "captures will fail"))

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	out := string(content)
	if !strings.Contains(out, `"event_type":"device_disconnected"`) {
		t.Fatalf("expected event type, got %q", out)
	}
	if !strings.Contains(out, `"error_hint":"see scanstation.log for details"`) {
		t.Fatalf("expected default hint, got %q", out)
	}
	if strings.Count(out, `"impact"`) != 1 || !strings.Contains(out, "captures will fail") {
		t.Fatalf("expected caller-supplied impact only, got %q", out)
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestNilLoggerHelpers(t *testing.T) {
	logging.WarnWithContext(nil, "ignored", "noop")
	logging.ErrorWithContext(nil, "ignored", "noop")
	if logging.NewComponentLogger(nil, "x") == nil {
		t.Fatal("expected no-op logger")
	}
	if logging.WithSession(nil, "id") == nil {
		t.Fatal("expected no-op logger")
	}
}
