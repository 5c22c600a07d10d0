package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"scanstation/internal/config"
	"scanstation/internal/daemon"
	"scanstation/internal/ipc"
	"scanstation/internal/logging"
	"scanstation/internal/testsupport"
	"scanstation/internal/workflow"
)

type cliTestEnv struct {
	cfg        *config.Config
	session    *workflow.Session
	daemon     *daemon.Daemon
	socketPath string
	configPath string
}

func writeTestConfig(t *testing.T, cfg *config.Config) string {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("encode config: %v", err)
	}
	path := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func newOfflineEnv(t *testing.T) *cliTestEnv {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	cfg := testsupport.NewConfig(t)
	cfg.Paths.APIBind = ""
	return &cliTestEnv{
		cfg:        cfg,
		socketPath: filepath.Join(testsupport.BaseDir(cfg), "missing.sock"),
		configPath: writeTestConfig(t, cfg),
	}
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()
	env := newOfflineEnv(t)
	cfg := env.cfg

	store := testsupport.MustOpenKV(t, cfg)
	env.session = testsupport.NewSession(t, cfg, "herbal")
	logger := logging.NewNop()

	d, err := daemon.New(cfg, store, env.session, logger)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("daemon.Start: %v", err)
	}
	env.daemon = d

	ctx, cancel := context.WithCancel(context.Background())
	env.socketPath = filepath.Join(testsupport.BaseDir(cfg), "cli.sock")
	srv, err := ipc.NewServer(ctx, env.socketPath, d, logger)
	if err != nil {
		cancel()
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()

	t.Cleanup(func() {
		cancel()
		srv.Close()
		d.Stop()
	})

	waitFor(t, 5*time.Second, func() bool {
		snap, err := d.Snapshot()
		return err == nil && snap.State == "ready" && !snap.Waiting
	})
	return env
}

func runCLI(t *testing.T, env *cliTestEnv, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	flags := []string{"--socket", env.socketPath, "--config", env.configPath}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func waitFor(t *testing.T, duration time.Duration, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(duration)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", duration)
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
