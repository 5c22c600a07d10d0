package device

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"scanstation/internal/workflow"
)

// Executor abstracts command execution for testability.
type Executor interface {
	Run(ctx context.Context, argv []string) ([]byte, error)
}

type commandExecutor struct{}

func (commandExecutor) Run(ctx context.Context, argv []string) ([]byte, error) {
	if len(argv) == 0 {
		return nil, errors.New("empty command")
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...) //nolint:gosec
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(out.String())
		if detail != "" {
			return out.Bytes(), fmt.Errorf("%s: %w: %s", argv[0], err, detail)
		}
		return out.Bytes(), fmt.Errorf("%s: %w", argv[0], err)
	}
	return out.Bytes(), nil
}

// CommandOption configures a CommandDriver.
type CommandOption func(*CommandDriver)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec Executor) CommandOption {
	return func(d *CommandDriver) {
		if exec != nil {
			d.exec = exec
		}
	}
}

// CommandDriver runs external programs for each camera operation. Arguments
// may contain the placeholders {device}, {index}, {path}, {target}, {iso},
// {shutter}, and {zoom}.
type CommandDriver struct {
	name    string
	index   int
	capture []string
	prepare []string
	finish  []string
	timeout time.Duration
	exec    Executor

	mu       sync.Mutex
	settings workflow.DeviceSettings
}

// NewCommandDriver constructs a driver for camera number index.
func NewCommandDriver(name string, index int, capture, prepare, finish []string, timeout time.Duration, opts ...CommandOption) *CommandDriver {
	d := &CommandDriver{
		name:    name,
		index:   index,
		capture: capture,
		prepare: prepare,
		finish:  finish,
		timeout: timeout,
		exec:    commandExecutor{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *CommandDriver) Name() string { return d.name }

// Connected always reports true; unplug detection comes from the hotplug monitor.
func (d *CommandDriver) Connected() bool { return true }

func (d *CommandDriver) Prepare(ctx context.Context, settings workflow.DeviceSettings) error {
	d.mu.Lock()
	d.settings = settings
	d.mu.Unlock()
	if len(d.prepare) == 0 {
		return nil
	}
	return d.run(ctx, d.prepare, "", "")
}

func (d *CommandDriver) Capture(ctx context.Context, path string, target workflow.Parity) error {
	if err := d.run(ctx, d.capture, path, target); err != nil {
		return err
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("capture command produced no image at %s: %w", path, err)
	}
	return nil
}

func (d *CommandDriver) Finalize(ctx context.Context) error {
	if len(d.finish) == 0 {
		return nil
	}
	return d.run(ctx, d.finish, "", "")
}

func (d *CommandDriver) run(ctx context.Context, template []string, path string, target workflow.Parity) error {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	d.mu.Lock()
	settings := d.settings
	d.mu.Unlock()
	_, err := d.exec.Run(ctx, expandArgs(template, map[string]string{
		"{device}":  d.name,
		"{index}":   strconv.Itoa(d.index),
		"{path}":    path,
		"{target}":  string(target),
		"{iso}":     strconv.Itoa(settings.ISO),
		"{shutter}": settings.ShutterSpeed,
		"{zoom}":    strconv.FormatFloat(settings.Zoom, 'f', -1, 64),
	}))
	return err
}

func expandArgs(template []string, vars map[string]string) []string {
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, k, v)
	}
	replacer := strings.NewReplacer(pairs...)
	argv := make([]string, len(template))
	for i, arg := range template {
		argv[i] = replacer.Replace(arg)
	}
	return argv
}
