package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"scanstation/internal/api"
	"scanstation/internal/controller"
	"scanstation/internal/daemon"
	"scanstation/internal/ipc"
	"scanstation/internal/keyboard"
	"scanstation/internal/kvstore"
	"scanstation/internal/logging"
	"scanstation/internal/preflight"
)

func newCaptureCommand(ctx *commandContext) *cobra.Command {
	var create bool
	var noKeyboard bool

	cmd := &cobra.Command{
		Use:   "capture <session>",
		Short: "Run a capture session in the foreground",
		Long: `Prepare the cameras for a session and capture pages until the finish key
is pressed or the process is interrupted. Shortcut keys are read from the
terminal; other scanstation commands reach this process over its socket.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCapture(cmd.Context(), cmd, ctx, args[0], create, !noKeyboard)
		},
	}
	cmd.Flags().BoolVar(&create, "create", false, "Create the session if it does not exist")
	cmd.Flags().BoolVar(&noKeyboard, "no-keyboard", false, "Do not read shortcut keys from the terminal")
	return cmd
}

func runCapture(cmdCtx context.Context, cmd *cobra.Command, ctx *commandContext, name string, create, useKeyboard bool) error {
	if cmdCtx == nil {
		cmdCtx = context.Background()
	}
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	session, err := ctx.openSession(name, create)
	if err != nil {
		return err
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	for _, check := range preflight.Failed(preflight.RunAll(cfg)) {
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", check.Name),
			logging.String("detail", check.Detail),
			logging.String(logging.FieldImpact, "captures may fail until this is fixed"),
			logging.String(logging.FieldErrorHint, "run `scanstation config validate` for the full report"),
		)
	}

	store, err := kvstore.Open(cfg)
	if err != nil {
		logger.Error("open state store", logging.Error(err))
		return err
	}

	d, err := daemon.New(cfg, store, session, logger)
	if err != nil {
		store.Close()
		return fmt.Errorf("create capture daemon: %w", err)
	}
	defer d.Close()

	runCtx, cancel := context.WithCancel(cmdCtx)
	defer cancel()

	if err := d.Start(runCtx); err != nil {
		return err
	}

	ipcServer, err := ipc.NewServer(runCtx, ctx.socketPath(), d, logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	out := cmd.OutOrStdout()
	if addr := d.APIAddress(); addr != "" {
		fmt.Fprintf(out, "HTTP API listening on http://%s\n", addr)
	}

	interactive := useKeyboard && term.IsTerminal(int(os.Stdin.Fd()))
	progress := newProgressPrinter(out, interactive)
	unsubscribe, err := d.Subscribe(func(snap controller.Snapshot) {
		progress.update(api.FromSnapshot(snap))
	})
	if err != nil {
		return err
	}
	defer unsubscribe()

	keys := make(chan error, 1)
	if interactive {
		fmt.Fprintf(out, "Capturing into %s. Press Ctrl-C to abort.\r\n", session.Dir())
		go func() { keys <- keyboard.Listen(runCtx, os.Stdin, d.PressKey) }()
	} else {
		fmt.Fprintf(out, "Capturing into %s.\n", session.Dir())
	}

	select {
	case <-d.Done():
	case <-runCtx.Done():
	case err := <-keys:
		if err != nil && !errors.Is(err, keyboard.ErrInterrupted) {
			logging.WarnWithContext(logger, "keyboard input failed", "keyboard_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "shortcut keys stopped working; the session was closed"),
			)
		}
	}
	d.Stop()
	cancel()

	if snap, err := d.Snapshot(); err == nil {
		fmt.Fprintf(out, "%s\n", renderProgressLine(api.FromSnapshot(snap)))
	}
	return nil
}

// progressPrinter prints a progress line whenever the page count, busy state,
// or error changes.
type progressPrinter struct {
	out     io.Writer
	newline string

	mu   sync.Mutex
	last string
}

func newProgressPrinter(out io.Writer, raw bool) *progressPrinter {
	newline := "\n"
	if raw {
		newline = "\r\n"
	}
	return &progressPrinter{out: out, newline: newline}
}

func (p *progressPrinter) update(state api.CaptureState) {
	line := renderProgressLine(state)
	p.mu.Lock()
	defer p.mu.Unlock()
	if line == p.last {
		return
	}
	p.last = line
	fmt.Fprint(p.out, line+p.newline)
}
