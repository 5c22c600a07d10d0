package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"

	"scanstation/internal/config"
	"scanstation/internal/controller"
	"scanstation/internal/cropstore"
	"scanstation/internal/device"
	"scanstation/internal/kvstore"
	"scanstation/internal/logging"
	"scanstation/internal/services"
	"scanstation/internal/shortcuts"
	"scanstation/internal/workflow"
)

// CaptureDevice is the device service as used by the daemon.
type CaptureDevice interface {
	controller.Device
	Devices() []device.Status
	Start(ctx context.Context) error
	Close()
}

// ErrNotRunning is returned by session commands before Start or after Stop.
var ErrNotRunning = errors.New("capture session not running")

const lockFileName = ".scanstation.lock"

// Option configures a Daemon.
type Option func(*Daemon)

// WithDevice injects a device service instead of building one from config.
func WithDevice(dev CaptureDevice) Option {
	return func(d *Daemon) {
		if dev != nil {
			d.device = dev
		}
	}
}

// Daemon owns one capture session and enforces single-writer access to it.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *kvstore.Store
	session *workflow.Session
	keymap  *shortcuts.Keymap
	hooks   *unloadHooks

	lockPath string
	lock     *flock.Flock

	mu      sync.Mutex
	device  CaptureDevice
	ctrl    *controller.Controller
	api     *apiServer
	cancel  context.CancelFunc
	running atomic.Bool
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	SessionDir   string
	LockFilePath string
	DatabasePath string
	Devices      []device.Status
}

// New constructs a daemon for session.
func New(cfg *config.Config, store *kvstore.Store, session *workflow.Session, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil || store == nil || session == nil {
		return nil, errors.New("daemon requires config, store, and session")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	lockPath := filepath.Join(session.Dir(), lockFileName)
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.WithSession(logger, session.ID()),
		store:    store,
		session:  session,
		keymap:   shortcuts.NewKeymap(),
		hooks:    newUnloadHooks(),
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Start locks the session, prepares devices, starts the controller, and
// begins serving the HTTP API when configured.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire session lock: %w", err)
	}
	if !ok {
		return services.Wrap(services.ErrBusy, "daemon", "start",
			fmt.Sprintf("session %s is open in another scanstation process", d.session.Name()), nil)
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.start(runCtx); err != nil {
		cancel()
		d.release()
		return err
	}

	d.mu.Lock()
	d.cancel = cancel
	d.mu.Unlock()
	d.running.Store(true)

	go func() {
		<-runCtx.Done()
		d.hooks.fire()
	}()

	d.logger.Info("scanstation daemon started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.String("lock", d.lockPath),
		logging.String("session", d.session.Name()),
	)
	return nil
}

func (d *Daemon) start(ctx context.Context) error {
	d.mu.Lock()
	dev := d.device
	d.mu.Unlock()
	if dev == nil {
		svc, err := device.New(d.cfg, d.session, device.WithLogger(d.logger))
		if err != nil {
			return err
		}
		dev = svc
	}
	if err := dev.Start(ctx); err != nil {
		return fmt.Errorf("start device service: %w", err)
	}

	crops := cropstore.Load(ctx, d.store, d.session.ID(), d.logger)
	ctrl := controller.New(d.session, dev, crops, d.keymap, controller.Options{
		Keys: shortcuts.Keys{
			Capture: d.cfg.Capture.CaptureKeys,
			Retake:  d.cfg.Capture.RetakeKey,
			Finish:  d.cfg.Capture.FinishKey,
		},
		CropOffset:     d.cfg.Capture.CropOffset,
		PrepareTimeout: d.cfg.PrepareTimeout(),
		TriggerTimeout: d.cfg.TriggerTimeout(),
		Unload:         d.hooks,
		Logger:         d.logger,
	})

	api, err := newAPIServer(d.cfg, d, d.logger)
	if err != nil {
		dev.Close()
		return err
	}

	d.mu.Lock()
	d.device = dev
	d.ctrl = ctrl
	d.api = api
	d.mu.Unlock()

	if err := ctrl.Start(ctx); err != nil {
		ctrl.HandleUnload()
		dev.Close()
		return fmt.Errorf("start capture controller: %w", err)
	}
	if err := api.start(ctx); err != nil {
		ctrl.HandleUnload()
		dev.Close()
		return err
	}
	return nil
}

// Stop runs the controller teardown through the unload hooks, waits for the
// devices, and releases the session lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	d.hooks.fire()

	d.mu.Lock()
	cancel, dev, api := d.cancel, d.device, d.api
	d.cancel = nil
	d.mu.Unlock()

	api.stop()
	if dev != nil {
		dev.Close()
	}
	if cancel != nil {
		cancel()
	}
	d.release()
	d.running.Store(false)
	d.logger.Info("scanstation daemon stopped",
		logging.String(logging.FieldEventType, "daemon_stopped"),
	)
}

func (d *Daemon) release() {
	if err := d.lock.Unlock(); err != nil {
		logging.WarnWithContext(d.logger, "failed to release session lock", "daemon_lock_release_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "remove "+d.lockPath+" if no scanstation process is running"),
			logging.String(logging.FieldImpact, "the session may appear busy to other processes"),
		)
	}
}

// Close stops the daemon and closes the store.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Done is closed when the capture phase ends (finish key, step change, or
// Stop). It is nil before Start.
func (d *Daemon) Done() <-chan struct{} {
	ctrl, err := d.controller()
	if err != nil {
		return nil
	}
	return ctrl.Done()
}

// Subscribe registers fn for controller snapshot updates. It fails before Start.
func (d *Daemon) Subscribe(fn func(controller.Snapshot)) (func(), error) {
	ctrl, err := d.controller()
	if err != nil {
		return nil, err
	}
	return ctrl.Subscribe(fn), nil
}

// Keymap exposes the shortcut bindings for local key sources.
func (d *Daemon) Keymap() *shortcuts.Keymap {
	return d.keymap
}

// Session returns the session the daemon owns.
func (d *Daemon) Session() *workflow.Session {
	return d.session
}

// APIAddress reports the bound HTTP address, or "" when the API is disabled.
func (d *Daemon) APIAddress() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.api.address()
}

// Status returns runtime information.
func (d *Daemon) Status() Status {
	status := Status{
		Running:      d.running.Load(),
		SessionDir:   d.session.Dir(),
		LockFilePath: d.lockPath,
		DatabasePath: d.store.Path(),
	}
	d.mu.Lock()
	dev := d.device
	d.mu.Unlock()
	if dev != nil {
		status.Devices = dev.Devices()
	}
	return status
}

// detach keeps device work started by a request alive after the request
// returns.
func detach(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}

func (d *Daemon) controller() (*controller.Controller, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ctrl == nil {
		return nil, ErrNotRunning
	}
	return d.ctrl, nil
}

// Snapshot returns the controller projection.
func (d *Daemon) Snapshot() (controller.Snapshot, error) {
	ctrl, err := d.controller()
	if err != nil {
		return controller.Snapshot{}, err
	}
	return ctrl.Snapshot(), nil
}

// Trigger requests a capture; retake replaces the previous one.
func (d *Daemon) Trigger(ctx context.Context, retake bool) (bool, error) {
	ctrl, err := d.controller()
	if err != nil {
		return false, err
	}
	if retake {
		return ctrl.Retake(detach(ctx)), nil
	}
	return ctrl.TriggerCapture(detach(ctx)), nil
}

// Finish ends the capture phase.
func (d *Daemon) Finish(ctx context.Context) error {
	ctrl, err := d.controller()
	if err != nil {
		return err
	}
	ctrl.Finish(detach(ctx))
	return nil
}

// PressKey dispatches key through the shortcut bindings.
func (d *Daemon) PressKey(key string) bool {
	return d.keymap.Press(key)
}

// SetCrop stores a crop rectangle for parity.
func (d *Daemon) SetCrop(ctx context.Context, parity workflow.Parity, rect cropstore.Rect) error {
	ctrl, err := d.controller()
	if err != nil {
		return err
	}
	return ctrl.SetCropParams(detach(ctx), parity, rect)
}

// ClearCrops removes every crop rectangle for the session.
func (d *Daemon) ClearCrops(ctx context.Context) error {
	ctrl, err := d.controller()
	if err != nil {
		return err
	}
	return ctrl.ClearCropParams(detach(ctx))
}

// OpenCrop shows the crop overlay.
func (d *Daemon) OpenCrop(parity workflow.Parity) error {
	ctrl, err := d.controller()
	if err != nil {
		return err
	}
	return ctrl.OpenCrop(parity)
}

// OpenConfig shows the device configuration overlay.
func (d *Daemon) OpenConfig() error {
	ctrl, err := d.controller()
	if err != nil {
		return err
	}
	ctrl.OpenConfig()
	return nil
}

// OpenLightbox shows a page full size.
func (d *Daemon) OpenLightbox(sequence int) error {
	ctrl, err := d.controller()
	if err != nil {
		return err
	}
	return ctrl.OpenLightbox(sequence)
}

// CloseOverlay hides the open overlay.
func (d *Daemon) CloseOverlay() error {
	ctrl, err := d.controller()
	if err != nil {
		return err
	}
	ctrl.CloseOverlay()
	return nil
}

// Settings returns the session's device settings.
func (d *Daemon) Settings() (workflow.DeviceSettings, error) {
	return d.session.Settings()
}

// SaveConfig validates and stores device settings, then re-prepares devices.
func (d *Daemon) SaveConfig(ctx context.Context, settings workflow.DeviceSettings) error {
	ctrl, err := d.controller()
	if err != nil {
		return err
	}
	return ctrl.SaveConfig(detach(ctx), settings)
}

// Page looks up a captured page.
func (d *Daemon) Page(sequence int) (workflow.Page, error) {
	page, ok, err := d.session.Page(sequence)
	if err != nil {
		return workflow.Page{}, err
	}
	if !ok {
		return workflow.Page{}, services.Wrap(services.ErrNotFound, "daemon", "page", fmt.Sprintf("page %d", sequence), nil)
	}
	return page, nil
}
