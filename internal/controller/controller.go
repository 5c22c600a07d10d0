package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"scanstation/internal/capture"
	"scanstation/internal/cropstore"
	"scanstation/internal/logging"
	"scanstation/internal/services"
	"scanstation/internal/shortcuts"
	"scanstation/internal/workflow"
)

// Device is the capture device service as seen by the controller.
type Device interface {
	capture.Device
	CropPage(ctx context.Context, sequence int, rect cropstore.Rect) error
	Subscribe(fn func(workflow.Event)) func()
}

// UnloadNotifier delivers the abrupt-exit signal (window close, process
// termination). The returned function removes the hook.
type UnloadNotifier interface {
	OnUnload(fn func()) func()
}

// Options configure a Controller.
type Options struct {
	Keys           shortcuts.Keys
	CropOffset     int
	PrepareTimeout time.Duration
	TriggerTimeout time.Duration
	Unload         UnloadNotifier
	Now            func() time.Time
	Logger         *slog.Logger
}

// ErrAlreadyStarted is returned by a second Start.
var ErrAlreadyStarted = errors.New("controller already started")

// Controller is the capture session controller.
type Controller struct {
	session    *workflow.Session
	device     Device
	crops      *cropstore.Store
	dispatcher *shortcuts.Dispatcher
	machine    *capture.Machine
	keys       shortcuts.Keys
	cropOffset int
	unload     UnloadNotifier
	now        func() time.Time
	logger     *slog.Logger

	mu               sync.Mutex
	ctx              context.Context
	started          bool
	tornDown         bool
	initialPageCount int
	captureStart     time.Time
	policy           reapplyPolicy
	overlay          Overlay
	cropTarget       workflow.Parity
	lightboxPage     int
	validationErrors map[string]string
	lastErr          error
	unsubscribe      func()
	removeUnload     func()
	listeners        map[uint64]func(Snapshot)
	nextListener     uint64
	done             chan struct{}
}

// New wires a controller for session. binder receives the shortcut bindings.
func New(session *workflow.Session, device Device, crops *cropstore.Store, binder shortcuts.Binder, opts Options) *Controller {
	if opts.CropOffset < 1 {
		opts.CropOffset = 2
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := logging.NewComponentLogger(logging.WithSession(opts.Logger, session.ID()), "capture-controller")
	c := &Controller{
		session:    session,
		device:     device,
		crops:      crops,
		dispatcher: shortcuts.NewDispatcher(binder),
		keys:       opts.Keys,
		cropOffset: opts.CropOffset,
		unload:     opts.Unload,
		now:        opts.Now,
		logger:     logger,
		ctx:        context.Background(),
		listeners:  make(map[uint64]func(Snapshot)),
		done:       make(chan struct{}),
	}
	c.machine = capture.NewMachine(device, capture.Options{
		PrepareTimeout: opts.PrepareTimeout,
		TriggerTimeout: opts.TriggerTimeout,
		Logger:         logging.WithSession(opts.Logger, session.ID()),
		OnChange:       c.onMachineChange,
	})
	return c
}

// Start subscribes to device events, registers the unload hook, binds the
// shortcuts, and prepares the devices. It may be called once.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	if c.tornDown {
		c.mu.Unlock()
		return services.Wrap(capture.ErrFinished, "controller", "start", "", nil)
	}
	c.started = true
	c.ctx = context.WithoutCancel(services.WithSessionID(ctx, c.session.ID()))
	pages, err := c.session.Pages()
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.initialPageCount = len(pages)
	c.captureStart = c.now()
	if !c.crops.Empty() {
		c.policy.arm()
	}
	c.mu.Unlock()

	unsubscribe := c.device.Subscribe(c.handleEvent)
	var removeUnload func()
	if c.unload != nil {
		removeUnload = c.unload.OnUnload(c.HandleUnload)
	}
	c.mu.Lock()
	c.unsubscribe = unsubscribe
	c.removeUnload = removeUnload
	c.mu.Unlock()

	if err := c.dispatcher.Mount(c.keys, map[shortcuts.Action]func(){
		shortcuts.ActionCapture: func() { c.TriggerCapture(c.context()) },
		shortcuts.ActionRetake:  func() { c.Retake(c.context()) },
		shortcuts.ActionFinish:  func() { c.Finish(c.context()) },
	}); err != nil {
		c.teardown(ctx, "shortcut binding failed")
		return services.Wrap(services.ErrConfiguration, "controller", "start", "bind shortcuts", err)
	}

	c.logger.Info("capture session started",
		logging.String(logging.FieldEventType, "capture_session_started"),
		logging.Int("initial_pages", len(pages)),
		logging.Bool("crop_reapply_armed", !c.crops.Empty()),
	)
	return c.machine.Prepare(c.context(), false)
}

// TriggerCapture requests a normal capture. It reports whether the request was
// forwarded; requests while a capture is outstanding are dropped.
func (c *Controller) TriggerCapture(ctx context.Context) bool {
	return c.machine.Trigger(ctx, false)
}

// Retake replaces the most recent capture.
func (c *Controller) Retake(ctx context.Context) bool {
	return c.machine.Trigger(ctx, true)
}

// Finish ends the capture phase. Safe to call more than once.
func (c *Controller) Finish(ctx context.Context) {
	c.teardown(ctx, "finish requested")
}

// HandleUnload is the abrupt-exit path; it runs the same teardown as Finish.
func (c *Controller) HandleUnload() {
	c.teardown(c.context(), "unload")
}

// Done is closed once teardown has completed.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

func (c *Controller) context() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ctx
}

func (c *Controller) handleEvent(ev workflow.Event) {
	c.mu.Lock()
	tornDown := c.tornDown
	c.mu.Unlock()
	if tornDown {
		return
	}
	c.machine.HandleEvent(ev)
	switch ev.Kind {
	case workflow.EventCaptureSucceeded:
		c.reapplyCrops(c.context(), ev)
	case workflow.EventStatusUpdated:
		if ev.Step != "" && ev.Step != workflow.StepCapture {
			c.logger.Info("workflow advanced past capture",
				logging.String(logging.FieldEventType, "capture_step_changed"),
				logging.String(logging.FieldStep, string(ev.Step)),
			)
			c.teardown(c.context(), "step changed")
			return
		}
	}
	c.notify()
}

func (c *Controller) teardown(ctx context.Context, reason string) {
	c.mu.Lock()
	if c.tornDown {
		c.mu.Unlock()
		return
	}
	c.tornDown = true
	unsubscribe, removeUnload := c.unsubscribe, c.removeUnload
	c.unsubscribe, c.removeUnload = nil, nil
	c.overlay = OverlayNone
	c.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	c.dispatcher.Unmount()
	if removeUnload != nil {
		removeUnload()
	}

	cropped := c.cropTail(ctx)
	c.machine.Finish(ctx)

	c.logger.Info("capture session finished",
		logging.String(logging.FieldEventType, "capture_session_finished"),
		logging.String("reason", reason),
		logging.Int("tail_pages_cropped", cropped),
	)
	close(c.done)
	c.notify()
}

// cropTail crops the final pages synchronously; no later capture event will
// reach them.
func (c *Controller) cropTail(ctx context.Context) int {
	if c.crops.Empty() {
		return 0
	}
	pages, err := c.session.LastPages(c.cropOffset)
	if err != nil {
		c.recordError(err)
		return 0
	}
	cropped := 0
	for _, page := range pages {
		rect, ok := c.crops.Get(page.Parity())
		if !ok {
			continue
		}
		if err := c.device.CropPage(ctx, page.Sequence, rect); err != nil {
			c.cropFailed(page.Sequence, err)
			continue
		}
		cropped++
	}
	return cropped
}

// SetCropParams stores a rectangle for parity, activates crop reapplication,
// and closes the crop overlay.
func (c *Controller) SetCropParams(ctx context.Context, parity workflow.Parity, rect cropstore.Rect) error {
	if _, err := c.crops.Set(ctx, parity, rect); err != nil {
		return err
	}
	c.mu.Lock()
	c.policy.activate()
	if c.overlay == OverlayCrop {
		c.overlay = OverlayNone
		c.cropTarget = ""
	}
	c.mu.Unlock()
	c.logger.Info("crop parameters set",
		logging.String(logging.FieldEventType, "crop_params_set"),
		logging.String("parity", string(parity)),
	)
	c.notify()
	return nil
}

// ClearCropParams removes every crop rectangle for the session. Pages
// captured afterwards, and the tail at teardown, are left uncropped.
func (c *Controller) ClearCropParams(ctx context.Context) error {
	cleared, err := c.crops.Clear(ctx)
	if err != nil {
		return err
	}
	c.logger.Info("crop parameters cleared",
		logging.String(logging.FieldEventType, "crop_params_cleared"),
		logging.Bool("changed", cleared),
	)
	c.notify()
	return nil
}

// OpenConfig shows the device configuration overlay.
func (c *Controller) OpenConfig() {
	c.setOverlay(OverlayConfig, "", 0)
}

// OpenCrop shows the crop overlay for parity.
func (c *Controller) OpenCrop(parity workflow.Parity) error {
	if parity != workflow.ParityOdd && parity != workflow.ParityEven {
		return services.Wrap(services.ErrValidation, "controller", "open crop", fmt.Sprintf("unknown parity %q", parity), nil)
	}
	c.setOverlay(OverlayCrop, parity, 0)
	return nil
}

// OpenLightbox shows a captured page full size.
func (c *Controller) OpenLightbox(sequence int) error {
	_, ok, err := c.session.Page(sequence)
	if err != nil {
		return err
	}
	if !ok {
		return services.Wrap(services.ErrNotFound, "controller", "open lightbox", fmt.Sprintf("page %d", sequence), nil)
	}
	c.setOverlay(OverlayLightbox, "", sequence)
	return nil
}

// CloseOverlay hides whatever overlay is open.
func (c *Controller) CloseOverlay() {
	c.setOverlay(OverlayNone, "", 0)
}

func (c *Controller) setOverlay(overlay Overlay, parity workflow.Parity, page int) {
	c.mu.Lock()
	c.overlay = overlay
	c.cropTarget = parity
	c.lightboxPage = page
	c.mu.Unlock()
	c.notify()
}

// SaveConfig persists device settings. Validation failures populate
// ValidationErrors and keep the configuration overlay open; on success the
// overlay closes and the devices are prepared again.
func (c *Controller) SaveConfig(ctx context.Context, settings workflow.DeviceSettings) error {
	err := c.session.SaveSettings(settings)
	var verr *workflow.ValidationError
	if errors.As(err, &verr) {
		c.mu.Lock()
		c.validationErrors = verr.Fields
		c.overlay = OverlayConfig
		c.mu.Unlock()
		c.notify()
		return err
	}
	if err != nil {
		c.recordError(err)
		return err
	}

	c.mu.Lock()
	c.validationErrors = nil
	if c.overlay == OverlayConfig {
		c.overlay = OverlayNone
	}
	c.mu.Unlock()
	c.notify()
	return c.machine.Prepare(ctx, true)
}

// Subscribe registers fn for snapshot updates and returns a cancel function.
func (c *Controller) Subscribe(fn func(Snapshot)) func() {
	c.mu.Lock()
	c.nextListener++
	id := c.nextListener
	c.listeners[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

func (c *Controller) onMachineChange(change capture.Change) {
	if change.Err != nil {
		c.recordError(change.Err)
	}
	c.notify()
}

func (c *Controller) recordError(err error) {
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
}

func (c *Controller) notify() {
	c.mu.Lock()
	listeners := make([]func(Snapshot), 0, len(c.listeners))
	for _, fn := range c.listeners {
		listeners = append(listeners, fn)
	}
	c.mu.Unlock()
	if len(listeners) == 0 {
		return
	}
	snap := c.Snapshot()
	for _, fn := range listeners {
		fn(snap)
	}
}
