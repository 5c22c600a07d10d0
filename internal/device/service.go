package device

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pilebones/go-udev/netlink"
	"golang.org/x/sync/errgroup"

	"scanstation/internal/config"
	"scanstation/internal/cropstore"
	"scanstation/internal/logging"
	"scanstation/internal/services"
	"scanstation/internal/workflow"
)

// Option configures a Service.
type Option func(*Service)

// WithDrivers replaces the drivers built from configuration.
func WithDrivers(drivers ...Driver) Option {
	return func(s *Service) {
		if len(drivers) > 0 {
			s.drivers = drivers
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Service is the local capture device service for one session.
type Service struct {
	cfg     config.Device
	minFree uint64
	session *workflow.Session
	drivers []Driver
	logger  *slog.Logger
	monitor *usbMonitor

	// captureMu serialises captures and finish.
	captureMu sync.Mutex

	mu        sync.Mutex
	targets   []workflow.Parity
	prepared  bool
	unplugged bool
	finished  bool

	wg sync.WaitGroup
}

// New builds a service for session using the configured driver.
func New(cfg *config.Config, session *workflow.Session, opts ...Option) (*Service, error) {
	if cfg == nil {
		return nil, services.Wrap(services.ErrConfiguration, "device", "new", "config required", nil)
	}
	if session == nil {
		return nil, services.Wrap(services.ErrConfiguration, "device", "new", "session required", nil)
	}
	s := &Service{
		cfg:     cfg.Device,
		minFree: cfg.MinFreeBytes(),
		session: session,
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.NewComponentLogger(logging.WithSession(s.logger, session.ID()), "device")
	if len(s.drivers) == 0 {
		drivers, err := newDrivers(cfg.Device)
		if err != nil {
			return nil, err
		}
		s.drivers = drivers
	}
	if len(s.drivers) > 2 {
		return nil, services.Wrap(services.ErrConfiguration, "device", "new", fmt.Sprintf("%d devices configured, at most 2 supported", len(s.drivers)), nil)
	}
	s.monitor = newUSBMonitor(cfg.Device.USBVendorIDs, s.logger, s.handleHotplug)
	return s, nil
}

func newDrivers(cfg config.Device) ([]Driver, error) {
	drivers := make([]Driver, 0, cfg.Count)
	for i := 0; i < cfg.Count; i++ {
		name := fmt.Sprintf("camera-%d", i+1)
		switch cfg.Driver {
		case config.DriverVirtual:
			drivers = append(drivers, NewVirtualDriver(name, cfg.ImageFormat))
		case config.DriverCommand:
			drivers = append(drivers, NewCommandDriver(name, i, cfg.CaptureCommand, cfg.PrepareCommand, cfg.FinishCommand,
				time.Duration(cfg.CommandTimeout)*time.Second))
		default:
			return nil, services.Wrap(services.ErrConfiguration, "device", "new", fmt.Sprintf("unknown driver %q", cfg.Driver), nil)
		}
	}
	return drivers, nil
}

// Start begins hotplug monitoring when USB vendor ids are configured.
func (s *Service) Start(ctx context.Context) error {
	return s.monitor.Start(ctx)
}

// Close stops hotplug monitoring and waits for outstanding commands.
func (s *Service) Close() {
	s.monitor.Stop()
	s.wg.Wait()
}

// Wait blocks until every outstanding command has completed.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Subscribe registers fn for session events.
func (s *Service) Subscribe(fn func(workflow.Event)) func() {
	return s.session.Events().Subscribe(fn)
}

// Devices reports the drivers with their target pages.
func (s *Service) Devices() []Status {
	s.mu.Lock()
	targets := append([]workflow.Parity(nil), s.targets...)
	unplugged := s.unplugged
	s.mu.Unlock()
	out := make([]Status, 0, len(s.drivers))
	for i, d := range s.drivers {
		st := Status{Name: d.Name(), Connected: d.Connected() && !unplugged}
		if i < len(targets) {
			st.Target = targets[i]
		}
		out = append(out, st)
	}
	return out
}

// Prepare readies every driver asynchronously and reports through done.
func (s *Service) Prepare(ctx context.Context, reconfigure bool, done func(error)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		done(s.prepare(ctx, reconfigure))
	}()
}

// Trigger captures one image per driver asynchronously and reports through done.
func (s *Service) Trigger(ctx context.Context, retake bool, done func(error)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		done(s.trigger(ctx, retake))
	}()
}

// Finish finalises the drivers in the background. Duplicate calls are ignored.
func (s *Service) Finish(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.finish(ctx); err != nil {
			logging.WarnWithContext(s.logger, "finishing capture failed", "device_finish_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, services.Hint(err)),
				logging.String(logging.FieldImpact, "cameras may still be in capture mode"),
			)
		}
	}()
}

func (s *Service) prepare(ctx context.Context, reconfigure bool) error {
	if err := s.checkConnected("prepare"); err != nil {
		return err
	}
	settings, err := s.session.Settings()
	if err != nil {
		return err
	}

	targets := s.assignTargets(settings)
	g, gctx := errgroup.WithContext(ctx)
	for _, d := range s.drivers {
		g.Go(func() error {
			if err := d.Prepare(gctx, settings); err != nil {
				return fmt.Errorf("%s: %w", d.Name(), err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return services.Wrap(services.ErrDevice, "device", "prepare", "", err)
	}

	if s.session.Step() != workflow.StepCapture || s.session.StepDone() {
		if err := s.session.SetStep(workflow.StepCapture); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.targets = targets
	s.prepared = true
	s.finished = false
	s.mu.Unlock()

	s.logger.Info("devices prepared",
		logging.String(logging.FieldEventType, "device_prepared"),
		logging.Int("devices", len(s.drivers)),
		logging.Bool("reconfigure", reconfigure),
	)
	return nil
}

// assignTargets gives the first camera the even (left) page and the second the
// odd (right) page, swapped when flip_target_pages is set. A single camera has
// no target and numbers pages consecutively.
func (s *Service) assignTargets(settings workflow.DeviceSettings) []workflow.Parity {
	if len(s.drivers) < 2 {
		return make([]workflow.Parity, len(s.drivers))
	}
	flip := s.cfg.FlipTargetPages
	if settings.FlipTargetPages != nil {
		flip = *settings.FlipTargetPages
	}
	if flip {
		return []workflow.Parity{workflow.ParityOdd, workflow.ParityEven}
	}
	return []workflow.Parity{workflow.ParityEven, workflow.ParityOdd}
}

func (s *Service) trigger(ctx context.Context, retake bool) error {
	s.captureMu.Lock()
	defer s.captureMu.Unlock()

	s.mu.Lock()
	prepared, finished := s.prepared, s.finished
	targets := append([]workflow.Parity(nil), s.targets...)
	s.mu.Unlock()
	if finished {
		return services.Wrap(services.ErrDevice, "device", "trigger", "capture already finished", nil)
	}
	if !prepared {
		return services.Wrap(services.ErrDevice, "device", "trigger", "devices not prepared", nil)
	}
	if err := s.checkConnected("trigger"); err != nil {
		return err
	}

	s.logger.Info("triggering capture",
		logging.String(logging.FieldEventType, "device_capture_triggered"),
		logging.Bool("retake", retake),
	)
	s.session.Events().Publish(workflow.Event{Kind: workflow.EventCaptureTriggered, Retake: retake})

	if err := s.checkFreeSpace(); err != nil {
		return err
	}
	if err := os.MkdirAll(s.session.RawDir(), 0o755); err != nil {
		return services.Wrap(services.ErrDevice, "device", "trigger", "create raw directory", err)
	}
	if retake {
		if err := s.removeLast(len(s.drivers)); err != nil {
			return err
		}
	}

	paths, err := s.nextPaths(targets)
	if err != nil {
		return err
	}
	if err := s.captureAll(ctx, paths, targets); err != nil {
		return services.Wrap(services.ErrDevice, "device", "trigger", "", err)
	}

	shot, err := s.session.LastPages(len(s.drivers))
	if err != nil {
		return err
	}
	s.session.Events().Publish(workflow.Event{Kind: workflow.EventCaptureSucceeded, Pages: shot, Retake: retake})
	s.logger.Info("capture succeeded",
		logging.String(logging.FieldEventType, "device_capture_succeeded"),
		logging.Int("pages", len(shot)),
		logging.Bool("retake", retake),
	)
	return nil
}

// nextPaths computes every file name from one snapshot of the highest
// sequence number so two cameras never pick the same number.
func (s *Service) nextPaths(targets []workflow.Parity) ([]string, error) {
	pages, err := s.session.Pages()
	if err != nil {
		return nil, err
	}
	last := 0
	if len(pages) > 0 {
		last = pages[len(pages)-1].Sequence
	}
	ext := Extension(s.cfg.ImageFormat)
	paths := make([]string, len(s.drivers))
	for i := range s.drivers {
		var target workflow.Parity
		if i < len(targets) {
			target = targets[i]
		}
		seq := workflow.NextSequence(last, target)
		if target == "" {
			seq = last + 1 + i
		}
		paths[i] = filepath.Join(s.session.RawDir(), workflow.PageFileName(seq, ext))
	}
	return paths, nil
}

func (s *Service) captureAll(ctx context.Context, paths []string, targets []workflow.Parity) error {
	settings, err := s.session.Settings()
	if err != nil {
		return err
	}
	parallel := s.cfg.ParallelCapture
	if settings.ParallelCapture != nil {
		parallel = *settings.ParallelCapture
	}
	g, gctx := errgroup.WithContext(ctx)
	if !parallel {
		g.SetLimit(1)
	}
	for i, d := range s.drivers {
		var target workflow.Parity
		if i < len(targets) {
			target = targets[i]
		}
		path := paths[i]
		g.Go(func() error {
			if err := d.Capture(gctx, path, target); err != nil {
				return fmt.Errorf("%s: %w", d.Name(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (s *Service) removeLast(n int) error {
	pages, err := s.session.LastPages(n)
	if err != nil {
		return err
	}
	for _, p := range pages {
		if err := os.Remove(p.Path); err != nil && !os.IsNotExist(err) {
			return services.Wrap(services.ErrDevice, "device", "retake", fmt.Sprintf("remove page %d", p.Sequence), err)
		}
	}
	s.logger.Debug("removed pages for retake",
		logging.String(logging.FieldEventType, "device_retake_removed"),
		logging.Int("pages", len(pages)),
	)
	return nil
}

func (s *Service) checkFreeSpace() error {
	if s.minFree == 0 {
		return nil
	}
	free, err := freeBytes(s.session.Dir())
	if err != nil {
		return services.Wrap(services.ErrTransient, "device", "trigger", "check free space", err)
	}
	if free < s.minFree {
		return services.Wrap(services.ErrTransient, "device", "trigger",
			fmt.Sprintf("insufficient disk space: %d MiB free, %d MiB required", free>>20, s.minFree>>20), nil)
	}
	return nil
}

func (s *Service) checkConnected(op string) error {
	s.mu.Lock()
	unplugged := s.unplugged
	s.mu.Unlock()
	for _, d := range s.drivers {
		if unplugged || !d.Connected() {
			err := services.Wrap(services.ErrDevice, "device", op, fmt.Sprintf("%s is not connected", d.Name()), nil)
			logging.WarnWithContext(s.logger, "camera disconnected", "device_disconnected",
				logging.String("device", d.Name()),
				logging.String(logging.FieldErrorHint, services.Hint(err)),
				logging.String(logging.FieldImpact, "capture unavailable until the camera is reconnected"),
			)
			return err
		}
	}
	return nil
}

func (s *Service) finish(ctx context.Context) error {
	s.captureMu.Lock()
	defer s.captureMu.Unlock()

	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return nil
	}
	s.finished = true
	s.prepared = false
	s.mu.Unlock()

	if err := s.session.MarkStepDone(); err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, d := range s.drivers {
		g.Go(func() error {
			if err := d.Finalize(gctx); err != nil {
				return fmt.Errorf("%s: %w", d.Name(), err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return services.Wrap(services.ErrDevice, "device", "finish", "", err)
	}
	s.logger.Info("capture finished",
		logging.String(logging.FieldEventType, "device_capture_finished"),
	)
	return nil
}

// CropPage crops the raw image of page sequence in place. The rectangle is
// scaled from its native dimensions to the stored image size.
func (s *Service) CropPage(_ context.Context, sequence int, rect cropstore.Rect) error {
	page, ok, err := s.session.Page(sequence)
	if err != nil {
		return err
	}
	if !ok {
		return services.Wrap(services.ErrNotFound, "device", "crop", fmt.Sprintf("page %d", sequence), nil)
	}
	if err := cropFile(page.Path, rect); err != nil {
		return services.Wrap(services.ErrDevice, "device", "crop", fmt.Sprintf("page %d", sequence), err)
	}
	s.logger.Debug("page cropped",
		logging.String(logging.FieldEventType, "device_page_cropped"),
		logging.Sequence(sequence),
	)
	return nil
}

func (s *Service) handleHotplug(action netlink.KObjAction, vendor, devpath string) {
	s.mu.Lock()
	switch action {
	case netlink.REMOVE:
		s.unplugged = true
		s.prepared = false
	case netlink.ADD:
		s.unplugged = false
	}
	s.mu.Unlock()

	if action == netlink.REMOVE {
		logging.WarnWithContext(s.logger, "camera unplugged", "device_unplugged",
			logging.String("vendor", vendor),
			logging.String("devpath", devpath),
			logging.String(logging.FieldErrorHint, "reconnect the camera and reopen the configuration dialog to prepare it again"),
			logging.String(logging.FieldImpact, "captures fail until the camera is back"),
		)
		return
	}
	s.logger.Info("camera plugged in",
		logging.String(logging.FieldEventType, "device_plugged"),
		logging.String("vendor", vendor),
		logging.String("devpath", devpath),
	)
}
