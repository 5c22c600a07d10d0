package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"scanstation/internal/logging"
	"scanstation/internal/services"
	"scanstation/internal/workflow"
)

// Device is the command side of the capture device service. Every method must
// return promptly; Prepare and Trigger report completion through done, exactly
// once, from any goroutine.
type Device interface {
	Prepare(ctx context.Context, reconfigure bool, done func(error))
	Trigger(ctx context.Context, retake bool, done func(error))
	Finish(ctx context.Context)
}

// ErrFinished is returned when a command arrives after the capture phase ended.
var ErrFinished = errors.New("capture phase finished")

// Change describes one state transition.
type Change struct {
	From     State
	To       State
	Retake   bool
	External bool
	Waiting  bool
	Message  string
	Err      error
}

// Status is a point-in-time view of the machine.
type Status struct {
	State   State
	Waiting bool
	Message string
	Retake  bool
	Err     error
}

// Options configure a Machine.
type Options struct {
	PrepareTimeout time.Duration
	TriggerTimeout time.Duration
	Logger         *slog.Logger
	OnChange       func(Change)
}

// Machine is the capture lifecycle state machine.
type Machine struct {
	device   Device
	opts     Options
	logger   *slog.Logger
	onChange func(Change)

	mu            sync.Mutex
	state         State
	waiting       bool
	message       string
	retake        bool
	external      bool
	lastErr       error
	gen           uint64
	timer         *time.Timer
	pendingFinish context.Context
}

// NewMachine constructs a machine in the Idle state.
func NewMachine(device Device, opts Options) *Machine {
	onChange := opts.OnChange
	if onChange == nil {
		onChange = func(Change) {}
	}
	return &Machine{
		device:   device,
		opts:     opts,
		logger:   logging.NewComponentLogger(opts.Logger, "capture-machine"),
		onChange: onChange,
		state:    StateIdle,
	}
}

// Status returns the current state and busy indicator.
func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{State: m.state, Waiting: m.waiting, Message: m.message, Retake: m.retake, Err: m.lastErr}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Prepare asks the device to get ready for capture. Reconfigure re-prepares a
// Ready machine after device settings changed and uses the configuring message.
func (m *Machine) Prepare(ctx context.Context, reconfigure bool) error {
	m.mu.Lock()
	switch m.state {
	case StateIdle, StateReady:
	case StateFinishing, StateFinished:
		m.mu.Unlock()
		return services.Wrap(ErrFinished, "capture", "prepare", "", nil)
	default:
		state := m.state
		m.mu.Unlock()
		return services.Wrap(services.ErrBusy, "capture", "prepare", fmt.Sprintf("device is %s", state), nil)
	}
	message := MessagePreparing
	if reconfigure {
		message = MessageConfiguring
	}
	m.lastErr = nil
	change := m.transitionLocked(StatePreparing, true, message)
	gen := m.armLocked(m.opts.PrepareTimeout)
	m.mu.Unlock()

	m.emit(change)
	m.device.Prepare(ctx, reconfigure, m.completion(gen, StatePreparing))
	return nil
}

// Trigger forwards a capture to the device. It returns false, without contacting
// the device, unless the machine is Ready. Retakes do not raise the busy indicator.
func (m *Machine) Trigger(ctx context.Context, retake bool) bool {
	m.mu.Lock()
	if m.state != StateReady {
		state := m.state
		m.mu.Unlock()
		m.logger.Debug("trigger dropped",
			logging.String(logging.FieldEventType, "capture_trigger_dropped"),
			logging.String("state", state.String()),
			logging.Bool("retake", retake),
		)
		return false
	}
	m.retake = retake
	m.external = false
	message := ""
	if !retake {
		message = MessageCapturing
	}
	m.lastErr = nil
	change := m.transitionLocked(StateTriggering, !retake, message)
	gen := m.armLocked(m.opts.TriggerTimeout)
	m.mu.Unlock()

	m.emit(change)
	m.device.Trigger(ctx, retake, m.completion(gen, StateTriggering))
	return true
}

// Finish ends the capture phase. The device finish command is fire-and-forget.
// If a prepare or trigger of ours is outstanding the finish is sent once it
// resolves; an externally started capture has no callback to wait for, so it
// is resolved immediately. Calls after the first are no-ops.
func (m *Machine) Finish(ctx context.Context) {
	m.mu.Lock()
	switch m.state {
	case StateFinishing, StateFinished:
		m.mu.Unlock()
		return
	case StateTriggering:
		if m.external {
			m.pendingFinish = context.WithoutCancel(ctx)
			m.resolveLocked(nil)
			return
		}
		fallthrough
	case StatePreparing:
		if m.pendingFinish == nil {
			m.pendingFinish = context.WithoutCancel(ctx)
			m.logger.Debug("finish deferred until device command resolves",
				logging.String(logging.FieldEventType, "capture_finish_deferred"),
				logging.String("state", m.state.String()),
			)
		}
		m.mu.Unlock()
		return
	}
	m.stopTimerLocked()
	m.gen++
	change := m.transitionLocked(StateFinishing, false, "")
	m.mu.Unlock()

	m.emit(change)
	m.sendFinish(ctx)
}

// HandleEvent reconciles device events that were not caused by this machine.
// A capture-triggered event while Ready means the capture was started
// elsewhere (a hardware trigger or another client); the busy indicator is
// raised until the matching capture-succeeded arrives.
func (m *Machine) HandleEvent(ev workflow.Event) {
	switch ev.Kind {
	case workflow.EventCaptureTriggered:
		m.mu.Lock()
		if m.state != StateReady {
			m.mu.Unlock()
			return
		}
		m.external = true
		m.retake = false
		change := m.transitionLocked(StateTriggering, true, MessageCapturing)
		change.External = true
		m.armLocked(m.opts.TriggerTimeout)
		m.mu.Unlock()
		m.emit(change)

	case workflow.EventCaptureSucceeded:
		m.mu.Lock()
		if m.state != StateTriggering || !m.external {
			m.mu.Unlock()
			return
		}
		m.retake = ev.Retake
		m.resolveLocked(nil)
	}
}

func (m *Machine) completion(gen uint64, from State) func(error) {
	var once sync.Once
	return func(err error) {
		once.Do(func() {
			m.mu.Lock()
			if m.gen != gen || m.state != from {
				m.mu.Unlock()
				m.logger.Debug("stale device callback ignored",
					logging.String(logging.FieldEventType, "capture_stale_callback"),
					logging.String("expected_state", from.String()),
				)
				return
			}
			if err != nil {
				err = services.Wrap(services.ErrDevice, "capture", from.String(), "device reported failure", err)
			}
			m.resolveLocked(err)
		})
	}
}

func (m *Machine) onTimeout(gen uint64) {
	m.mu.Lock()
	if m.gen != gen || (m.state != StatePreparing && m.state != StateTriggering) {
		m.mu.Unlock()
		return
	}
	state := m.state
	err := services.Wrap(services.ErrTimeout, "capture", state.String(), "device did not respond", nil)
	logging.WarnWithContext(m.logger, "device command timed out", "capture_timeout",
		logging.String("state", state.String()),
		logging.String(logging.FieldErrorHint, services.Hint(err)),
		logging.String(logging.FieldImpact, "busy indicator cleared; the capture may be incomplete"),
	)
	m.resolveLocked(err)
}

// resolveLocked returns to Ready, releases the lock, and sends any deferred
// finish. It must be called with m.mu held.
func (m *Machine) resolveLocked(err error) {
	m.stopTimerLocked()
	m.gen++
	m.lastErr = err
	m.external = false
	change := m.transitionLocked(StateReady, false, "")
	change.Err = err

	pending := m.pendingFinish
	m.pendingFinish = nil
	var finishing Change
	if pending != nil {
		m.gen++
		finishing = m.transitionLocked(StateFinishing, false, "")
	}
	m.mu.Unlock()

	if err != nil {
		m.logger.Warn("device command failed",
			logging.String(logging.FieldEventType, "capture_command_failed"),
			logging.String(logging.FieldErrorHint, services.Hint(err)),
			logging.String(logging.FieldImpact, "operator must retry"),
			logging.Error(err),
		)
	}
	m.emit(change)
	if pending != nil {
		m.emit(finishing)
		m.sendFinish(pending)
	}
}

func (m *Machine) sendFinish(ctx context.Context) {
	m.device.Finish(ctx)
	m.mu.Lock()
	change := m.transitionLocked(StateFinished, false, "")
	m.mu.Unlock()
	m.emit(change)
}

func (m *Machine) transitionLocked(to State, waiting bool, message string) Change {
	from := m.state
	if !CanTransition(from, to) {
		logging.ErrorWithContext(m.logger, "illegal state transition", "capture_illegal_transition",
			logging.Transition(from.String(), to.String())...)
	}
	m.state = to
	m.waiting = waiting
	m.message = message
	return Change{
		From:     from,
		To:       to,
		Retake:   m.retake,
		External: m.external,
		Waiting:  waiting,
		Message:  message,
		Err:      m.lastErr,
	}
}

func (m *Machine) armLocked(timeout time.Duration) uint64 {
	m.stopTimerLocked()
	m.gen++
	gen := m.gen
	if timeout > 0 {
		m.timer = time.AfterFunc(timeout, func() { m.onTimeout(gen) })
	}
	return gen
}

func (m *Machine) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Machine) emit(change Change) {
	attrs := append(logging.Transition(change.From.String(), change.To.String()),
		logging.String(logging.FieldEventType, "capture_transition"),
		logging.Bool("waiting", change.Waiting),
		logging.Bool("retake", change.Retake),
		logging.Bool("external", change.External),
	)
	m.logger.Debug("state changed", logging.Args(attrs...)...)
	m.onChange(change)
}
