package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"go.uber.org/multierr"

	"github.com/galoko/PeopleWatcher/internal/engine"
	"github.com/galoko/PeopleWatcher/internal/framepool"
	"github.com/galoko/PeopleWatcher/internal/hal"
)

const (
	// DefaultFinalizeGrace bounds the wait for the engine finalize ack.
	DefaultFinalizeGrace = 3 * time.Second
	// DefaultSetupTimeout bounds device open plus session configuration.
	DefaultSetupTimeout = 10 * time.Second
)

// AWBTrigger selects which reported white-balance states count as
// convergence for the lock.
type AWBTrigger int

const (
	// TriggerConverged locks on AWB state converged only.
	TriggerConverged AWBTrigger = iota
	// TriggerSettled locks on converged or locked.
	TriggerSettled
)

func (t AWBTrigger) String() string {
	if t == TriggerSettled {
		return "settled"
	}
	return "converged"
}

// ParseAWBTrigger parses the names produced by AWBTrigger.String.
func ParseAWBTrigger(s string) (AWBTrigger, error) {
	switch s {
	case "converged":
		return TriggerConverged, nil
	case "settled":
		return TriggerSettled, nil
	}
	return 0, fmt.Errorf("capture: unknown awb trigger %q", s)
}

func (t AWBTrigger) matches(s hal.AWBState) bool {
	switch t {
	case TriggerSettled:
		return s == hal.AWBStateConverged || s == hal.AWBStateLocked
	default:
		return s == hal.AWBStateConverged
	}
}

// AWBPolicy configures the initial white balance and the one-shot lock.
type AWBPolicy struct {
	Lock        bool
	Trigger     AWBTrigger
	InitialMode hal.AWBMode
	// AllowBare lets the lock proceed when the converging result reports
	// no color state; the locked request then only turns white balance off.
	AllowBare bool
}

// Config configures a Machine.
type Config struct {
	RunID         string
	Facing        hal.Facing
	RecordLimit   time.Duration
	FinalizeGrace time.Duration
	SetupTimeout  time.Duration
	AWB           AWBPolicy

	Clock    clock.Clock
	Logger   *slog.Logger
	Observer Observer
}

// Machine is the capture orchestration state machine. Hardware callbacks
// are turned into events and processed one at a time by Run; all run
// state below is owned by that loop.
type Machine struct {
	cfg      Config
	pool     *framepool.Pool
	eng      engine.Engine
	clk      clock.Clock
	logger   *slog.Logger
	observer Observer

	queue      *eventQueue
	fsm        *fsm.FSM
	session    *DeviceSession
	dispatcher *Dispatcher
	sclock     SessionClock
	fps        fpsWindow

	active           hal.Descriptor
	lockFired        bool
	lockSupported    bool
	recordingStarted bool
	stopReason       string
	finalizeErr      error
	setupTimer       *clock.Timer

	term       Termination
	terminated bool
	done       chan struct{}
	doneOnce   sync.Once

	// Published for Stats readers on other goroutines.
	state         atomic.Int32
	elapsedBits   atomic.Uint64
	regressions   atomic.Uint64
	resultsAuto   atomic.Uint64
	resultsLocked atomic.Uint64
	awbLocked     atomic.Bool
	awbLockFrame  atomic.Uint64
	processed     atomic.Uint64
	deviceID      atomic.Value
	descriptor    atomic.Value
}

// NewMachine validates cfg and builds a machine in state Idle.
func NewMachine(cfg Config, cam hal.Camera, pool *framepool.Pool, eng engine.Engine) (*Machine, error) {
	if cam == nil {
		return nil, fmt.Errorf("capture: camera is required")
	}
	if pool == nil {
		return nil, fmt.Errorf("capture: frame pool is required")
	}
	if eng == nil {
		return nil, fmt.Errorf("capture: engine is required")
	}
	if cfg.RecordLimit <= 0 {
		return nil, fmt.Errorf("capture: record limit must be positive, got %s", cfg.RecordLimit)
	}
	if cfg.FinalizeGrace < 0 {
		return nil, fmt.Errorf("capture: finalize grace must not be negative, got %s", cfg.FinalizeGrace)
	}
	if cfg.FinalizeGrace == 0 {
		cfg.FinalizeGrace = DefaultFinalizeGrace
	}
	if cfg.SetupTimeout <= 0 {
		cfg.SetupTimeout = DefaultSetupTimeout
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Observer == nil {
		cfg.Observer = NopObserver{}
	}

	logger := cfg.Logger.With("run_id", cfg.RunID)
	m := &Machine{
		cfg:      cfg,
		pool:     pool,
		eng:      eng,
		clk:      cfg.Clock,
		logger:   logger,
		observer: cfg.Observer,
		queue:    newEventQueue(),
		session:  NewDeviceSession(cam, cfg.Facing, logger),
		done:     make(chan struct{}),
	}
	m.dispatcher = NewDispatcher(pool, eng, logger)
	m.fsm = newRunFSM(m.onEnterState)
	m.deviceID.Store("")
	m.descriptor.Store("")

	logger.Info("capture: machine created",
		"facing", cfg.Facing.String(),
		"record_limit", cfg.RecordLimit,
		"finalize_grace", cfg.FinalizeGrace,
		"awb_lock", cfg.AWB.Lock,
		"awb_trigger", cfg.AWB.Trigger.String(),
		"awb_initial", cfg.AWB.InitialMode.String(),
		"pool_capacity", pool.Capacity(),
	)
	return m, nil
}

// RunID returns the run identifier.
func (m *Machine) RunID() string { return m.cfg.RunID }

// State returns the current run state. Safe from any goroutine.
func (m *Machine) State() RunState { return RunState(m.state.Load()) }

// Done is closed once the run has terminated.
func (m *Machine) Done() <-chan struct{} { return m.done }

// Termination returns the terminal signal. Valid after Done is closed.
func (m *Machine) Termination() Termination {
	<-m.done
	return m.term
}

// RequestStop asks the machine to end the run. While recording this takes
// the ordered stop path; before recording the run ends without engine
// recording. Safe from any goroutine.
func (m *Machine) RequestStop(reason string) {
	if !m.queue.push(Event{Kind: EventStopRequested, Reason: reason}) {
		m.logger.Debug("capture: stop request after termination ignored", "reason", reason)
	}
}

// Open moves the machine from Idle to Opening: it enumerates devices,
// applies the selection policy and starts the asynchronous open. A
// failure here terminates the run with a DeviceUnavailable cause.
func (m *Machine) Open(ctx context.Context) error {
	if err := m.transition(trOpen); err != nil {
		return err
	}

	sel, err := m.session.Open(ctx, m.deviceCallbacks())
	if err != nil {
		m.fail(trOpenFailed, err)
		return err
	}

	m.deviceID.Store(sel.Device.ID)
	m.lockSupported = sel.Device.SupportsAWBMode(hal.AWBModeOff)
	if m.cfg.AWB.Lock && !m.lockSupported {
		m.logger.Warn("capture: device has no manual white balance, awb lock disabled for this run",
			"device", sel.Device.ID,
		)
	}

	m.setupTimer = m.clk.AfterFunc(m.cfg.SetupTimeout, func() {
		m.queue.push(Event{Kind: eventSetupTimeout})
	})
	return nil
}

// Run processes events until the run terminates and returns the terminal
// signal. It opens the device first if Open was not called. Cancelling
// ctx is treated as a stop request; Run still waits for the ordered stop,
// which is bounded by the finalize grace.
func (m *Machine) Run(ctx context.Context) Termination {
	if m.State() == StateIdle {
		if err := m.Open(ctx); err != nil {
			return m.term
		}
	}

	popCtx := ctx
	for !m.terminated {
		ev, err := m.queue.pop(popCtx)
		if err != nil {
			popCtx = context.Background()
			m.handleStop("context cancelled")
			continue
		}
		m.handle(ev)
		m.processed.Add(1)
	}
	return m.term
}

// Release closes the session and device and releases any frames still
// ready in the pool. Call it once Run has returned.
func (m *Machine) Release() error {
	err := m.session.Close()
	if n, derr := m.dispatcher.Drain(false, nil); n > 0 || derr != nil {
		m.logger.Info("capture: released leftover frames", "frames", n, "error", derr)
		err = multierr.Append(err, derr)
	}
	if err != nil {
		m.logger.Warn("capture: device release incomplete", "error", err)
	}
	return err
}

// eventSetupTimeout fires when open plus configure takes too long.
const eventSetupTimeout EventKind = -1

func (m *Machine) handle(ev Event) {
	m.logger.Debug("capture: event", "kind", ev.Kind.String(), "state", m.State().String())

	switch ev.Kind {
	case EventOpened:
		m.onOpened(ev.Device)
	case EventDisconnected, EventDeviceError:
		m.onDeviceLost(ev)
	case EventConfigured:
		m.onConfigured(ev.Session)
	case EventConfigureFailed:
		m.onConfigureFailed(ev.Session, ev.Reason)
	case EventCaptureCompleted:
		m.onCaptureCompleted(ev.Result)
	case EventCaptureFailed:
		m.onCaptureFailure(newRunError(KindCaptureFailed, "capture",
			fmt.Errorf("frame %d: %s", ev.Failure.FrameNumber, ev.Failure.Reason)))
	case EventBufferLost:
		m.onCaptureFailure(newRunError(KindBufferLost, "capture",
			fmt.Errorf("frame %d: %w", ev.Failure.FrameNumber, ev.Err)))
	case EventStopRequested:
		m.handleStop(ev.Reason)
	case EventFinalized:
		m.onFinalized(ev.Err)
	case eventSetupTimeout:
		m.onSetupTimeout()
	}
}

func (m *Machine) onOpened(dev hal.Device) {
	if m.State() != StateOpening {
		m.logger.Warn("capture: device opened outside opening state, closing", "state", m.State().String())
		dev.Close()
		return
	}

	m.session.Attach(dev)
	if err := m.transition(trOpened); err != nil {
		m.fail(trFatal, err)
		return
	}
	if err := m.session.Configure(m.pool, m.sessionCallbacks()); err != nil {
		m.fail(trConfigureFailed, err)
	}
}

func (m *Machine) onDeviceLost(ev Event) {
	what := "disconnected"
	if ev.Kind == EventDeviceError {
		what = fmt.Sprintf("error code %d", ev.Code)
	}

	if m.State() == StateOpening {
		if ev.Device != nil {
			m.session.Attach(ev.Device)
		}
		m.fail(trOpenFailed, newRunError(KindDeviceUnavailable, "open", errors.New(what)))
		return
	}

	m.session.Invalidate()
	m.fail(trFatal, newRunError(KindDeviceLost, "device", errors.New(what)))
}

func (m *Machine) onConfigured(sess hal.Session) {
	if m.State() != StateConfiguring {
		m.logger.Warn("capture: session configured outside configuring state, closing", "state", m.State().String())
		sess.Close()
		return
	}

	m.session.AttachSession(sess)
	if err := m.transition(trConfigured); err != nil {
		m.fail(trFatal, err)
		return
	}
	m.stopSetupTimer()

	if err := m.eng.StartRecording(); err != nil {
		m.fail(trFatal, newRunError(KindEngineFailed, "start recording", err))
		return
	}
	m.recordingStarted = true

	m.sclock.Reset()
	m.fps.reset()
	m.active = hal.AutoDescriptor(m.cfg.AWB.InitialMode)
	if err := m.session.Submit(m.active, m.captureCallbacks()); err != nil {
		m.fail(trFatal, newRunError(KindCaptureFailed, "submit auto request", err))
		return
	}
	m.descriptor.Store(m.active.String())
}

func (m *Machine) onConfigureFailed(sess hal.Session, reason string) {
	if sess != nil {
		m.session.AttachSession(sess)
	}
	m.fail(trConfigureFailed, newRunError(KindSessionConfigureFailed, "configure", errors.New(reason)))
}

func (m *Machine) onCaptureCompleted(res hal.CaptureResult) {
	st := m.State()
	forward := st.Recording()

	n, err := m.dispatcher.Drain(forward, m.onFrame)
	if res.Variant == hal.VariantLocked {
		m.resultsLocked.Add(1)
	} else {
		m.resultsAuto.Add(1)
	}
	if err != nil {
		m.fail(trFatal, err)
		return
	}
	if n > 1 {
		m.logger.Debug("capture: drained coalesced delivery", "frames", n, "frame", res.FrameNumber)
	}
	if !forward {
		return
	}

	if m.sclock.Started() && m.sclock.Elapsed() >= m.cfg.RecordLimit.Seconds() {
		m.logger.Info("capture: record limit reached",
			"elapsed_seconds", m.sclock.Elapsed(),
			"limit", m.cfg.RecordLimit,
		)
		m.beginStopping(trLimitReached, "limit")
		return
	}

	if st == StateRecordingAuto {
		m.maybeLock(res)
	}
}

func (m *Machine) onFrame(f *framepool.Frame) {
	elapsed := m.sclock.Observe(f.Timestamp)
	m.elapsedBits.Store(math.Float64bits(elapsed))
	m.regressions.Store(m.sclock.Regressions())
	m.fps.add(f.Timestamp)
}

// maybeLock performs the one-shot white balance lock on the first result
// that reports convergence.
func (m *Machine) maybeLock(res hal.CaptureResult) {
	if m.lockFired || !m.cfg.AWB.Lock || !m.lockSupported {
		return
	}
	if !m.cfg.AWB.Trigger.matches(res.AWBState) {
		return
	}
	m.lockFired = true

	locked, err := hal.LockedDescriptor(m.active, res, m.cfg.AWB.AllowBare)
	if err != nil {
		m.logger.Warn("capture: cannot lock white balance, staying on auto",
			"frame", res.FrameNumber,
			"error", err,
		)
		return
	}

	if err := m.session.StopRepeating(); err != nil {
		m.fail(trFatal, newRunError(KindCaptureFailed, "stop auto request", err))
		return
	}
	if err := m.session.Submit(locked, m.captureCallbacks()); err != nil {
		m.fail(trFatal, newRunError(KindCaptureFailed, "submit locked request", err))
		return
	}
	if err := m.transition(trAWBConverged); err != nil {
		m.fail(trFatal, err)
		return
	}

	m.active = locked
	m.descriptor.Store(locked.String())
	m.awbLocked.Store(true)
	m.awbLockFrame.Store(res.FrameNumber)

	m.logger.Info("capture: white balance locked",
		"frame", res.FrameNumber,
		"elapsed_seconds", m.sclock.Elapsed(),
		"descriptor", locked.String(),
	)
	m.observer.OnAWBLocked(AWBLock{
		RunID:       m.cfg.RunID,
		FrameNumber: res.FrameNumber,
		Elapsed:     m.sclock.Elapsed(),
		Descriptor:  locked.String(),
		At:          m.clk.Now(),
	})
}

func (m *Machine) handleStop(reason string) {
	switch st := m.State(); {
	case st.Recording():
		m.logger.Info("capture: stop requested", "reason", reason)
		m.beginStopping(trStopRequested, reason)
	case st == StateIdle, st == StateOpening, st == StateConfiguring:
		m.logger.Info("capture: stop requested before recording", "state", st.String(), "reason", reason)
		m.terminate(OutcomeNormal, nil, "aborted before recording: "+reason, trAbort)
	default:
		m.logger.Debug("capture: stop request ignored", "state", st.String(), "reason", reason)
	}
}

// beginStopping stops the repeating request and the engine recording and
// starts the bounded finalize wait.
func (m *Machine) beginStopping(tr, reason string) {
	if err := m.transition(tr); err != nil {
		m.fail(trFatal, err)
		return
	}
	m.stopReason = reason

	if err := m.session.StopRepeating(); err != nil {
		m.logger.Warn("capture: stop repeating failed", "error", err)
	}
	if n, err := m.dispatcher.Drain(false, nil); n > 0 || err != nil {
		m.logger.Debug("capture: released frames after stop", "frames", n, "error", err)
	}
	if err := m.eng.StopRecording(); err != nil {
		m.logger.Warn("capture: engine stop recording failed", "error", err)
	}

	m.finalizeAsync()
}

func (m *Machine) finalizeAsync() {
	grace := m.cfg.FinalizeGrace
	ctx, cancel := context.WithCancel(context.Background())
	res := make(chan error, 1)

	go func() { res <- m.eng.Finalize(ctx) }()
	go func() {
		defer cancel()
		t := m.clk.Timer(grace)
		defer t.Stop()

		var err error
		select {
		case err = <-res:
		case <-t.C:
			err = newRunError(KindEngineFinalizeTimeout, "finalize",
				fmt.Errorf("no acknowledgement within %s", grace))
		}
		m.queue.push(Event{Kind: EventFinalized, Err: err})
	}()
}

func (m *Machine) onFinalized(err error) {
	if m.State() != StateStopping {
		return
	}

	if err != nil {
		if k, ok := KindOf(err); ok && k == KindEngineFinalizeTimeout {
			m.logger.Warn("capture: engine finalize timed out, shutting down anyway", "error", err)
		} else {
			m.logger.Warn("capture: engine finalize failed", "error", err)
		}
	}
	m.finalizeErr = err
	m.terminate(OutcomeNormal, nil, m.stopReason, trFinalized)
}

func (m *Machine) onCaptureFailure(err error) {
	if m.State() == StateTerminated {
		return
	}
	m.fail(trFatal, err)
}

func (m *Machine) onSetupTimeout() {
	switch m.State() {
	case StateOpening:
		m.fail(trOpenFailed, newRunError(KindDeviceUnavailable, "open", errors.New("open timed out")))
	case StateConfiguring:
		m.fail(trConfigureFailed, newRunError(KindSessionConfigureFailed, "configure", errors.New("configure timed out")))
	}
}

// fail terminates the run with a fatal cause. Frames already ready are
// released unsent; no further request is submitted.
func (m *Machine) fail(tr string, cause error) {
	if m.terminated {
		return
	}
	if n, err := m.dispatcher.Drain(false, nil); n > 0 || err != nil {
		m.logger.Debug("capture: released frames on failure", "frames", n, "error", err)
	}
	m.terminate(OutcomeFatal, cause, "", tr)
}

func (m *Machine) terminate(outcome Outcome, cause error, reason, tr string) {
	if m.terminated {
		return
	}
	from := m.State()

	if err := m.transition(tr); err != nil {
		m.logger.Error("capture: forcing terminated state", "error", err)
		m.fsm.SetState(StateTerminated.String())
		m.state.Store(int32(StateTerminated))
	}
	m.stopSetupTimer()

	m.terminated = true
	m.term = Termination{
		Outcome:     outcome,
		Cause:       cause,
		From:        from,
		Reason:      reason,
		FinalizeErr: m.finalizeErr,
		At:          m.clk.Now(),
	}
	if left := m.queue.close(); len(left) > 0 {
		m.closeDropped(left)
	}

	attrs := []any{
		"outcome", outcome.String(),
		"from", from.String(),
		"elapsed_seconds", m.sclock.Elapsed(),
		"frames_forwarded", m.dispatcher.Stats().Forwarded,
		"awb_locked", m.awbLocked.Load(),
	}
	if outcome == OutcomeFatal {
		m.logger.Error("capture: run aborted", append(attrs, "cause", cause)...)
	} else {
		m.logger.Info("capture: run completed", append(attrs, "reason", reason)...)
	}

	m.observer.OnTerminated(m.cfg.RunID, m.term)
	m.doneOnce.Do(func() { close(m.done) })
}

// closeDropped releases handles carried by events that will never be
// processed.
func (m *Machine) closeDropped(left []Event) {
	for _, ev := range left {
		switch {
		case ev.Kind == EventOpened && ev.Device != nil:
			ev.Device.Close()
		case ev.Kind == EventConfigured && ev.Session != nil:
			ev.Session.Close()
		}
	}
	m.logger.Debug("capture: events dropped after termination", "count", len(left))
}

func (m *Machine) stopSetupTimer() {
	if m.setupTimer != nil {
		m.setupTimer.Stop()
		m.setupTimer = nil
	}
}

func (m *Machine) transition(name string) error {
	if err := m.fsm.Event(context.Background(), name); err != nil {
		return newRunError(KindInternal, "transition "+name, err)
	}
	return nil
}

func (m *Machine) onEnterState(_ context.Context, e *fsm.Event) {
	from, to := parseState(e.Src), parseState(e.Dst)
	m.state.Store(int32(to))

	m.logger.Info("capture: state changed", "from", e.Src, "to", e.Dst, "event", e.Event)
	m.observer.OnStateChange(StateChange{
		RunID: m.cfg.RunID,
		From:  from,
		To:    to,
		Event: e.Event,
		At:    m.clk.Now(),
	})
}

// Hardware callbacks only enqueue. A device or session delivered after the
// run terminated is closed on the spot since nothing will adopt it.

func (m *Machine) deviceCallbacks() hal.DeviceCallbacks {
	return hal.DeviceCallbacks{
		OnOpened: func(dev hal.Device) {
			if !m.queue.push(Event{Kind: EventOpened, Device: dev}) {
				dev.Close()
			}
		},
		OnDisconnected: func(dev hal.Device) {
			m.queue.push(Event{Kind: EventDisconnected, Device: dev})
		},
		OnError: func(dev hal.Device, code int) {
			m.queue.push(Event{Kind: EventDeviceError, Device: dev, Code: code})
		},
	}
}

func (m *Machine) sessionCallbacks() hal.SessionCallbacks {
	return hal.SessionCallbacks{
		OnConfigured: func(s hal.Session) {
			if !m.queue.push(Event{Kind: EventConfigured, Session: s}) {
				s.Close()
			}
		},
		OnConfigureFailed: func(s hal.Session, reason string) {
			m.queue.push(Event{Kind: EventConfigureFailed, Session: s, Reason: reason})
		},
	}
}

func (m *Machine) captureCallbacks() hal.CaptureCallbacks {
	return hal.CaptureCallbacks{
		OnCaptureCompleted: func(res hal.CaptureResult) {
			m.queue.push(Event{Kind: EventCaptureCompleted, Result: res})
		},
		OnCaptureFailed: func(f hal.CaptureFailure) {
			m.queue.push(Event{Kind: EventCaptureFailed, Failure: f})
		},
		OnBufferLost: func(frameNumber uint64, err error) {
			m.queue.push(Event{Kind: EventBufferLost, Failure: hal.CaptureFailure{FrameNumber: frameNumber}, Err: err})
		},
	}
}
