package capture

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/galoko/PeopleWatcher/internal/engine"
	"github.com/galoko/PeopleWatcher/internal/framepool"
	"github.com/galoko/PeopleWatcher/internal/hal"
	"github.com/galoko/PeopleWatcher/internal/hal/simcam"
)

// fakeEngine records the calls it receives.
type fakeEngine struct {
	mu        sync.Mutex
	calls     []string
	sent      []int64
	sendCalls int

	failSendAt   int // 1-based SendFrame call that fails; 0 never
	startErr     error
	hangFinalize bool
}

func (e *fakeEngine) record(call string) {
	e.mu.Lock()
	e.calls = append(e.calls, call)
	e.mu.Unlock()
}

func (e *fakeEngine) Initialize(string) error {
	e.record("initialize")
	return nil
}

func (e *fakeEngine) StartRecording() error {
	e.record("start")
	return e.startErr
}

func (e *fakeEngine) SendFrame(f engine.Frame) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sendCalls++
	if e.failSendAt > 0 && e.sendCalls == e.failSendAt {
		return errors.New("encoder rejected frame")
	}
	e.sent = append(e.sent, f.Timestamp)
	return nil
}

func (e *fakeEngine) StopRecording() error {
	e.record("stop")
	return nil
}

func (e *fakeEngine) Finalize(ctx context.Context) error {
	e.record("finalize")
	if e.hangFinalize {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (e *fakeEngine) Calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.calls...)
}

func (e *fakeEngine) Sent() []int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]int64(nil), e.sent...)
}

// recordingObserver keeps every notification.
type recordingObserver struct {
	mu      sync.Mutex
	changes []StateChange
	locks   []AWBLock
	terms   []Termination
}

func (o *recordingObserver) OnStateChange(c StateChange) {
	o.mu.Lock()
	o.changes = append(o.changes, c)
	o.mu.Unlock()
}

func (o *recordingObserver) OnAWBLocked(l AWBLock) {
	o.mu.Lock()
	o.locks = append(o.locks, l)
	o.mu.Unlock()
}

func (o *recordingObserver) OnTerminated(_ string, t Termination) {
	o.mu.Lock()
	o.terms = append(o.terms, t)
	o.mu.Unlock()
}

func (o *recordingObserver) States() []RunState {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]RunState, len(o.changes))
	for i, c := range o.changes {
		out[i] = c.To
	}
	return out
}

func (o *recordingObserver) Locks() []AWBLock {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]AWBLock(nil), o.locks...)
}

type harness struct {
	t        *testing.T
	cam      *simcam.Camera
	pool     *framepool.Pool
	eng      *fakeEngine
	obs      *recordingObserver
	m        *Machine
	result   chan Termination
	expected uint64
}

func testScript() simcam.Script {
	s := simcam.DefaultScript()
	s.Width, s.Height = 32, 24
	s.ConvergeAt = 0
	return s
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHarness(t *testing.T, script simcam.Script, eng *fakeEngine, configure func(*Config)) *harness {
	t.Helper()

	pool, err := framepool.New(framepool.MinCapacity)
	if err != nil {
		t.Fatal(err)
	}
	if eng == nil {
		eng = &fakeEngine{}
	}
	obs := &recordingObserver{}
	cfg := Config{
		RunID:       "run-test",
		Facing:      hal.FacingBack,
		RecordLimit: time.Hour,
		AWB: AWBPolicy{
			Lock:        true,
			Trigger:     TriggerConverged,
			InitialMode: hal.AWBModeCloudyDaylight,
		},
		Logger:   quietLogger(),
		Observer: obs,
	}
	if configure != nil {
		configure(&cfg)
	}

	cam := simcam.New(script)
	m, err := NewMachine(cfg, cam, pool, eng)
	if err != nil {
		t.Fatalf("NewMachine() error = %v", err)
	}
	return &harness{
		t:      t,
		cam:    cam,
		pool:   pool,
		eng:    eng,
		obs:    obs,
		m:      m,
		result: make(chan Termination, 1),
	}
}

func (h *harness) run(ctx context.Context) {
	go func() { h.result <- h.m.Run(ctx) }()
}

// startRecording runs the machine and waits until the automatic request
// is active and the setup events are processed.
func (h *harness) startRecording(ctx context.Context) {
	h.t.Helper()
	h.run(ctx)
	h.expected = 2 // opened, configured
	h.waitFor("recording with active request", func() bool {
		return h.cam.Repeating() && h.m.Stats().EventsProcessed >= h.expected
	})
}

// produce delivers n frames one at a time, waiting for each to be handled.
func (h *harness) produce(n int) {
	h.t.Helper()
	for i := 0; i < n; i++ {
		if err := h.cam.Produce(1); err != nil {
			h.t.Fatalf("Produce() error = %v", err)
		}
		h.expected++
		h.waitFor("frame handled", func() bool {
			return h.m.Stats().EventsProcessed >= h.expected
		})
	}
}

func (h *harness) wait() Termination {
	h.t.Helper()
	select {
	case term := <-h.result:
		return term
	case <-time.After(5 * time.Second):
		h.t.Fatalf("run did not terminate, state=%s", h.m.State())
		return Termination{}
	}
}

// waitAdvancing waits for termination while moving the mock clock forward.
func (h *harness) waitAdvancing(mock *clock.Mock) Termination {
	h.t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case term := <-h.result:
			return term
		default:
		}
		mock.Add(500 * time.Millisecond)
		time.Sleep(time.Millisecond)
	}
	h.t.Fatalf("run did not terminate, state=%s", h.m.State())
	return Termination{}
}

func (h *harness) waitFor(what string, cond func() bool) {
	h.t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			h.t.Fatalf("timed out waiting for %s, state=%s", what, h.m.State())
		}
		time.Sleep(time.Millisecond)
	}
}
