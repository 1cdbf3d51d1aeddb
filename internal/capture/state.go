package capture

import (
	"time"

	"github.com/looplab/fsm"
)

// RunState is the state of a capture run.
type RunState int

const (
	StateIdle RunState = iota
	StateOpening
	StateConfiguring
	StateRecordingAuto
	StateRecordingLocked
	StateStopping
	StateTerminated
)

var stateNames = [...]string{
	StateIdle:            "idle",
	StateOpening:         "opening",
	StateConfiguring:     "configuring",
	StateRecordingAuto:   "recording_auto",
	StateRecordingLocked: "recording_locked",
	StateStopping:        "stopping",
	StateTerminated:      "terminated",
}

func (s RunState) String() string {
	if int(s) >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Recording reports whether frames are forwarded in this state.
func (s RunState) Recording() bool {
	return s == StateRecordingAuto || s == StateRecordingLocked
}

func parseState(name string) RunState {
	for i, n := range stateNames {
		if n == name {
			return RunState(i)
		}
	}
	return StateTerminated
}

// Transition names accepted by the run state table.
const (
	trOpen            = "open"
	trOpened          = "opened"
	trOpenFailed      = "open_failed"
	trConfigured      = "configured"
	trConfigureFailed = "configure_failed"
	trAWBConverged    = "awb_converged"
	trLimitReached    = "limit_reached"
	trStopRequested   = "stop_requested"
	trAbort           = "abort"
	trFinalized       = "finalized"
	trFatal           = "fatal"
)

func names(states ...RunState) []string {
	out := make([]string, len(states))
	for i, st := range states {
		out[i] = st.String()
	}
	return out
}

// newRunFSM builds the transition table. The machine drives it from the
// event loop; any event not listed here for the current state is rejected.
func newRunFSM(onEnter fsm.Callback) *fsm.FSM {
	live := names(StateIdle, StateOpening, StateConfiguring, StateRecordingAuto, StateRecordingLocked, StateStopping)
	recording := names(StateRecordingAuto, StateRecordingLocked)

	return fsm.NewFSM(
		StateIdle.String(),
		fsm.Events{
			{Name: trOpen, Src: names(StateIdle), Dst: StateOpening.String()},
			{Name: trOpened, Src: names(StateOpening), Dst: StateConfiguring.String()},
			{Name: trOpenFailed, Src: names(StateOpening), Dst: StateTerminated.String()},
			{Name: trConfigured, Src: names(StateConfiguring), Dst: StateRecordingAuto.String()},
			{Name: trConfigureFailed, Src: names(StateConfiguring), Dst: StateTerminated.String()},
			{Name: trAWBConverged, Src: names(StateRecordingAuto), Dst: StateRecordingLocked.String()},
			{Name: trLimitReached, Src: recording, Dst: StateStopping.String()},
			{Name: trStopRequested, Src: recording, Dst: StateStopping.String()},
			{Name: trAbort, Src: names(StateIdle, StateOpening, StateConfiguring), Dst: StateTerminated.String()},
			{Name: trFinalized, Src: names(StateStopping), Dst: StateTerminated.String()},
			{Name: trFatal, Src: live, Dst: StateTerminated.String()},
		},
		fsm.Callbacks{
			"enter_state": onEnter,
		},
	)
}

// Outcome is how a run ended.
type Outcome int

const (
	OutcomeNormal Outcome = iota
	OutcomeFatal
)

func (o Outcome) String() string {
	if o == OutcomeNormal {
		return "normal"
	}
	return "fatal"
}

// Termination is the single terminal signal of a run.
type Termination struct {
	Outcome Outcome
	// Cause is set for fatal runs.
	Cause error
	// From is the state the run was in when it terminated.
	From RunState
	// Reason says what ended a normal run: "limit", a stop request reason,
	// or "aborted before recording".
	Reason string
	// FinalizeErr is the non-fatal engine finalize failure, if any.
	FinalizeErr error
	At          time.Time
}

// Fatal reports whether the run aborted.
func (t Termination) Fatal() bool { return t.Outcome == OutcomeFatal }

// StateChange describes one transition.
type StateChange struct {
	RunID string
	From  RunState
	To    RunState
	Event string
	At    time.Time
}

// AWBLock describes the one-shot white balance lock.
type AWBLock struct {
	RunID       string
	FrameNumber uint64
	Elapsed     float64
	Descriptor  string
	At          time.Time
}

// Observer receives run notifications. Calls are made from the event loop
// and must not block.
type Observer interface {
	OnStateChange(c StateChange)
	OnAWBLocked(l AWBLock)
	OnTerminated(runID string, t Termination)
}

// NopObserver ignores all notifications.
type NopObserver struct{}

func (NopObserver) OnStateChange(StateChange)        {}
func (NopObserver) OnAWBLocked(AWBLock)              {}
func (NopObserver) OnTerminated(string, Termination) {}
