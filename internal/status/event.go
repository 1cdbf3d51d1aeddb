package status

import (
	"time"

	"github.com/galoko/PeopleWatcher/internal/capture"
)

// Event types published on the status topic.
const (
	TypeState      = "state"
	TypeAWBLocked  = "awb_locked"
	TypeTerminated = "terminated"
)

// Event is the JSON status payload.
type Event struct {
	Type       string    `json:"type"`
	InstanceID string    `json:"instance_id,omitempty"`
	RunID      string    `json:"run_id"`
	Timestamp  time.Time `json:"timestamp"`

	// state
	From       string `json:"from,omitempty"`
	To         string `json:"to,omitempty"`
	Transition string `json:"transition,omitempty"`

	// awb_locked
	FrameNumber    uint64  `json:"frame_number,omitempty"`
	ElapsedSeconds float64 `json:"elapsed_seconds,omitempty"`
	Descriptor     string  `json:"descriptor,omitempty"`

	// terminated
	Outcome       string `json:"outcome,omitempty"`
	CauseKind     string `json:"cause_kind,omitempty"`
	Cause         string `json:"cause,omitempty"`
	Reason        string `json:"reason,omitempty"`
	FinalizeError string `json:"finalize_error,omitempty"`
}

// StateEvent converts a state change.
func StateEvent(c capture.StateChange) Event {
	return Event{
		Type:       TypeState,
		RunID:      c.RunID,
		Timestamp:  c.At.UTC(),
		From:       c.From.String(),
		To:         c.To.String(),
		Transition: c.Event,
	}
}

// AWBEvent converts a white balance lock.
func AWBEvent(l capture.AWBLock) Event {
	return Event{
		Type:           TypeAWBLocked,
		RunID:          l.RunID,
		Timestamp:      l.At.UTC(),
		FrameNumber:    l.FrameNumber,
		ElapsedSeconds: l.Elapsed,
		Descriptor:     l.Descriptor,
	}
}

// TerminationEvent converts the terminal signal of a run.
func TerminationEvent(runID string, t capture.Termination) Event {
	ev := Event{
		Type:      TypeTerminated,
		RunID:     runID,
		Timestamp: t.At.UTC(),
		From:      t.From.String(),
		Outcome:   t.Outcome.String(),
		Reason:    t.Reason,
	}
	if t.Cause != nil {
		ev.Cause = t.Cause.Error()
		if k, ok := capture.KindOf(t.Cause); ok {
			ev.CauseKind = k.String()
		}
	}
	if t.FinalizeErr != nil {
		ev.FinalizeError = t.FinalizeErr.Error()
	}
	return ev
}
