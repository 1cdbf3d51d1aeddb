package status

import (
	"log/slog"

	"github.com/galoko/PeopleWatcher/internal/capture"
)

// LogObserver writes run notifications to a logger.
type LogObserver struct {
	Logger *slog.Logger
}

func (o LogObserver) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

func (o LogObserver) OnStateChange(c capture.StateChange) {
	o.logger().Debug("status: state", "run_id", c.RunID, "from", c.From.String(), "to", c.To.String())
}

func (o LogObserver) OnAWBLocked(l capture.AWBLock) {
	o.logger().Info("status: white balance locked",
		"run_id", l.RunID,
		"frame", l.FrameNumber,
		"elapsed_seconds", l.Elapsed,
	)
}

func (o LogObserver) OnTerminated(runID string, t capture.Termination) {
	attrs := []any{"run_id", runID, "outcome", t.Outcome.String(), "from", t.From.String()}
	if t.Fatal() {
		o.logger().Error("status: run terminated", append(attrs, "cause", t.Cause)...)
		return
	}
	if t.FinalizeErr != nil {
		attrs = append(attrs, "finalize_error", t.FinalizeErr)
	}
	o.logger().Info("status: run terminated", append(attrs, "reason", t.Reason)...)
}

type multi []capture.Observer

// Multi fans notifications out to every non-nil observer in order.
func Multi(observers ...capture.Observer) capture.Observer {
	var m multi
	for _, o := range observers {
		if o != nil {
			m = append(m, o)
		}
	}
	return m
}

func (m multi) OnStateChange(c capture.StateChange) {
	for _, o := range m {
		o.OnStateChange(c)
	}
}

func (m multi) OnAWBLocked(l capture.AWBLock) {
	for _, o := range m {
		o.OnAWBLocked(l)
	}
}

func (m multi) OnTerminated(runID string, t capture.Termination) {
	for _, o := range m {
		o.OnTerminated(runID, t)
	}
}
