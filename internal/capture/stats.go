package capture

import (
	"math"

	"github.com/galoko/PeopleWatcher/internal/framepool"
)

// Stats is a point-in-time view of a run. Safe to call from any goroutine.
type Stats struct {
	RunID            string          `json:"run_id"`
	State            string          `json:"state"`
	Device           string          `json:"device"`
	Descriptor       string          `json:"descriptor"`
	ElapsedSeconds   float64         `json:"elapsed_seconds"`
	LimitSeconds     float64         `json:"limit_seconds"`
	AWBLocked        bool            `json:"awb_locked"`
	AWBLockFrame     uint64          `json:"awb_lock_frame,omitempty"`
	ResultsAuto      uint64          `json:"results_auto"`
	ResultsLocked    uint64          `json:"results_locked"`
	ClockRegressions uint64          `json:"clock_regressions"`
	PendingEvents    int             `json:"pending_events"`
	EventsProcessed  uint64          `json:"events_processed"`
	Dispatch         DispatchStats   `json:"dispatch"`
	Pool             framepool.Stats `json:"pool"`
	FPS              FPSStats        `json:"fps"`
}

// Stats returns the current run statistics.
func (m *Machine) Stats() Stats {
	return Stats{
		RunID:            m.cfg.RunID,
		State:            m.State().String(),
		Device:           m.deviceID.Load().(string),
		Descriptor:       m.descriptor.Load().(string),
		ElapsedSeconds:   math.Float64frombits(m.elapsedBits.Load()),
		LimitSeconds:     m.cfg.RecordLimit.Seconds(),
		AWBLocked:        m.awbLocked.Load(),
		AWBLockFrame:     m.awbLockFrame.Load(),
		ResultsAuto:      m.resultsAuto.Load(),
		ResultsLocked:    m.resultsLocked.Load(),
		ClockRegressions: m.regressions.Load(),
		PendingEvents:    m.queue.len(),
		EventsProcessed:  m.processed.Load(),
		Dispatch:         m.dispatcher.Stats(),
		Pool:             m.pool.Stats(),
		FPS:              m.fps.stats(),
	}
}
