package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/galoko/PeopleWatcher/internal/capture"
	"github.com/galoko/PeopleWatcher/internal/config"
	"github.com/galoko/PeopleWatcher/internal/engine"
	"github.com/galoko/PeopleWatcher/internal/engine/recorder"
	"github.com/galoko/PeopleWatcher/internal/framepool"
	"github.com/galoko/PeopleWatcher/internal/hal"
	"github.com/galoko/PeopleWatcher/internal/runlog"
)

// EngineFactory builds the engine for one run.
type EngineFactory func(runID string) engine.Engine

// Options configures a Controller.
type Options struct {
	Config *config.Config
	Camera hal.Camera

	// Engine defaults to a recorder writing under storage_root.
	Engine EngineFactory
	// MQTTClient replaces the paho client built from the mqtt section.
	MQTTClient mqtt.Client

	Clock  clock.Clock
	Logger *slog.Logger
}

// Result describes one completed run.
type Result struct {
	RunID       string
	Termination capture.Termination
	Stats       capture.Stats
	// ReportPath is set when a crash report was written.
	ReportPath string
	// CleanupErr collects failures of host-side shutdown steps. They never
	// change the run outcome.
	CleanupErr error
}

// Controller hosts capture runs: it owns the engine, the frame pool and
// the side services around a capture.Machine.
type Controller struct {
	cfg    *config.Config
	cam    hal.Camera
	newEng EngineFactory
	broker mqtt.Client
	clk    clock.Clock
	logger *slog.Logger
}

// New validates opts and builds a controller.
func New(opts Options) (*Controller, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("lifecycle: config is required")
	}
	if opts.Camera == nil {
		return nil, fmt.Errorf("lifecycle: camera is required")
	}
	if err := config.Validate(opts.Config); err != nil {
		return nil, fmt.Errorf("lifecycle: %w", err)
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	c := &Controller{
		cfg:    opts.Config,
		cam:    opts.Camera,
		newEng: opts.Engine,
		broker: opts.MQTTClient,
		clk:    opts.Clock,
		logger: opts.Logger,
	}
	if c.newEng == nil {
		c.newEng = c.defaultEngine
	}
	return c, nil
}

func (c *Controller) defaultEngine(runID string) engine.Engine {
	return recorder.New(recorder.Config{
		RunID:       runID,
		QueueFrames: c.cfg.Engine.QueueFrames,
		HoldTimeout: c.cfg.Engine.HoldTimeout,
		Clock:       c.clk,
	})
}

// Run performs one capture run and blocks until it has terminated and the
// host has cleaned up. Cancelling ctx asks the run to stop. The returned
// error is set only when the run could not be set up at all; a fatal run
// is reported through Result.Termination.
func (c *Controller) Run(ctx context.Context) (Result, error) {
	runID := uuid.NewString()
	logger := c.logger.With("run_id", runID)

	seq := engine.Sequenced(c.newEng(runID))
	if err := seq.Initialize(c.cfg.StorageRoot); err != nil {
		return Result{RunID: runID}, fmt.Errorf("lifecycle: engine initialize: %w", err)
	}

	pool, err := framepool.New(c.cfg.Capture.PoolCapacity)
	if err != nil {
		return Result{RunID: runID}, multierr.Append(
			fmt.Errorf("lifecycle: frame pool: %w", err),
			finalizeEngine(seq, c.cfg.Capture.FinalizeGrace))
	}
	defer pool.Close()

	ledger := c.openLedger(logger)
	if ledger != nil {
		defer ledger.Close()
	}

	svc := newServices(c.cfg, runID, c.broker, logger)
	svcCtx, stopServices := context.WithCancel(context.Background())
	defer stopServices()

	m, err := capture.NewMachine(capture.Config{
		RunID:         runID,
		Facing:        c.cfg.Facing(),
		RecordLimit:   c.cfg.Capture.RecordLimit,
		FinalizeGrace: c.cfg.Capture.FinalizeGrace,
		SetupTimeout:  c.cfg.Capture.SetupTimeout,
		AWB:           c.cfg.AWBPolicy(),
		Clock:         c.clk,
		Logger:        c.logger,
		Observer:      svc.observer(),
	}, c.cam, pool, seq)
	if err != nil {
		return Result{RunID: runID}, multierr.Append(
			fmt.Errorf("lifecycle: %w", err),
			finalizeEngine(seq, c.cfg.Capture.FinalizeGrace))
	}

	var g errgroup.Group
	svc.start(ctx, svcCtx, &g, m)

	logger.Info("lifecycle: run starting",
		"storage_root", c.cfg.StorageRoot,
		"record_limit", c.cfg.Capture.RecordLimit,
	)

	if err := m.Open(ctx); err != nil {
		logger.Debug("lifecycle: open failed", "error", err)
	}
	started := c.clk.Now()
	if ledger != nil {
		if err := ledger.Begin(context.Background(), runID, m.Stats().Device, started); err != nil {
			logger.Warn("lifecycle: run ledger begin failed", "error", err)
			ledger = nil
		}
	}

	term := m.Run(ctx)

	res := Result{RunID: runID, Termination: term}
	var cleanup error

	cleanup = multierr.Append(cleanup, c.settleEngine(seq, logger))
	cleanup = multierr.Append(cleanup, m.Release())
	res.Stats = m.Stats()

	if term.Fatal() {
		path, err := writeCrashReport(c.cfg.StorageRoot, runID, term, res.Stats, c.clk.Now())
		if err != nil {
			cleanup = multierr.Append(cleanup, err)
		} else {
			res.ReportPath = path
			logger.Info("lifecycle: crash report written", "path", path)
		}
	}

	if ledger != nil {
		cleanup = multierr.Append(cleanup, ledger.Finish(context.Background(), runID, summarize(term, res.Stats)))
	}

	stopServices()
	if err := g.Wait(); err != nil {
		logger.Warn("lifecycle: side service failed", "error", err)
		cleanup = multierr.Append(cleanup, err)
	}

	if cleanup != nil {
		logger.Warn("lifecycle: cleanup incomplete", "errors", len(multierr.Errors(cleanup)), "error", cleanup)
	}
	res.CleanupErr = cleanup

	logger.Info("lifecycle: run finished",
		"outcome", term.Outcome.String(),
		"frames", res.Stats.Dispatch.Forwarded,
		"elapsed_seconds", res.Stats.ElapsedSeconds,
	)
	return res, nil
}

// settleEngine completes the engine call order when the run ended without
// the ordered stop: a recording engine is stopped, then finalized within
// the grace period. It does nothing after a normal stop.
func (c *Controller) settleEngine(seq *engine.Sequencer, logger *slog.Logger) error {
	var err error
	if seq.Phase() == engine.PhaseRecording {
		if serr := seq.StopRecording(); serr != nil {
			err = multierr.Append(err, fmt.Errorf("lifecycle: engine stop recording: %w", serr))
		}
	}
	switch seq.Phase() {
	case engine.PhaseInitialized, engine.PhaseStopped:
		err = multierr.Append(err, finalizeEngine(seq, c.cfg.Capture.FinalizeGrace))
	}
	if err != nil {
		logger.Warn("lifecycle: engine shutdown incomplete", "error", err)
	}
	return err
}

func finalizeEngine(seq *engine.Sequencer, grace time.Duration) error {
	if grace <= 0 {
		grace = capture.DefaultFinalizeGrace
	}
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := seq.Finalize(ctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("lifecycle: engine finalize timed out after %s", grace)
		}
		return fmt.Errorf("lifecycle: engine finalize: %w", err)
	}
	return nil
}

func (c *Controller) openLedger(logger *slog.Logger) *runlog.Ledger {
	if c.cfg.RunLog.Disabled {
		logger.Debug("lifecycle: run ledger disabled")
		return nil
	}
	ledger, err := runlog.Open(c.cfg.RunLogPath())
	if err != nil {
		logger.Warn("lifecycle: run ledger unavailable", "path", c.cfg.RunLogPath(), "error", err)
		return nil
	}
	return ledger
}

func summarize(t capture.Termination, s capture.Stats) runlog.Summary {
	sum := runlog.Summary{
		EndedAt:        t.At,
		Outcome:        runlog.OutcomeNormal,
		Cause:          t.Reason,
		Frames:         s.Dispatch.Forwarded,
		AWBLockedFrame: s.AWBLockFrame,
		ElapsedSeconds: s.ElapsedSeconds,
	}
	if t.Fatal() {
		sum.Outcome = runlog.OutcomeFatal
		if t.Cause != nil {
			sum.Cause = t.Cause.Error()
		}
	}
	return sum
}
