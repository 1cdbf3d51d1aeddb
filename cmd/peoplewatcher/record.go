package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/galoko/PeopleWatcher/internal/config"
	"github.com/galoko/PeopleWatcher/internal/lifecycle"
)

func newRecordCommand(a *app) *cobra.Command {
	var (
		source     string
		limit      time.Duration
		continuous bool
	)

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Run a capture run until the record limit, a stop request or a failure",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if source != "" {
				a.cfg.Capture.Source = source
			}
			if limit > 0 {
				a.cfg.Capture.RecordLimit = limit
			}
			if err := config.Validate(a.cfg); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			ctx := cmd.Context()
			logger := a.logger.With("command", "record")

			cam, err := newCamera(ctx, a.cfg, a.logger)
			if err != nil {
				return fmt.Errorf("camera: %w", err)
			}
			ctrl, err := lifecycle.New(lifecycle.Options{
				Config: a.cfg,
				Camera: cam,
				Logger: a.logger.Logger,
			})
			if err != nil {
				return err
			}

			logger.Info("starting capture; press Ctrl+C to stop",
				"source", a.cfg.Capture.Source,
				"storage_root", a.cfg.StorageRoot,
				"record_limit", a.cfg.Capture.RecordLimit,
				"continuous", continuous,
			)
			for {
				res, err := ctrl.Run(ctx)
				if err != nil {
					return err
				}
				logResult(logger, res)
				if res.Termination.Fatal() {
					return fmt.Errorf("run %s failed: %w", res.RunID, res.Termination.Cause)
				}
				if !continuous || ctx.Err() != nil {
					return nil
				}
				logger.Info("restarting capture", "previous_run", res.RunID)
			}
		},
	}

	cmd.Flags().StringVar(&source, "source", "", "Override capture.source (sim, v4l2)")
	cmd.Flags().DurationVar(&limit, "limit", 0, "Override capture.record_limit")
	cmd.Flags().BoolVar(&continuous, "continuous", false, "Start a new run after each normal completion")
	return cmd
}

func logResult(logger *slog.Logger, res lifecycle.Result) {
	attrs := []any{
		"run_id", res.RunID,
		"outcome", res.Termination.Outcome.String(),
		"state", res.Termination.From.String(),
		"frames", res.Stats.Dispatch.Forwarded,
		"elapsed_s", res.Stats.ElapsedSeconds,
	}
	if res.Stats.AWBLocked {
		attrs = append(attrs, "awb_lock_frame", res.Stats.AWBLockFrame)
	}
	if res.CleanupErr != nil {
		attrs = append(attrs, "cleanup_error", res.CleanupErr)
	}

	if res.Termination.Fatal() {
		logger.Error("run failed", append(attrs, "cause", res.Termination.Cause, "report", res.ReportPath)...)
		return
	}
	logger.Info("run completed", append(attrs, "reason", res.Termination.Reason)...)
}
