package main

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/galoko/PeopleWatcher/internal/capture"
	"github.com/galoko/PeopleWatcher/internal/engine/recorder"
	"github.com/galoko/PeopleWatcher/internal/hal"
	"github.com/galoko/PeopleWatcher/internal/runlog"
)

func newDevicesCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List camera devices and mark the one a run would select",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			cam, err := newCamera(ctx, a.cfg, a.logger)
			if err != nil {
				return fmt.Errorf("camera: %w", err)
			}
			devices, err := cam.Devices(ctx)
			if err != nil {
				return fmt.Errorf("enumerate devices: %w", err)
			}
			sel, selErr := capture.SelectDevice(devices, a.cfg.Facing())

			out := cmd.OutOrStdout()
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "\tID\tNAME\tFACING\tCONFIGS\tAWB LOCK")
			for i, d := range devices {
				mark := ""
				if selErr == nil && i == sel.Index {
					mark = "*"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%t\n",
					mark, d.ID, d.Name, d.Facing, len(d.StreamConfigs), d.SupportsAWBMode(hal.AWBModeOff))
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			for _, s := range sel.Skipped {
				fmt.Fprintf(out, "skipped %s: %s\n", s.ID, s.Reason)
			}
			if selErr != nil {
				fmt.Fprintf(out, "no device qualifies: %v\n", selErr)
			}
			return nil
		},
	}
}

func newInspectCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <file>",
		Short: "Summarize a record file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := recorder.Summarize(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "path:     %s\n", s.Path)
			fmt.Fprintf(out, "run_id:   %s\n", s.RunID)
			fmt.Fprintf(out, "frames:   %d\n", s.Frames)
			fmt.Fprintf(out, "span:     %.3fs (pts %d..%d)\n", s.Seconds, s.FirstPTS, s.LastPTS)
			fmt.Fprintf(out, "size:     %s\n", humanize.IBytes(uint64(s.Bytes)))
			if s.Torn {
				fmt.Fprintln(out, "warning:  record ends in a torn frame")
			}
			return nil
		},
	}
}

func newRunsCommand(a *app) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent runs from the run ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.RunLog.Disabled {
				return errors.New("run ledger is disabled (runlog.disabled)")
			}
			ledger, err := runlog.Open(a.cfg.RunLogPath())
			if err != nil {
				return err
			}
			defer ledger.Close()

			runs, err := ledger.List(cmd.Context(), limit)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTARTED\tDEVICE\tOUTCOME\tFRAMES\tAWB LOCK\tELAPSED\tCAUSE")
			for _, r := range runs {
				lock := "-"
				if r.AWBLockedFrame > 0 {
					lock = fmt.Sprintf("%d", r.AWBLockedFrame)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
					shortID(r.ID),
					humanize.Time(r.StartedAt),
					r.Device,
					r.Outcome,
					r.Frames,
					lock,
					(time.Duration(r.ElapsedSeconds * float64(time.Second))).Round(time.Second),
					r.Cause,
				)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to show")
	return cmd
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
