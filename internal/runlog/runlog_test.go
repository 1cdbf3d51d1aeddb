package runlog

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestLedger_BeginFinishList(t *testing.T) {
	ctx := context.Background()
	l := openTestLedger(t)

	t0 := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

	if err := l.Begin(ctx, "run-a", "sim0", t0); err != nil {
		t.Fatalf("Begin(run-a) error = %v", err)
	}
	if err := l.Begin(ctx, "run-b", "sim0", t0.Add(time.Hour)); err != nil {
		t.Fatalf("Begin(run-b) error = %v", err)
	}
	if err := l.Begin(ctx, "run-c", "/dev/video0", t0.Add(90*time.Minute+500*time.Millisecond)); err != nil {
		t.Fatalf("Begin(run-c) error = %v", err)
	}

	err := l.Finish(ctx, "run-a", Summary{
		EndedAt:        t0.Add(3 * time.Hour),
		Outcome:        OutcomeNormal,
		Cause:          "limit",
		Frames:         216000,
		AWBLockedFrame: 37,
		ElapsedSeconds: 10800,
	})
	if err != nil {
		t.Fatalf("Finish(run-a) error = %v", err)
	}
	err = l.Finish(ctx, "run-b", Summary{
		EndedAt:        t0.Add(time.Hour + time.Minute),
		Outcome:        OutcomeFatal,
		Cause:          "capture: device: device_lost",
		Frames:         1200,
		ElapsedSeconds: 60,
	})
	if err != nil {
		t.Fatalf("Finish(run-b) error = %v", err)
	}

	runs, err := l.List(ctx, 0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}

	want := []Run{
		{ID: "run-c", Device: "/dev/video0", StartedAt: t0.Add(90*time.Minute + 500*time.Millisecond), Outcome: OutcomeRunning},
		{ID: "run-b", Device: "sim0", StartedAt: t0.Add(time.Hour), EndedAt: t0.Add(time.Hour + time.Minute),
			Outcome: OutcomeFatal, Cause: "capture: device: device_lost", Frames: 1200, ElapsedSeconds: 60},
		{ID: "run-a", Device: "sim0", StartedAt: t0, EndedAt: t0.Add(3 * time.Hour),
			Outcome: OutcomeNormal, Cause: "limit", Frames: 216000, AWBLockedFrame: 37, ElapsedSeconds: 10800},
	}
	if diff := cmp.Diff(want, runs); diff != "" {
		t.Errorf("List() mismatch (-want +got):\n%s", diff)
	}

	limited, err := l.List(ctx, 1)
	if err != nil {
		t.Fatalf("List(1) error = %v", err)
	}
	if len(limited) != 1 || limited[0].ID != "run-c" {
		t.Errorf("List(1) = %+v, want only run-c", limited)
	}
	t.Logf("✅ Ledger holds %d runs, newest first", len(runs))
}

func TestLedger_FinishUnknownRun(t *testing.T) {
	l := openTestLedger(t)

	err := l.Finish(context.Background(), "ghost", Summary{EndedAt: time.Now(), Outcome: OutcomeNormal})
	if !errors.Is(err, ErrUnknownRun) {
		t.Fatalf("Finish() error = %v, want ErrUnknownRun", err)
	}
}

func TestLedger_BeginDuplicate(t *testing.T) {
	ctx := context.Background()
	l := openTestLedger(t)

	if err := l.Begin(ctx, "run-a", "sim0", time.Now()); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if err := l.Begin(ctx, "run-a", "sim0", time.Now()); err == nil {
		t.Fatal("second Begin() with the same id should fail")
	}
}

func TestLedger_ReopenKeepsHistory(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "runs.db")

	l, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := l.Begin(ctx, "run-a", "sim0", time.Now()); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	l, err = Open(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer l.Close()

	runs, err := l.List(ctx, 0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(runs) != 1 || runs[0].ID != "run-a" {
		t.Errorf("runs after reopen = %+v", runs)
	}
}
