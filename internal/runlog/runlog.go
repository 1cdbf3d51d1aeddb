package runlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// ErrUnknownRun is returned by Finish for a run that was never begun.
var ErrUnknownRun = errors.New("runlog: unknown run")

// Outcome values stored for a run.
const (
	OutcomeRunning = "running"
	OutcomeNormal  = "normal"
	OutcomeFatal   = "fatal"
)

// Run is one row of the ledger.
type Run struct {
	ID        string
	Device    string
	StartedAt time.Time
	// EndedAt is zero while the run is in progress.
	EndedAt time.Time
	Outcome string
	// Cause is the fatal cause, or the stop reason of a normal run.
	Cause  string
	Frames uint64
	// AWBLockedFrame is zero when white balance never locked.
	AWBLockedFrame uint64
	ElapsedSeconds float64
}

// Summary is what Finish records about a completed run.
type Summary struct {
	EndedAt        time.Time
	Outcome        string
	Cause          string
	Frames         uint64
	AWBLockedFrame uint64
	ElapsedSeconds float64
}

// Ledger stores the run history in sqlite.
type Ledger struct {
	db *sql.DB
}

// Open opens (or creates) the ledger at path and migrates it.
func Open(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("runlog: failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("runlog: failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("runlog: failed to set busy timeout: %w", err)
	}

	l := &Ledger{db: db}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

func (l *Ledger) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			device TEXT NOT NULL,
			started_at TEXT NOT NULL,
			ended_at TEXT,
			outcome TEXT NOT NULL DEFAULT 'running',
			cause TEXT NOT NULL DEFAULT '',
			frames INTEGER NOT NULL DEFAULT 0,
			awb_locked_frame INTEGER,
			elapsed_seconds REAL NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC)`,
	}

	for _, m := range migrations {
		if _, err := l.db.Exec(m); err != nil {
			return fmt.Errorf("runlog: migration failed: %w", err)
		}
	}
	return nil
}

// Begin records the start of a run.
func (l *Ledger) Begin(ctx context.Context, id, device string, startedAt time.Time) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO runs (id, device, started_at, outcome) VALUES (?, ?, ?, ?)`,
		id, device, formatTime(startedAt), OutcomeRunning)
	if err != nil {
		return fmt.Errorf("runlog: failed to begin run %s: %w", id, err)
	}
	return nil
}

// Finish records how a run ended.
func (l *Ledger) Finish(ctx context.Context, id string, s Summary) error {
	var locked any
	if s.AWBLockedFrame > 0 {
		locked = int64(s.AWBLockedFrame)
	}

	res, err := l.db.ExecContext(ctx,
		`UPDATE runs SET ended_at = ?, outcome = ?, cause = ?, frames = ?, awb_locked_frame = ?, elapsed_seconds = ?
		WHERE id = ?`,
		formatTime(s.EndedAt), s.Outcome, s.Cause, int64(s.Frames), locked, s.ElapsedSeconds, id)
	if err != nil {
		return fmt.Errorf("runlog: failed to finish run %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("runlog: failed to finish run %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownRun, id)
	}
	return nil
}

// List returns up to limit runs, newest first. A limit <= 0 returns all.
func (l *Ledger) List(ctx context.Context, limit int) ([]Run, error) {
	query := `SELECT id, device, started_at, ended_at, outcome, cause, frames, awb_locked_frame, elapsed_seconds
		FROM runs ORDER BY started_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("runlog: failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r       Run
			started string
			ended   sql.NullString
			frames  int64
			locked  sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &r.Device, &started, &ended, &r.Outcome, &r.Cause, &frames, &locked, &r.ElapsedSeconds); err != nil {
			return nil, fmt.Errorf("runlog: failed to scan run: %w", err)
		}
		if r.StartedAt, err = parseTime(started); err != nil {
			return nil, err
		}
		if ended.Valid {
			if r.EndedAt, err = parseTime(ended.String); err != nil {
				return nil, err
			}
		}
		r.Frames = uint64(frames)
		if locked.Valid {
			r.AWBLockedFrame = uint64(locked.Int64)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("runlog: failed to list runs: %w", err)
	}
	return runs, nil
}

// Fixed width so that text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("runlog: bad timestamp %q: %w", s, err)
	}
	return t, nil
}
