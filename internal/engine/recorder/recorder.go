package recorder

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"

	"github.com/galoko/PeopleWatcher/internal/engine"
)

const (
	// RecordsDir is the directory under the storage root holding records.
	RecordsDir = "Records"

	// DefaultQueueFrames is three seconds of video at 20 fps.
	DefaultQueueFrames = 60
	// DefaultHoldTimeout bounds how long SendFrame waits for queue space.
	DefaultHoldTimeout = 500 * time.Millisecond
)

var (
	// ErrQueueFull is returned by SendFrame when the writer falls behind
	// for longer than the hold timeout.
	ErrQueueFull = errors.New("recorder: write queue full")
	// ErrClosed is returned for calls after Finalize.
	ErrClosed = errors.New("recorder: finalized")
	// ErrNotInitialized is returned for calls before Initialize.
	ErrNotInitialized = errors.New("recorder: not initialized")
)

// Config configures a Recorder.
type Config struct {
	RunID       string
	QueueFrames int
	HoldTimeout time.Duration
	Clock       clock.Clock
}

type opKind int

const (
	opFrame opKind = iota
	opClose
)

type op struct {
	kind  opKind
	frame FrameRecord
}

// Recorder is an engine.Engine that stores frames in record files under
// <root>/Records. Writes happen on a single writer goroutine fed by a
// bounded queue.
type Recorder struct {
	cfg Config
	dir string

	mu     sync.RWMutex
	ops    chan op
	closed bool
	done   chan struct{}

	// Writer goroutine state.
	cur     *os.File
	curPath string
	buf     *bufio.Writer
	baseTS  int64
	opened  bool

	errMu    sync.Mutex
	writeErr error

	records       uint64
	framesQueued  uint64
	framesWritten uint64
	bytesWritten  uint64
	queueFull     uint64
}

var _ engine.Engine = (*Recorder)(nil)

// New creates a recorder. Nothing touches the disk before Initialize.
func New(cfg Config) *Recorder {
	if cfg.QueueFrames <= 0 {
		cfg.QueueFrames = DefaultQueueFrames
	}
	if cfg.HoldTimeout <= 0 {
		cfg.HoldTimeout = DefaultHoldTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	return &Recorder{cfg: cfg}
}

// Initialize prepares <storageRoot>/Records, clears in-use flags left by
// an earlier process and starts the writer.
func (r *Recorder) Initialize(storageRoot string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ops != nil {
		return nil
	}

	dir := filepath.Join(storageRoot, RecordsDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create records dir: %w", err)
	}
	if err := clearInUseFlags(dir); err != nil {
		return err
	}

	r.dir = dir
	r.ops = make(chan op, r.cfg.QueueFrames)
	r.done = make(chan struct{})
	go r.writeLoop()

	slog.Info("recorder: initialized",
		"dir", dir,
		"queue_frames", r.cfg.QueueFrames,
		"hold_timeout", r.cfg.HoldTimeout,
	)
	return nil
}

func clearInUseFlags(dir string) error {
	stale, err := filepath.Glob(filepath.Join(dir, "*"+InUseSuffix))
	if err != nil {
		return err
	}

	var errs error
	for _, p := range stale {
		target := strings.TrimSuffix(p, InUseSuffix)
		if err := os.Rename(p, target); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("failed to clear in-use flag of %s: %w", p, err))
			continue
		}
		slog.Warn("recorder: recovered record left in use", "path", target)
	}
	return errs
}

// StartRecording arms the recorder. The record file itself is opened by
// the first frame so its timestamps start at zero.
func (r *Recorder) StartRecording() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.ops == nil {
		return ErrNotInitialized
	}
	if r.closed {
		return ErrClosed
	}
	return r.lastError()
}

// SendFrame copies f and queues it for writing. It blocks for at most the
// hold timeout when the queue is full.
func (r *Recorder) SendFrame(f engine.Frame) error {
	rec := FrameRecord{
		Timestamp: f.Timestamp,
		StrideY:   f.StrideY,
		StrideU:   f.StrideU,
		StrideV:   f.StrideV,
		Y:         append([]byte(nil), f.Y...),
		U:         append([]byte(nil), f.U...),
		V:         append([]byte(nil), f.V...),
	}
	if err := r.enqueue(op{kind: opFrame, frame: rec}); err != nil {
		return err
	}
	atomic.AddUint64(&r.framesQueued, 1)
	return nil
}

// StopRecording queues the close of the current record.
func (r *Recorder) StopRecording() error {
	return r.enqueue(op{kind: opClose})
}

func (r *Recorder) enqueue(o op) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.ops == nil {
		return ErrNotInitialized
	}
	if r.closed {
		return ErrClosed
	}
	if err := r.lastError(); err != nil {
		return err
	}

	select {
	case r.ops <- o:
		return nil
	default:
	}

	t := r.cfg.Clock.Timer(r.cfg.HoldTimeout)
	defer t.Stop()

	select {
	case r.ops <- o:
		return nil
	case <-t.C:
		atomic.AddUint64(&r.queueFull, 1)
		return fmt.Errorf("%w: depth=%d", ErrQueueFull, cap(r.ops))
	}
}

// Finalize closes the queue and waits for the writer to drain it.
func (r *Recorder) Finalize(ctx context.Context) error {
	r.mu.Lock()
	if r.ops == nil {
		r.mu.Unlock()
		return nil
	}
	if !r.closed {
		r.closed = true
		close(r.ops)
	}
	done := r.done
	r.mu.Unlock()

	select {
	case <-done:
		slog.Info("recorder: finalized",
			"records", atomic.LoadUint64(&r.records),
			"frames_written", atomic.LoadUint64(&r.framesWritten),
		)
		return r.lastError()
	case <-ctx.Done():
		return fmt.Errorf("recorder: finalize: %w", ctx.Err())
	}
}

func (r *Recorder) writeLoop() {
	defer close(r.done)

	for o := range r.ops {
		var err error
		switch o.kind {
		case opFrame:
			err = r.writeFrame(o.frame)
		case opClose:
			err = r.closeRecord()
		}
		if err != nil {
			r.setError(err)
			slog.Error("recorder: write failed", "path", r.curPath, "error", err)
		}
	}

	if err := r.closeRecord(); err != nil {
		r.setError(err)
	}
}

func (r *Recorder) writeFrame(fr FrameRecord) error {
	if r.lastError() != nil {
		return nil
	}
	if !r.opened {
		if err := r.openRecord(fr.Timestamp); err != nil {
			return err
		}
	}

	fr.PTS = fr.Timestamp - r.baseTS
	n, err := writeEntry(r.buf, fr)
	if err != nil {
		return err
	}
	atomic.AddUint64(&r.framesWritten, 1)
	atomic.AddUint64(&r.bytesWritten, uint64(n))
	return nil
}

func (r *Recorder) openRecord(baseTS int64) error {
	now := r.cfg.Clock.Now().UTC()
	name := fmt.Sprintf("record-%s", now.Format("20060102T150405Z"))
	if id := r.cfg.RunID; id != "" {
		if len(id) > 8 {
			id = id[:8]
		}
		name += "-" + id
	}
	path := filepath.Join(r.dir, name+Extension+InUseSuffix)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create record: %w", err)
	}

	r.cur = f
	r.curPath = path
	r.buf = bufio.NewWriterSize(f, 1<<20)
	r.baseTS = baseTS
	r.opened = true

	hdr := Header{
		Magic:         Magic,
		Version:       Version,
		RunID:         r.cfg.RunID,
		Created:       now.UnixNano(),
		BaseTimestamp: baseTS,
	}
	if _, err := writeEntry(r.buf, hdr); err != nil {
		return err
	}

	atomic.AddUint64(&r.records, 1)
	slog.Info("recorder: record opened", "path", path)
	return nil
}

func (r *Recorder) closeRecord() error {
	if !r.opened {
		return nil
	}
	r.opened = false

	err := multierr.Combine(r.buf.Flush(), r.cur.Sync(), r.cur.Close())
	final := strings.TrimSuffix(r.curPath, InUseSuffix)
	if renameErr := os.Rename(r.curPath, final); renameErr != nil {
		err = multierr.Append(err, renameErr)
	} else {
		slog.Info("recorder: record closed", "path", final)
	}

	r.cur, r.buf = nil, nil
	return err
}

func (r *Recorder) setError(err error) {
	r.errMu.Lock()
	if r.writeErr == nil {
		r.writeErr = err
	}
	r.errMu.Unlock()
}

func (r *Recorder) lastError() error {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	return r.writeErr
}

// Stats is a snapshot of recorder activity.
type Stats struct {
	Records       uint64 `json:"records"`
	FramesQueued  uint64 `json:"frames_queued"`
	FramesWritten uint64 `json:"frames_written"`
	BytesWritten  uint64 `json:"bytes_written"`
	QueueFull     uint64 `json:"queue_full"`
	QueueDepth    int    `json:"queue_depth"`
}

// Stats returns current counters.
func (r *Recorder) Stats() Stats {
	r.mu.RLock()
	depth := 0
	if r.ops != nil {
		depth = len(r.ops)
	}
	r.mu.RUnlock()

	return Stats{
		Records:       atomic.LoadUint64(&r.records),
		FramesQueued:  atomic.LoadUint64(&r.framesQueued),
		FramesWritten: atomic.LoadUint64(&r.framesWritten),
		BytesWritten:  atomic.LoadUint64(&r.bytesWritten),
		QueueFull:     atomic.LoadUint64(&r.queueFull),
		QueueDepth:    depth,
	}
}

// Dir returns the records directory, empty before Initialize.
func (r *Recorder) Dir() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dir
}
