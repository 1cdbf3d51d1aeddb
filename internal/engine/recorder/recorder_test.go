package recorder

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/galoko/PeopleWatcher/internal/engine"
)

func testFrame(i int) engine.Frame {
	return engine.Frame{
		Y:         []byte{byte(i), 1, 2, 3},
		U:         []byte{byte(i)},
		V:         []byte{byte(i)},
		StrideY:   4,
		StrideU:   2,
		StrideV:   2,
		Timestamp: 5_000_000_000 + int64(i)*50_000_000,
	}
}

func listRecords(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestRecorder_WritesAndFinalizes(t *testing.T) {
	root := t.TempDir()
	r := New(Config{RunID: "0123456789abcdef"})

	if err := r.Initialize(root); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if err := r.StartRecording(); err != nil {
		t.Fatalf("StartRecording() error = %v", err)
	}
	for i := 0; i < 10; i++ {
		if err := r.SendFrame(testFrame(i)); err != nil {
			t.Fatalf("SendFrame(%d) error = %v", i, err)
		}
	}
	if err := r.StopRecording(); err != nil {
		t.Fatalf("StopRecording() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.Finalize(ctx); err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}

	names := listRecords(t, filepath.Join(root, RecordsDir))
	if len(names) != 1 {
		t.Fatalf("records = %v, want exactly one", names)
	}
	if !strings.HasSuffix(names[0], Extension) || !strings.Contains(names[0], "01234567") {
		t.Errorf("record name = %q", names[0])
	}

	sum, err := Summarize(filepath.Join(root, RecordsDir, names[0]))
	if err != nil {
		t.Fatalf("Summarize() error = %v", err)
	}
	if sum.Frames != 10 || sum.FirstPTS != 0 || sum.LastPTS != 9*50_000_000 || sum.Torn {
		t.Errorf("summary = %+v", sum)
	}
	if sum.RunID != "0123456789abcdef" {
		t.Errorf("RunID = %q", sum.RunID)
	}

	st := r.Stats()
	if st.FramesWritten != 10 || st.Records != 1 {
		t.Errorf("stats = %+v", st)
	}
	t.Logf("✅ record %s: %d frames over %.2fs", names[0], sum.Frames, sum.Seconds)
}

func TestRecorder_CopiesFrameData(t *testing.T) {
	root := t.TempDir()
	r := New(Config{})
	r.Initialize(root)
	r.StartRecording()

	f := testFrame(7)
	r.SendFrame(f)
	f.Y[0] = 0xFF // caller reuses its buffer right after SendFrame returns
	r.StopRecording()
	r.Finalize(context.Background())

	names := listRecords(t, filepath.Join(root, RecordsDir))
	rd, err := OpenRecord(filepath.Join(root, RecordsDir, names[0]))
	if err != nil {
		t.Fatal(err)
	}
	defer rd.Close()

	fr, err := rd.Next()
	if err != nil {
		t.Fatal(err)
	}
	if fr.Y[0] != 7 {
		t.Errorf("stored Y[0] = %d, want 7", fr.Y[0])
	}
}

func TestRecorder_ClearsInUseFlags(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, RecordsDir)
	os.MkdirAll(dir, 0o755)
	stale := filepath.Join(dir, "record-old"+Extension+InUseSuffix)
	if err := os.WriteFile(stale, []byte("partial"), 0o644); err != nil {
		t.Fatal(err)
	}

	r := New(Config{})
	if err := r.Initialize(root); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	defer r.Finalize(context.Background())

	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Errorf("in-use file still present: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "record-old"+Extension)); err != nil {
		t.Errorf("recovered record missing: %v", err)
	}
}

func TestRecorder_QueueFull(t *testing.T) {
	mock := clock.NewMock()
	r := New(Config{QueueFrames: 1, HoldTimeout: time.Second, Clock: mock})

	// Initialize without a writer so the queue cannot drain.
	r.ops = make(chan op, 1)
	r.done = make(chan struct{})

	if err := r.SendFrame(testFrame(0)); err != nil {
		t.Fatalf("first SendFrame() error = %v", err)
	}

	errc := make(chan error, 1)
	go func() { errc <- r.SendFrame(testFrame(1)) }()

	// Advance until the blocked sender gives up.
	deadline := time.After(5 * time.Second)
	for {
		mock.Add(time.Second)
		select {
		case err := <-errc:
			if !errors.Is(err, ErrQueueFull) {
				t.Fatalf("SendFrame() error = %v, want ErrQueueFull", err)
			}
			if r.Stats().QueueFull != 1 {
				t.Errorf("QueueFull = %d", r.Stats().QueueFull)
			}
			return
		case <-deadline:
			t.Fatal("SendFrame did not time out")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestRecorder_CallsOutsideLifecycle(t *testing.T) {
	r := New(Config{})
	if err := r.SendFrame(testFrame(0)); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("SendFrame before Initialize error = %v", err)
	}

	r.Initialize(t.TempDir())
	r.Finalize(context.Background())
	if err := r.SendFrame(testFrame(0)); !errors.Is(err, ErrClosed) {
		t.Errorf("SendFrame after Finalize error = %v", err)
	}
	if err := r.Finalize(context.Background()); err != nil {
		t.Errorf("second Finalize() error = %v", err)
	}
}

func TestSummarize_TornTail(t *testing.T) {
	root := t.TempDir()
	r := New(Config{})
	r.Initialize(root)
	r.StartRecording()
	for i := 0; i < 3; i++ {
		r.SendFrame(testFrame(i))
	}
	r.StopRecording()
	r.Finalize(context.Background())

	dir := filepath.Join(root, RecordsDir)
	path := filepath.Join(dir, listRecords(t, dir)[0])
	info, _ := os.Stat(path)
	if err := os.Truncate(path, info.Size()-3); err != nil {
		t.Fatal(err)
	}

	sum, err := Summarize(path)
	if err != nil {
		t.Fatalf("Summarize() error = %v", err)
	}
	if !sum.Torn || sum.Frames != 2 {
		t.Errorf("summary = %+v, want torn with 2 frames", sum)
	}
}
