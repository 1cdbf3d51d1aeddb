package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCLIHandler_Format(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewCLIHandler(&buf, slog.LevelDebug)).With("run_id", "abc")

	logger.Info("capture: state changed", "from", "idle", "to", "opening")
	logger.WithGroup("pool").Debug("framepool: stats", "free", 8, "reason", "two words")
	logger.Warn("recorder: queue full", slog.Group("queue", "depth", 60))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3:\n%s", len(lines), buf.String())
	}

	tests := []struct {
		line int
		want []string
	}{
		{0, []string{"INFO ", "capture: state changed", "run_id=abc", "from=idle", "to=opening"}},
		{1, []string{"DEBUG", "pool.free=8", `pool.reason="two words"`}},
		{2, []string{"WARN ", "queue.depth=60"}},
	}
	for _, tt := range tests {
		for _, w := range tt.want {
			if !strings.Contains(lines[tt.line], w) {
				t.Errorf("line %d = %q, missing %q", tt.line, lines[tt.line], w)
			}
		}
	}
}

func TestCLIHandler_Level(t *testing.T) {
	var buf bytes.Buffer
	level := new(slog.LevelVar)
	level.Set(slog.LevelWarn)
	logger := slog.New(NewCLIHandler(&buf, level))

	logger.Info("hidden")
	level.Set(slog.LevelInfo)
	logger.Info("shown")

	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Errorf("level filtering wrong:\n%s", buf.String())
	}
}

func TestNew_FileSink(t *testing.T) {
	var console bytes.Buffer
	file := filepath.Join(t.TempDir(), "logs", "peoplewatcher.log")

	lg, err := New(Options{Format: "cli", Level: "info", Console: &console, File: file, MaxSizeMB: 1})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	lg.Info("capture: run completed", "frames", 42)
	lg.Debug("not written")
	if err := lg.Close(); err != nil {
		t.Fatal(err)
	}

	if !strings.Contains(console.String(), "frames=42") {
		t.Errorf("console = %q", console.String())
	}

	data, err := os.ReadFile(file)
	if err != nil {
		t.Fatal(err)
	}
	var rec map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(data), &rec); err != nil {
		t.Fatalf("file record is not one JSON line: %v\n%s", err, data)
	}
	if rec["msg"] != "capture: run completed" || rec["frames"] != float64(42) {
		t.Errorf("file record = %v", rec)
	}
	t.Logf("✅ file sink wrote %d bytes", len(data))
}

func TestNew_Errors(t *testing.T) {
	tests := []Options{
		{Format: "xml"},
		{Level: "loud"},
	}
	for _, opts := range tests {
		if _, err := New(opts); err == nil {
			t.Errorf("New(%+v) error = nil", opts)
		}
	}
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	} {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q) = %v, %v", in, got, err)
		}
	}
}
