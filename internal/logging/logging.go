package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the process logger.
type Options struct {
	// Format is "cli" for terse text or "json".
	Format string
	// Level is debug, info, warn or error.
	Level string
	// Console receives records; os.Stderr when nil.
	Console io.Writer

	// File, when set, also writes JSON records to a rotating file.
	File       string
	MaxSizeMB  int
	MaxBackups int
}

// Logger is the configured process logger.
type Logger struct {
	*slog.Logger
	// Level can be changed at runtime.
	Level *slog.LevelVar

	file *lumberjack.Logger
}

// ParseLevel parses debug, info, warn and error.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("logging: unknown level %q", s)
	}
	return l, nil
}

// New builds the logger described by opts. Close it to flush the file sink.
func New(opts Options) (*Logger, error) {
	level := new(slog.LevelVar)
	if opts.Level != "" {
		l, err := ParseLevel(opts.Level)
		if err != nil {
			return nil, err
		}
		level.Set(l)
	}

	console := opts.Console
	if console == nil {
		console = os.Stderr
	}

	var handler slog.Handler
	switch opts.Format {
	case "json":
		handler = slog.NewJSONHandler(console, &slog.HandlerOptions{Level: level})
	case "", "cli":
		handler = NewCLIHandler(console, level)
	default:
		return nil, fmt.Errorf("logging: unknown format %q", opts.Format)
	}

	lg := &Logger{Level: level}
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return nil, fmt.Errorf("logging: create log directory: %w", err)
		}
		lg.file = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
		}
		fileHandler := slog.NewJSONHandler(lg.file, &slog.HandlerOptions{Level: level})
		handler = Fanout(handler, fileHandler)
	}

	lg.Logger = slog.New(handler)
	return lg, nil
}

// Close flushes and closes the file sink, if any.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// Ensure returns logger, or the process default when nil.
func Ensure(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.Default()
}
