// Package logging builds the dual-handler structured logger every subsystem
// shares: a human-readable stderr stream and a rotating NDJSON file stream.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls the logger's level and file rotation policy.
type Config struct {
	// Level is the minimum level reported on stderr; the NDJSON file always
	// receives debug and above so operators can raise stderr verbosity
	// without losing history.
	Level slog.Level

	// FilePath is the NDJSON log destination, e.g. "{data}/logs/dorkos.log".
	// Empty disables file logging (used in tests).
	FilePath string

	// MaxSizeKB is the rotation threshold in kilobytes; spec default 500.
	MaxSizeKB int

	// MaxBackups is the retained rotated-file count; spec default 14.
	MaxBackups int

	// Stderr overrides the human-readable writer (tests only); nil means
	// os.Stderr.
	Stderr io.Writer
}

// DefaultConfig sets a 500 KB size budget and 14 backups. lumberjack rotates
// on size only and counts size in whole megabytes, so the 500 KB budget
// becomes a 1 MB threshold; there is no date-based (daily) rotation.
func DefaultConfig(filePath string, level slog.Level) Config {
	return Config{
		Level:      level,
		FilePath:   filePath,
		MaxSizeKB:  500,
		MaxBackups: 14,
	}
}

// Logger bundles the constructed *slog.Logger with a Close for flushing and
// releasing the rotating file handle.
type Logger struct {
	*slog.Logger
	rotator *lumberjack.Logger
}

// New builds the dual-handler logger described in the ambient stack: a
// slog.TextHandler on stderr at cfg.Level, fanned out alongside a
// slog.JSONHandler writing NDJSON into a lumberjack rotating writer.
// Rotation errors are non-fatal: lumberjack itself swallows rename/remove
// failures for old backups and keeps writing to the current file.
func New(cfg Config) *Logger {
	stderr := cfg.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	handlers := []slog.Handler{
		slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: cfg.Level}),
	}

	var rotator *lumberjack.Logger
	if cfg.FilePath != "" {
		rotator = &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    maxSizeMB(cfg.MaxSizeKB),
			MaxBackups: cfg.MaxBackups,
			MaxAge:     0, // no age limit: backups are pruned by MaxBackups count only
			Compress:   false,
		}
		handlers = append(handlers, slog.NewJSONHandler(rotator, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	return &Logger{
		Logger:  slog.New(fanoutHandler{handlers: handlers}),
		rotator: rotator,
	}
}

// Close flushes and releases the rotating file handle, if any.
func (l *Logger) Close() error {
	if l.rotator == nil {
		return nil
	}
	return l.rotator.Close()
}

// maxSizeMB converts the spec's KB-denominated default into lumberjack's
// MB-denominated field, rounding up so a 500 KB budget never silently
// becomes a 0 MB one (which lumberjack treats as its 100 MB default).
func maxSizeMB(kb int) int {
	if kb <= 0 {
		return 1
	}
	mb := (kb + 1023) / 1024
	if mb < 1 {
		return 1
	}
	return mb
}

// fanoutHandler dispatches every record to each inner handler, matching the
// gateway's single-default-logger convention while still writing to both
// stderr and the rotating file.
type fanoutHandler struct {
	handlers []slog.Handler
}

func (f fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanoutHandler) Handle(ctx context.Context, record slog.Record) error {
	var firstErr error
	for _, h := range f.handlers {
		if !h.Enabled(ctx, record.Level) {
			continue
		}
		if err := h.Handle(ctx, record.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (f fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		next[i] = h.WithAttrs(attrs)
	}
	return fanoutHandler{handlers: next}
}

func (f fanoutHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		next[i] = h.WithGroup(name)
	}
	return fanoutHandler{handlers: next}
}
