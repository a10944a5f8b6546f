// Package log provides logger construction for the ragpal application.
//
// Loggers are plain *slog.Logger values passed by dependency injection;
// there is no package-level global. Components derive scoped loggers with
// logger.With("component", ...).
package log

import (
	"io"
	"log/slog"
	"os"
)

// Logger is an alias for *slog.Logger so constructors can declare the
// dependency without importing log/slog everywhere.
type Logger = *slog.Logger

// Config controls handler construction.
type Config struct {
	// Level is the minimum level emitted. Default: slog.LevelInfo.
	Level slog.Level

	// JSON switches from text to JSON output.
	JSON bool

	// AddSource annotates records with file:line.
	AddSource bool
}

// New returns a logger writing to stderr with the given configuration.
func New(cfg Config) Logger {
	return NewWithWriter(os.Stderr, cfg)
}

// NewWithWriter returns a logger writing to w. Used by tests to capture
// output in a buffer.
func NewWithWriter(w io.Writer, cfg Config) Logger {
	opts := &slog.HandlerOptions{
		Level:     cfg.Level,
		AddSource: cfg.AddSource,
	}

	var h slog.Handler
	if cfg.JSON {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h)
}

// NewNop returns a logger that discards everything. Test use only.
func NewNop() Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
