// Package logging provides the structured logger used throughout pgarman.
package logging

import (
	"log/slog"
	"os"
)

// Log is the process-wide logger. Replaced wholesale by SetLevel in
// cmd/pgarman depending on -q/-v flags; every package below the CLI
// layer just calls Log.Info/Log.Warn/Log.Error directly.
var Log = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
	Level: slog.LevelInfo,
}))

// SetLevel reconfigures Log's minimum level, used by the -q (quiet) and -v
// (verbose) global flags.
func SetLevel(level slog.Level) {
	Log = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// Component returns a logger tagged with a component name, the way the
// teacher's mtlog-backed logger scoped itself per package.
func Component(name string) *slog.Logger {
	return Log.With("component", name)
}
