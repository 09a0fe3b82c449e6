// Package log configures the process-wide slog logger.
package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewHandler builds the handler every binary logs through. Unknown levels
// fall back to info; format "json" selects JSON output, anything else text.
func NewHandler(w io.Writer, level, format string) slog.Handler {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}

	if strings.EqualFold(format, "json") {
		return slog.NewJSONHandler(w, opts)
	}

	return slog.NewTextHandler(w, opts)
}

func Setup(level, format string) {
	slog.SetDefault(slog.New(NewHandler(os.Stderr, level, format)))
}

func WithModule(module string) *slog.Logger {
	return slog.With("module", module)
}
