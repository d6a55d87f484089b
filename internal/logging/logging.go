// Package logging builds the slog handlers used by the command line tools.
package logging

import (
	"io"
	"log/slog"

	"github.com/phsym/console-slog"
)

// ParseLevel maps "debug", "info", "warn" or "error" to a slog level.
// Anything else is info.
func ParseLevel(level string) slog.Level {
	var lv slog.LevelVar
	if err := lv.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return lv.Level()
}

// New returns a logger writing to w, as JSON lines or as human readable
// console output.
func New(level slog.Level, json bool, w io.Writer) *slog.Logger {
	if json {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(console.NewHandler(w, &console.HandlerOptions{
		Level:      level,
		NoColor:    true,
		TimeFormat: "2006-01-02 15:04:05.000",
	}))
}
