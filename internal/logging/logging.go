// Package logging provides structured logging for einhorn using stdlib
// slog, with a runtime-adjustable level driven by the quieter/louder
// control commands.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// LogConfig controls logger creation.
type LogConfig struct {
	Level  string    // "debug", "info", "warn", "error"
	Format string    // "json" (default), "text"
	Output io.Writer // defaults to os.Stderr
}

// Verbosity is a logger plus the level variable backing it, so the
// control plane can shift the level while the process runs.
type Verbosity struct {
	Logger *slog.Logger
	level  *slog.LevelVar
}

var steps = []slog.Level{slog.LevelDebug, slog.LevelInfo, slog.LevelWarn, slog.LevelError}

// New creates a configured *slog.Logger with runtime-adjustable level.
func New(cfg LogConfig) *Verbosity {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	lv := new(slog.LevelVar)
	lv.Set(ParseLevel(cfg.Level))

	opts := &slog.HandlerOptions{Level: lv}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}

	return &Verbosity{
		Logger: slog.New(handler),
		level:  lv,
	}
}

// Level reports the current minimum level.
func (v *Verbosity) Level() slog.Level { return v.level.Level() }

// Louder lowers the minimum level one step (towards debug) and returns
// the new level name.
func (v *Verbosity) Louder() string {
	return v.shift(-1)
}

// Quieter raises the minimum level one step (towards error) and returns
// the new level name.
func (v *Verbosity) Quieter() string {
	return v.shift(1)
}

func (v *Verbosity) shift(dir int) string {
	cur := v.level.Level()
	idx := 0
	for i, l := range steps {
		if l == cur {
			idx = i
			break
		}
	}
	idx += dir
	if idx < 0 {
		idx = 0
	}
	if idx >= len(steps) {
		idx = len(steps) - 1
	}
	v.level.Set(steps[idx])
	return LevelName(steps[idx])
}

// LevelName renders a slog level as the lowercase name used in config.
func LevelName(l slog.Level) string {
	return strings.ToLower(l.String())
}

// ParseLevel maps a config string to a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
