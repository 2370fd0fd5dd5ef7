// Package logging wires log/slog through context.Context: a derived
// context carries the logger so every pipeline stage logs through
// logging.From(ctx) instead of a package-global. Console output can be
// colorized (github.com/fatih/color) or emitted as JSON for machine
// consumption.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/fatih/color"
)

type ctxKey struct{}

// With returns a context carrying a logger derived from the one
// already in ctx (or slog.Default() if none), with attrs attached.
func With(ctx context.Context, attrs ...any) context.Context {
	logger := From(ctx).With(attrs...)
	return context.WithValue(ctx, ctxKey{}, logger)
}

// WithLogger returns a context carrying logger directly, replacing
// whatever was attached before.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// From retrieves the logger attached to ctx, or slog.Default() if none
// was ever attached.
func From(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// WithError attaches err as a structured field rather than string-
// formatting it into the message, the style every failure log call in
// this repository uses.
func WithError(logger *slog.Logger, err error) *slog.Logger {
	return logger.With(slog.String("error", err.Error()))
}

// NewConsole builds a human-readable logger. When color is true, the
// level name is colorized (fatih/color): red for error, yellow for
// warn, cyan for info, and dimmed for debug.
func NewConsole(w io.Writer, level slog.Level, useColor bool) *slog.Logger {
	handler := &consoleHandler{w: w, level: level, useColor: useColor}
	return slog.New(handler)
}

// NewJSON builds a machine-readable logger for consumers that want to
// parse output rather than read it.
func NewJSON(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// consoleHandler is a minimal slog.Handler: one colorized line per
// record, attributes rendered as key=value pairs. It doesn't attempt
// structured grouping - this is the operator-facing outlet, JSON
// output exists for anything that needs to parse logs.
type consoleHandler struct {
	w        io.Writer
	level    slog.Level
	useColor bool
	attrs    []slog.Attr
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *consoleHandler) Handle(_ context.Context, r slog.Record) error {
	levelText := r.Level.String()
	if h.useColor {
		levelText = colorForLevel(r.Level).Sprint(levelText)
	}
	fmt.Fprintf(h.w, "%s [%s] %s", r.Time.Format("15:04:05.000"), levelText, r.Message)
	for _, a := range h.attrs {
		fmt.Fprintf(h.w, " %s=%v", a.Key, a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(h.w, " %s=%v", a.Key, a.Value)
		return true
	})
	fmt.Fprintln(h.w)
	return nil
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &next
}

func (h *consoleHandler) WithGroup(_ string) slog.Handler {
	return h
}

func colorForLevel(level slog.Level) *color.Color {
	switch {
	case level >= slog.LevelError:
		return color.New(color.FgRed, color.Bold)
	case level >= slog.LevelWarn:
		return color.New(color.FgYellow)
	case level >= slog.LevelInfo:
		return color.New(color.FgCyan)
	default:
		return color.New(color.Faint)
	}
}

// FileSink installs a per-profile log file for the duration of a
// scheduled run: open the file, derive a logger writing to it, and
// hand back a closer the scheduler calls when the run ends - even on
// failure, so a crashed run never leaks its sink.
func FileSink(path string, level slog.Level) (*slog.Logger, func() error, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, err
	}
	logger := NewConsole(f, level, false)
	return logger, f.Close, nil
}
