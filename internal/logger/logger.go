// Package logger is the structured logging used by the xisf command and the
// unit server. Codec warnings reach it through xisf.Options.Logger.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger receives command, server and codec diagnostics. Its Debug and
// Warn methods satisfy xisf.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	With(args ...any) Logger
	WithGroup(name string) Logger
}

// slogLogger adapts *slog.Logger. The level methods are promoted; With and
// WithGroup rewrap so the result stays a Logger.
type slogLogger struct {
	*slog.Logger
}

func (l slogLogger) With(args ...any) Logger { return slogLogger{l.Logger.With(args...)} }

func (l slogLogger) WithGroup(name string) Logger { return slogLogger{l.Logger.WithGroup(name)} }

// New returns a Logger writing through h.
func New(h slog.Handler) Logger {
	return slogLogger{slog.New(h)}
}

// Default logs info and above as text on stderr. It backs FromContext when
// no logger was installed.
func Default() Logger {
	return New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

// Discard drops every record. The server uses it when no logger is
// configured.
func Discard() Logger {
	return New(slog.DiscardHandler)
}

// JSON logs one object per record, for `xisf serve` behind a collector.
func JSON(w io.Writer, level slog.Level) Logger {
	return New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// Pretty logs single lines for a person at a terminal. Colors are only
// emitted when w is one.
func Pretty(w io.Writer, level slog.Level) Logger {
	return New(NewPrettyHandler(w, &slog.HandlerOptions{Level: level}))
}

// Setup builds the logger selected by --log-level and --log-format. An
// empty format selects pretty output.
func Setup(w io.Writer, level, format string) (Logger, error) {
	lvl := ParseLevel(level)
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "pretty":
		return Pretty(w, lvl), nil
	case "json":
		return JSON(w, lvl), nil
	case "text":
		return New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})), nil
	}
	return nil, fmt.Errorf("unknown log format %q (want pretty, json or text)", format)
}

type contextKey struct{}

// WithContext returns ctx carrying l for the subcommands.
func WithContext(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, l)
}

// FromContext returns the logger installed by WithContext, or Default.
func FromContext(ctx context.Context) Logger {
	if l, ok := ctx.Value(contextKey{}).(Logger); ok {
		return l
	}
	return Default()
}

// ParseLevel maps a --log-level value to a slog level. Unknown names map
// to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
