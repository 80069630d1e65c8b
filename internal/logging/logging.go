// Package logging builds the process-wide [slog.Logger] and carries
// request-scoped loggers through contexts.
//
//	LOG_LEVEL  = debug | info | warn | error  (default: info)
//	LOG_FORMAT = json | text                  (default: json)
//	LOG_SOURCE = true                         adds file:line to records
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Options selects the handler behind a logger.
type Options struct {
	Level     slog.Level
	Text      bool
	AddSource bool
	// Writer defaults to os.Stderr so stdout stays free for command output.
	Writer io.Writer
}

// OptionsFromEnv reads LOG_LEVEL, LOG_FORMAT and LOG_SOURCE.
func OptionsFromEnv() Options {
	src, _ := strconv.ParseBool(os.Getenv("LOG_SOURCE"))
	return Options{
		Level:     parseLevel(os.Getenv("LOG_LEVEL")),
		Text:      strings.EqualFold(os.Getenv("LOG_FORMAT"), "text"),
		AddSource: src,
	}
}

// New returns a logger configured from the environment.
func New() *slog.Logger {
	return NewWith(OptionsFromEnv())
}

func NewWith(o Options) *slog.Logger {
	w := o.Writer
	if w == nil {
		w = os.Stderr
	}
	ho := &slog.HandlerOptions{Level: o.Level, AddSource: o.AddSource}
	if o.Text {
		return slog.New(slog.NewTextHandler(w, ho))
	}
	return slog.New(slog.NewJSONHandler(w, ho))
}

type ctxKey struct{}

func WithLogger(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the logger stored by WithLogger, or [slog.Default].
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}

// Discard drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func parseLevel(s string) slog.Level {
	var l slog.Level
	if s == "warning" || s == "WARNING" {
		return slog.LevelWarn
	}
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}
