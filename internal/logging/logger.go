// Package logging builds the agent's slog logger: console plus a rotated log file.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
)

const (
	rotationTime = 24 * time.Hour
	maxAge       = 7 * 24 * time.Hour
)

// New returns a logger writing to stdout and, when logFile is set, to a daily
// rotated file linked at logFile. The returned closer releases the file.
func New(logFile string, debug bool) (*slog.Logger, io.Closer, error) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	handlers := []slog.Handler{slog.NewTextHandler(os.Stdout, opts)}
	var closer io.Closer = nopCloser{}

	if logFile != "" {
		rl, err := rotatelogs.New(
			logFile+".%Y%m%d",
			rotatelogs.WithLinkName(logFile),
			rotatelogs.WithRotationTime(rotationTime),
			rotatelogs.WithMaxAge(maxAge),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file %s: %w", logFile, err)
		}
		handlers = append(handlers, slog.NewTextHandler(rl, opts))
		closer = rl
	}

	return slog.New(NewTee(handlers...)), closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Tee fans every record out to all wrapped handlers.
type Tee struct {
	handlers []slog.Handler
}

func NewTee(handlers ...slog.Handler) *Tee {
	return &Tee{handlers: handlers}
}

func (t *Tee) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range t.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (t *Tee) Handle(ctx context.Context, record slog.Record) error {
	var firstErr error
	for _, h := range t.handlers {
		if !h.Enabled(ctx, record.Level) {
			continue
		}
		if err := h.Handle(ctx, record.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (t *Tee) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, 0, len(t.handlers))
	for _, h := range t.handlers {
		next = append(next, h.WithAttrs(attrs))
	}
	return &Tee{handlers: next}
}

func (t *Tee) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, 0, len(t.handlers))
	for _, h := range t.handlers {
		next = append(next, h.WithGroup(name))
	}
	return &Tee{handlers: next}
}

// Discard is a logger for tests and optional components.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
