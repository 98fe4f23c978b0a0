// Package build constructs the daemon's loggers: btclog handlers fanned out
// to console and an optional log file, surfaced as slog loggers tagged per
// subsystem.
package build

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/btcsuite/btclog"
	btclogv2 "github.com/btcsuite/btclog/v2"
)

// Subsystem tags, one per daemon loop or surface.
const (
	SubIngest       = "INGT"
	SubOrchestrator = "ORCH"
	SubSender       = "SEND"
	SubReview       = "RVEW"
	SubMCP          = "MCPS"
	SubDB           = "SQLD"
)

// LogConfig configures logger construction.
type LogConfig struct {
	// Level is the log level name (trace, debug, info, warn, error,
	// critical).
	Level string

	// File is an optional path to also write logs to.
	File string
}

// SubLoggerSet hands out per-subsystem slog loggers sharing one backing
// handler set.
type SubLoggerSet struct {
	root btclogv2.Handler
}

// NewSubLoggerSet builds the root handler per the config: console always,
// plus the log file when configured.
func NewSubLoggerSet(cfg LogConfig) (*SubLoggerSet, error) {
	handlers := []btclogv2.Handler{
		btclogv2.NewDefaultHandler(os.Stdout),
	}

	if cfg.File != "" {
		logFile, err := os.OpenFile(
			cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644,
		)
		if err != nil {
			return nil, fmt.Errorf("unable to open log file: %w",
				err)
		}

		handlers = append(
			handlers, btclogv2.NewDefaultHandler(logFile),
		)
	}

	level, ok := btclog.LevelFromString(cfg.Level)
	if !ok {
		level = btclog.LevelInfo
	}

	root := newFanout(handlers...)
	root.SetLevel(level)

	return &SubLoggerSet{root: root}, nil
}

// Logger returns a slog logger tagged with the given subsystem.
func (s *SubLoggerSet) Logger(tag string) *slog.Logger {
	return slog.New(s.root.SubSystem(tag))
}

// fanout dispatches every record to all underlying btclog handlers.
type fanout struct {
	level    btclog.Level
	handlers []btclogv2.Handler
}

func newFanout(handlers ...btclogv2.Handler) *fanout {
	return &fanout{
		level:    btclog.LevelInfo,
		handlers: handlers,
	}
}

// Enabled reports whether every underlying handler accepts the level.
func (f *fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f.handlers {
		if !h.Enabled(ctx, level) {
			return false
		}
	}

	return true
}

// Handle dispatches the record to every underlying handler.
func (f *fanout) Handle(ctx context.Context, record slog.Record) error {
	for _, h := range f.handlers {
		if err := h.Handle(ctx, record); err != nil {
			return err
		}
	}

	return nil
}

// WithAttrs returns a handler with the attributes applied to every
// underlying handler.
func (f *fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := &slogFanout{handlers: make([]slog.Handler, len(f.handlers))}
	for i, h := range f.handlers {
		next.handlers[i] = h.WithAttrs(attrs)
	}

	return next
}

// WithGroup returns a handler with the group applied to every underlying
// handler.
func (f *fanout) WithGroup(name string) slog.Handler {
	next := &slogFanout{handlers: make([]slog.Handler, len(f.handlers))}
	for i, h := range f.handlers {
		next.handlers[i] = h.WithGroup(name)
	}

	return next
}

// SubSystem returns a handler set tagged for the given subsystem.
func (f *fanout) SubSystem(tag string) btclogv2.Handler {
	next := newFanout(make([]btclogv2.Handler, len(f.handlers))...)
	for i, h := range f.handlers {
		next.handlers[i] = h.SubSystem(tag)
	}
	next.level = f.level

	return next
}

// WithPrefix returns a handler set prefixing every message.
func (f *fanout) WithPrefix(prefix string) btclogv2.Handler {
	next := newFanout(make([]btclogv2.Handler, len(f.handlers))...)
	for i, h := range f.handlers {
		next.handlers[i] = h.WithPrefix(prefix)
	}
	next.level = f.level

	return next
}

// SetLevel changes the level on every underlying handler.
func (f *fanout) SetLevel(level btclog.Level) {
	for _, h := range f.handlers {
		h.SetLevel(level)
	}
	f.level = level
}

// Level returns the current level.
func (f *fanout) Level() btclog.Level {
	return f.level
}

var _ btclogv2.Handler = (*fanout)(nil)

// slogFanout backs WithAttrs/WithGroup results, which are plain slog
// handlers.
type slogFanout struct {
	handlers []slog.Handler
}

func (s *slogFanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range s.handlers {
		if !h.Enabled(ctx, level) {
			return false
		}
	}

	return true
}

func (s *slogFanout) Handle(ctx context.Context, record slog.Record) error {
	for _, h := range s.handlers {
		if err := h.Handle(ctx, record); err != nil {
			return err
		}
	}

	return nil
}

func (s *slogFanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := &slogFanout{handlers: make([]slog.Handler, len(s.handlers))}
	for i, h := range s.handlers {
		next.handlers[i] = h.WithAttrs(attrs)
	}

	return next
}

func (s *slogFanout) WithGroup(name string) slog.Handler {
	next := &slogFanout{handlers: make([]slog.Handler, len(s.handlers))}
	for i, h := range s.handlers {
		next.handlers[i] = h.WithGroup(name)
	}

	return next
}

var _ slog.Handler = (*slogFanout)(nil)
