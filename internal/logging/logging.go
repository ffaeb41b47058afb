// Package logging provides the slog plumbing shared by every tcpline component.
//
// Loggers are injected, never global:
//   - main() builds the base handler (format, level, destination)
//   - each component scopes its logger once, at construction, with
//     slog.With("component", ...)
//   - a nil logger means "discard"
//
// Components log lifecycle boundaries (connect, drop, retry, stop). Nothing is
// logged per line on the ingestion path except through a rate limiter.
package logging

import (
	"context"
	"log/slog"
)

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(discardHandler{})
}

// Default returns logger, or a discard logger when logger is nil:
//
//	func New(cfg Config) *Driver {
//	    logger := logging.Default(cfg.Logger)
//	    return &Driver{logger: logger.With("component", "driver")}
//	}
func Default(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return Discard()
}

// ParseLevel maps a level name (debug, info, warn, error) to a slog.Level.
// Unknown names fall back to info.
func ParseLevel(name string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo
	}
	return level
}
