package spacebot

import (
	"context"
	"log/slog"
)

// discardHandler drops all log output. Components that receive no logger
// fall back to this so logging calls never need nil checks.
type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// NopLogger returns a logger that discards everything.
func NopLogger() *slog.Logger {
	return slog.New(discardHandler{})
}
