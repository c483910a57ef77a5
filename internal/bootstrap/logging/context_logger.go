// Package logging carries a slog logger and a set of attributes through
// context.Context. Attributes added later replace earlier ones with the same
// key, so a nested component tag overrides the outer one.
package logging

import (
	"context"
	"log/slog"
	"os"
)

type scopeKey struct{}

// scope is immutable once stored; every With* call stores a copy.
type scope struct {
	logger *slog.Logger
	attrs  []slog.Attr
}

var fallback = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

func scopeOf(ctx context.Context) scope {
	if ctx == nil {
		return scope{}
	}
	s, _ := ctx.Value(scopeKey{}).(scope)
	return s
}

func withScope(ctx context.Context, s scope) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, scopeKey{}, s)
}

// WithLogger routes every record logged through ctx to logger. Attributes
// already on ctx are kept.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	if logger == nil {
		if ctx == nil {
			return context.Background()
		}
		return ctx
	}
	s := scopeOf(ctx)
	s.logger = logger
	return withScope(ctx, s)
}

func WithAttrs(ctx context.Context, attrs ...slog.Attr) context.Context {
	if len(attrs) == 0 {
		if ctx == nil {
			return context.Background()
		}
		return ctx
	}
	s := scopeOf(ctx)
	s.attrs = mergeAttrs(s.attrs, attrs)
	return withScope(ctx, s)
}

// WithTick tags records with the heartbeat tick sequence number.
func WithTick(ctx context.Context, tick uint64) context.Context {
	return WithAttrs(ctx, slog.Uint64("tick", tick))
}

func Logger(ctx context.Context) *slog.Logger {
	if l := scopeOf(ctx).logger; l != nil {
		return l
	}
	return fallback
}

// Attrs returns a copy of the attributes carried by ctx.
func Attrs(ctx context.Context) []slog.Attr {
	attrs := scopeOf(ctx).attrs
	if len(attrs) == 0 {
		return nil
	}
	return append([]slog.Attr(nil), attrs...)
}

func Debug(ctx context.Context, msg string, attrs ...slog.Attr) {
	emit(ctx, slog.LevelDebug, msg, attrs)
}

func Info(ctx context.Context, msg string, attrs ...slog.Attr) {
	emit(ctx, slog.LevelInfo, msg, attrs)
}

func Warn(ctx context.Context, msg string, attrs ...slog.Attr) {
	emit(ctx, slog.LevelWarn, msg, attrs)
}

func Error(ctx context.Context, msg string, attrs ...slog.Attr) {
	emit(ctx, slog.LevelError, msg, attrs)
}

func emit(ctx context.Context, level slog.Level, msg string, attrs []slog.Attr) {
	if ctx == nil {
		ctx = context.Background()
	}
	s := scopeOf(ctx)
	logger := s.logger
	if logger == nil {
		logger = fallback
	}
	if !logger.Enabled(ctx, level) {
		return
	}
	logger.LogAttrs(ctx, level, msg, mergeAttrs(s.attrs, attrs)...)
}

// mergeAttrs appends extra to base; a key present in both keeps its base
// position and takes the extra value. Neither input is modified.
func mergeAttrs(base []slog.Attr, extra []slog.Attr) []slog.Attr {
	out := make([]slog.Attr, len(base), len(base)+len(extra))
	copy(out, base)
	for _, attr := range extra {
		replaced := false
		if attr.Key != "" {
			for i := range out {
				if out[i].Key == attr.Key {
					out[i] = attr
					replaced = true
					break
				}
			}
		}
		if !replaced {
			out = append(out, attr)
		}
	}
	return out
}
