// Package errs wraps errors with context and renders them for slog.
package errs

import (
	"errors"
	"fmt"
	"log/slog"
)

// Wrap prefixes err with msg. A nil err stays nil, so call sites can wrap the
// result of a write or close unconditionally.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Wrapf is Wrap with a format string.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Chain lists the messages of err and every error it wraps, outermost first.
// Joined errors contribute each branch in order.
func Chain(err error) []string {
	if err == nil {
		return nil
	}
	out := make([]string, 0, 4)
	var walk func(error)
	walk = func(e error) {
		for e != nil {
			out = append(out, e.Error())
			if joined, ok := e.(interface{ Unwrap() []error }); ok {
				for _, branch := range joined.Unwrap() {
					walk(branch)
				}
				return
			}
			e = errors.Unwrap(e)
		}
	}
	walk(err)
	return out
}

type loggable struct{ err error }

// Loggable renders err as a slog group with its message, wrap chain and,
// for hinted errors, the issue id and hint.
//
//	logging.Error(ctx, "review pass failed", slog.Any("err", errs.Loggable(err)))
func Loggable(err error) slog.LogValuer { return loggable{err: err} }

func (l loggable) LogValue() slog.Value {
	if l.err == nil {
		return slog.GroupValue()
	}
	attrs := []slog.Attr{slog.String("message", l.err.Error())}
	if chain := Chain(l.err); len(chain) > 1 {
		attrs = append(attrs, slog.Any("chain", chain))
	}

	var he *HintedError
	if errors.As(l.err, &he) {
		if he.IssueID > 0 {
			attrs = append(attrs, slog.Int("issue_id", he.IssueID))
		}
		if he.Hint != "" {
			attrs = append(attrs, slog.String("hint", he.Hint))
		}
	}
	return slog.GroupValue(attrs...)
}
