package errs

import (
	"errors"
	"fmt"
)

// HintedError is a user-facing failure bound to one issue. Hint tells the
// caller what to do next ("create a PR first").
type HintedError struct {
	err     error
	IssueID int
	Hint    string
}

func (e *HintedError) Error() string {
	msg := e.err.Error()
	if e.IssueID > 0 {
		msg = fmt.Sprintf("issue #%d: %s", e.IssueID, msg)
	}
	if e.Hint != "" {
		msg += " (" + e.Hint + ")"
	}
	return msg
}

func (e *HintedError) Unwrap() error { return e.err }

// WithHint attaches an issue id and remediation hint. The original error stays
// reachable through errors.Is/As.
func WithHint(err error, issueID int, hint string) error {
	if err == nil {
		return nil
	}
	return &HintedError{err: err, IssueID: issueID, Hint: hint}
}

// HintOf returns the outermost remediation hint in the chain, if any.
func HintOf(err error) string {
	var he *HintedError
	if errors.As(err, &he) {
		return he.Hint
	}
	return ""
}
