package workflow

import (
	"errors"
	"strings"
)

var (
	ErrUnknownRole       = errors.New("unknown role")
	ErrResultNotAllowed  = errors.New("result not allowed for role")
	ErrNoTransitionRule  = errors.New("no workflow rule for role and result")
	ErrUnknownState      = errors.New("unknown workflow state")
	ErrInvalidLayer      = errors.New("invalid workflow layer")
	ErrNoQueueStateFound = errors.New("no queue state for role")
)

// ValidationError lists every structural violation found in a resolved graph.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return "invalid workflow config: " + strings.Join(e.Violations, "; ")
}
