package workflow

import (
	"fmt"
	"strings"
)

var resultEvents = map[string]Event{
	"done":    EventComplete,
	"blocked": EventBlocked,
	"pass":    EventPass,
	"fail":    EventFail,
	"refine":  EventRefine,
	"approve": EventApprove,
	"reject":  EventReject,
}

// ResultEvent maps a worker completion result to its workflow event.
func ResultEvent(result string) Event {
	return resultEvents[strings.ToLower(strings.TrimSpace(result))]
}

// Rule is the resolved outcome of a completion report.
type Rule struct {
	Role       string
	Result     string
	Event      Event
	From       string
	To         string
	Transition Transition
}

// CompletionRule finds the transition for (role, result). currentState is the
// state key detected on the issue; when it is empty or not an active state of
// the role, the role's active states are searched in declaration order.
func (c *Config) CompletionRule(role string, result string, currentState string) (Rule, error) {
	rc, ok := c.Roles[role]
	if !ok {
		return Rule{}, fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
	result = strings.ToLower(strings.TrimSpace(result))
	if !rc.AllowsResult(result) {
		return Rule{}, fmt.Errorf("%w: %s cannot report %q (allowed: %s)",
			ErrResultNotAllowed, role, result, strings.Join(rc.CompletionResults, ", "))
	}
	event := ResultEvent(result)
	if event == "" {
		return Rule{}, fmt.Errorf("%w: %s/%s", ErrNoTransitionRule, role, result)
	}

	candidates := make([]string, 0, 2)
	if c.Workflow.IsActiveFor(currentState, role) {
		candidates = append(candidates, currentState)
	} else {
		candidates = append(candidates, c.Workflow.ActiveStates(role)...)
	}
	for _, key := range candidates {
		if tr, ok := c.Workflow.Next(key, event); ok {
			return Rule{
				Role:       role,
				Result:     result,
				Event:      event,
				From:       key,
				To:         tr.Target,
				Transition: tr,
			}, nil
		}
	}
	return Rule{}, fmt.Errorf("%w: %s/%s", ErrNoTransitionRule, role, result)
}

// FirstQueueState returns the highest-priority queue state served by role.
func (c *Config) FirstQueueState(role string) (string, error) {
	keys := c.Workflow.QueueStates(role)
	if len(keys) == 0 {
		return "", fmt.Errorf("%w: %s", ErrNoQueueStateFound, role)
	}
	return keys[0], nil
}
