package workflow

import (
	"fmt"
	"sort"
	"strings"
)

// Validate checks the structural invariants of a merged configuration and
// reports every violation at once.
func Validate(cfg *Config) error {
	if cfg == nil {
		return &ValidationError{Violations: []string{"config is nil"}}
	}

	var v []string
	add := func(format string, args ...any) {
		v = append(v, fmt.Sprintf(format, args...))
	}

	for _, id := range sortedRoleIDs(cfg.Roles) {
		role := cfg.Roles[id]
		if len(role.Levels) == 0 {
			add("roles.%s: levels must not be empty", id)
		}
		if role.DefaultLevel == "" {
			add("roles.%s: defaultLevel is required", id)
		} else if !role.HasLevel(role.DefaultLevel) {
			add("roles.%s: defaultLevel %q is not a configured level", id, role.DefaultLevel)
		}
		for _, level := range sortedKeys(role.MaxWorkers) {
			if !role.HasLevel(level) {
				add("roles.%s.maxWorkers: unknown level %q", id, level)
			}
			if role.MaxWorkers[level] < 0 {
				add("roles.%s.maxWorkers.%s: must not be negative", id, level)
			}
		}
		if len(role.CompletionResults) == 0 {
			add("roles.%s: completionResults must not be empty", id)
		}
		for _, result := range role.CompletionResults {
			if ResultEvent(result) == "" {
				add("roles.%s: completion result %q has no workflow event", id, result)
			}
		}
	}

	wf := cfg.Workflow
	if _, ok := knownPolicies[wf.ReviewPolicy]; !ok {
		add("workflow.reviewPolicy: %q is not one of human, agent, auto", wf.ReviewPolicy)
	}
	if strings.TrimSpace(wf.Initial) == "" {
		add("workflow.initial is required")
	} else if _, ok := wf.States[wf.Initial]; !ok {
		add("workflow.initial: state %q does not exist", wf.Initial)
	}
	if len(wf.States) == 0 {
		add("workflow.states must not be empty")
	}

	labels := make(map[string]string, len(wf.States))
	for _, key := range wf.orderedKeys() {
		state := wf.States[key]
		path := "workflow.states." + key

		if _, ok := knownStateTypes[state.Type]; !ok {
			add("%s: type %q is not one of queue, active, hold, terminal", path, state.Type)
		}

		label := strings.TrimSpace(state.Label)
		if label == "" {
			add("%s: label is required", path)
		} else if other, dup := labels[strings.ToLower(label)]; dup {
			add("%s: label %q is already used by state %s", path, label, other)
		} else {
			labels[strings.ToLower(label)] = key
		}

		if state.Type == StateQueue || state.Type == StateActive {
			if state.Role == "" {
				add("%s: %s state must declare a role", path, state.Type)
			} else if !cfg.roleKnown(state.Role) {
				add("%s: role %q is not defined", path, state.Role)
			}
		}
		if state.Check != "" {
			if _, ok := knownChecks[state.Check]; !ok {
				add("%s: check %q is not one of prApproved, prMerged", path, state.Check)
			}
		}
		if state.Type == StateTerminal && len(state.On) > 0 {
			add("%s: terminal state must not have transitions", path)
		}

		for _, event := range sortedEvents(state.On) {
			tr := state.On[event]
			if _, ok := knownEvents[event]; !ok {
				add("%s.on: unknown event %q", path, event)
			}
			if tr.Target == "" {
				add("%s.on.%s: target is required", path, event)
			} else if _, ok := wf.States[tr.Target]; !ok {
				add("%s.on.%s: target state %q does not exist", path, event, tr.Target)
			}
			for _, action := range tr.Actions {
				if _, ok := knownActions[action]; !ok {
					add("%s.on.%s: unknown action %q", path, event, action)
				}
			}
		}
	}

	if len(v) > 0 {
		return &ValidationError{Violations: v}
	}
	return nil
}

func (c *Config) roleKnown(id string) bool {
	if _, ok := c.Roles[id]; ok {
		return true
	}
	for _, d := range c.Disabled {
		if d == id {
			return true
		}
	}
	return false
}

func sortedRoleIDs(roles map[string]RoleConfig) []string {
	out := make([]string, 0, len(roles))
	for id := range roles {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func sortedKeys(m map[string]int) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedEvents(m map[Event]Transition) []Event {
	out := make([]Event, 0, len(m))
	for e := range m {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
