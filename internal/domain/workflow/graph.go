package workflow

import (
	"sort"
	"strings"
)

// orderedKeys returns state keys in declaration order. Keys missing from Order
// (hand-built configs) follow in name order.
func (w Workflow) orderedKeys() []string {
	out := make([]string, 0, len(w.States))
	seen := make(map[string]struct{}, len(w.States))
	for _, key := range w.Order {
		if _, ok := w.States[key]; !ok {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	rest := make([]string, 0)
	for key := range w.States {
		if _, ok := seen[key]; !ok {
			rest = append(rest, key)
		}
	}
	sort.Strings(rest)
	return append(out, rest...)
}

// Keys returns every state key in declaration order.
func (w Workflow) Keys() []string {
	return w.orderedKeys()
}

func (w Workflow) State(key string) (StateConfig, bool) {
	s, ok := w.States[key]
	return s, ok
}

// Labels returns the tracker labels of all states in declaration order.
func (w Workflow) Labels() []string {
	keys := w.orderedKeys()
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		out = append(out, w.States[key].Label)
	}
	return out
}

// StateByLabel maps a tracker label back to its state key. Matching ignores
// surrounding whitespace and case.
func (w Workflow) StateByLabel(label string) (string, StateConfig, bool) {
	needle := strings.ToLower(strings.TrimSpace(label))
	if needle == "" {
		return "", StateConfig{}, false
	}
	for _, key := range w.orderedKeys() {
		state := w.States[key]
		if strings.ToLower(strings.TrimSpace(state.Label)) == needle {
			return key, state, true
		}
	}
	return "", StateConfig{}, false
}

func (w Workflow) statesOf(t StateType, role string) []string {
	out := make([]string, 0)
	for _, key := range w.orderedKeys() {
		state := w.States[key]
		if state.Type != t {
			continue
		}
		if role != "" && state.Role != role {
			continue
		}
		out = append(out, key)
	}
	return out
}

// QueueStates returns the queue states served by role, lowest priority value
// first; ties keep declaration order.
func (w Workflow) QueueStates(role string) []string {
	keys := w.statesOf(StateQueue, role)
	sort.SliceStable(keys, func(i, j int) bool {
		return w.States[keys[i]].Priority < w.States[keys[j]].Priority
	})
	return keys
}

func (w Workflow) ActiveStates(role string) []string {
	return w.statesOf(StateActive, role)
}

func (w Workflow) StatesOfType(t StateType) []string {
	return w.statesOf(t, "")
}

// CheckStates returns the states that wait for an external PR signal.
func (w Workflow) CheckStates() []string {
	out := make([]string, 0)
	for _, key := range w.orderedKeys() {
		if w.States[key].Check != "" {
			out = append(out, key)
		}
	}
	return out
}

// Next returns the transition fired by event in state key.
func (w Workflow) Next(key string, event Event) (Transition, bool) {
	state, ok := w.States[key]
	if !ok {
		return Transition{}, false
	}
	tr, ok := state.On[event]
	return tr, ok
}

// IsActiveFor reports whether key is an active state of role.
func (w Workflow) IsActiveFor(key string, role string) bool {
	state, ok := w.States[key]
	return ok && state.Type == StateActive && state.Role == role
}
