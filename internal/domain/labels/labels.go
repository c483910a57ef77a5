// Package labels turns the free-text label set of a tracker issue into typed
// routing facts and back.
package labels

import (
	"strconv"
	"strings"

	"issueflow/internal/domain/slots"
	"issueflow/internal/domain/workflow"
)

// Kind tags one parsed label.
type Kind int

const (
	KindOther Kind = iota
	KindState
	KindRoleLevel
	KindStep
	KindOwner
	KindNotify
)

const (
	StepReview = "review"
	StepTest   = "test"

	ReviewHuman = "human"
	ReviewAgent = "agent"
	TestSkip    = "skip"

	ownerPrefix  = "owner:"
	notifyPrefix = "notify:"
)

// Label is one raw label with its parsed variant.
type Label struct {
	Raw  string
	Kind Kind

	StateKey string
	Role     string
	Level    string
	Step     string
	Value    string
	Owner    string
	Notify   NotifyTarget
}

// NotifyTarget routes notifications to a channel. Legacy single-token labels
// leave ChannelType empty.
type NotifyTarget struct {
	ChannelType string
	Ref         string
}

// Set is the typed view of an issue's labels.
type Set struct {
	Labels []Label

	StateKey   string
	StateLabel string

	steps   map[string]string
	levels  map[string]string
	bare    []string
	Owner   string
	Targets []NotifyTarget
}

// Parse classifies every label once. The state is the first configured state,
// in declaration order, whose label is present.
func Parse(cfg *workflow.Config, raw []string) Set {
	set := Set{
		Labels: make([]Label, 0, len(raw)),
		steps:  map[string]string{},
		levels: map[string]string{},
	}

	present := make(map[string]string, len(raw))
	for _, r := range raw {
		present[normalize(r)] = r
	}
	if cfg != nil {
		for _, key := range cfg.Workflow.Keys() {
			state := cfg.Workflow.States[key]
			if original, ok := present[normalize(state.Label)]; ok {
				set.StateKey = key
				set.StateLabel = original
				break
			}
		}
	}

	for _, r := range raw {
		l := classify(cfg, r)
		switch l.Kind {
		case KindRoleLevel:
			if _, ok := set.levels[l.Role]; !ok {
				set.levels[l.Role] = l.Level
			}
		case KindStep:
			if _, ok := set.steps[l.Step]; !ok {
				set.steps[l.Step] = l.Value
			}
		case KindOwner:
			if set.Owner == "" {
				set.Owner = l.Owner
			}
		case KindNotify:
			set.Targets = append(set.Targets, l.Notify)
		case KindOther:
			if trimmed := strings.TrimSpace(r); trimmed != "" && !strings.Contains(trimmed, ":") {
				set.bare = append(set.bare, trimmed)
			}
		}
		if cfg != nil && l.Kind == KindOther {
			if key, _, ok := cfg.Workflow.StateByLabel(r); ok {
				l.Kind = KindState
				l.StateKey = key
			}
		}
		set.Labels = append(set.Labels, l)
	}
	return set
}

func classify(cfg *workflow.Config, raw string) Label {
	l := Label{Raw: raw}
	s := strings.TrimSpace(raw)
	lower := strings.ToLower(s)

	switch {
	case strings.HasPrefix(lower, ownerPrefix):
		if owner := strings.TrimSpace(s[len(ownerPrefix):]); owner != "" {
			l.Kind = KindOwner
			l.Owner = owner
		}
		return l
	case strings.HasPrefix(lower, notifyPrefix):
		rest := strings.TrimSpace(s[len(notifyPrefix):])
		if rest == "" {
			return l
		}
		l.Kind = KindNotify
		if channelType, ref, ok := strings.Cut(rest, ":"); ok && channelType != "" && ref != "" {
			l.Notify = NotifyTarget{ChannelType: strings.ToLower(channelType), Ref: ref}
		} else {
			l.Notify = NotifyTarget{Ref: rest}
		}
		return l
	}

	if step, value, ok := strings.Cut(lower, ":"); ok && isStep(step) && value != "" {
		l.Kind = KindStep
		l.Step = step
		l.Value = value
		return l
	}

	if cfg != nil {
		for _, sep := range []string{":", "."} {
			role, level, ok := strings.Cut(s, sep)
			if !ok {
				continue
			}
			rc, known := cfg.Role(strings.ToLower(role))
			if known && rc.HasLevel(level) {
				l.Kind = KindRoleLevel
				l.Role = rc.ID
				l.Level = level
				return l
			}
		}
	}
	return l
}

func isStep(step string) bool {
	return step == StepReview || step == StepTest
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// HasState reports whether a configured state label was found.
func (s Set) HasState() bool { return s.StateKey != "" }

// Step returns the routing value for step, if any.
func (s Set) Step(step string) (string, bool) {
	v, ok := s.steps[step]
	return v, ok
}

// ReviewMode returns "human", "agent" or "".
func (s Set) ReviewMode() string {
	return s.steps[StepReview]
}

func (s Set) SkipTest() bool {
	return s.steps[StepTest] == TestSkip
}

// Level returns the level hinted for role. A role:level label wins over the
// legacy role.level form; a bare level name valid for the role is the last
// resort.
func (s Set) Level(cfg *workflow.Config, role string) (string, bool) {
	if level, ok := s.levels[role]; ok {
		return level, true
	}
	if cfg == nil {
		return "", false
	}
	rc, ok := cfg.Role(role)
	if !ok {
		return "", false
	}
	for _, b := range s.bare {
		if rc.HasLevel(b) {
			return b, true
		}
	}
	return "", false
}

// Unclaimed reports whether no instance owns the issue.
func (s Set) Unclaimed() bool { return s.Owner == "" }

// ClaimableBy reports whether instance owns the issue or nobody does.
func (s Set) ClaimableBy(instance string) bool {
	return s.Owner == "" || instance == "" || strings.EqualFold(s.Owner, instance)
}

// VisibleTo reports whether an instance serving scope may see the issue.
// Targets resolve against the project's full channel list so an index ref
// names the same channel for every instance; the resolved channel must then
// be one the instance serves. Untagged issues are visible to every instance,
// and an instance without a scope applies no filter.
func (s Set) VisibleTo(all, scope []slots.Channel) bool {
	if len(s.Targets) == 0 || len(scope) == 0 {
		return true
	}
	for _, target := range s.Targets {
		ch, ok := target.Match(all)
		if !ok {
			continue
		}
		for _, served := range scope {
			if strings.EqualFold(served.Type, ch.Type) && served.ID == ch.ID {
				return true
			}
		}
	}
	return false
}

// NotifyChannel returns the first channel an issue's notify labels route to.
func (s Set) NotifyChannel(channels []slots.Channel) (slots.Channel, bool) {
	for _, target := range s.Targets {
		if ch, ok := target.Match(channels); ok {
			return ch, true
		}
	}
	return slots.Channel{}, false
}

// Match resolves the target against channels. Ref is a channel name, a
// channel id, or a zero-based index into the channels of that type.
func (t NotifyTarget) Match(channels []slots.Channel) (slots.Channel, bool) {
	typed := make([]slots.Channel, 0, len(channels))
	for _, ch := range channels {
		if t.ChannelType == "" || strings.EqualFold(ch.Type, t.ChannelType) {
			typed = append(typed, ch)
		}
	}
	for _, ch := range typed {
		if ch.ID == t.Ref || (ch.Name != "" && strings.EqualFold(ch.Name, t.Ref)) {
			return ch, true
		}
	}
	if t.ChannelType != "" {
		if idx, err := strconv.Atoi(t.Ref); err == nil && idx >= 0 && idx < len(typed) {
			return typed[idx], true
		}
	}
	return slots.Channel{}, false
}

func (t NotifyTarget) String() string {
	if t.ChannelType == "" {
		return notifyPrefix + t.Ref
	}
	return notifyPrefix + t.ChannelType + ":" + t.Ref
}

func RoleLevel(role, level string) string { return role + ":" + level }

func Step(step, value string) string { return step + ":" + value }

func Owner(instance string) string { return ownerPrefix + instance }

// Notify builds the label routing to channel.
func Notify(ch slots.Channel) string {
	ref := ch.Name
	if ref == "" {
		ref = ch.ID
	}
	return NotifyTarget{ChannelType: ch.Type, Ref: ref}.String()
}

// OfKind returns the raw labels classified as kind.
func (s Set) OfKind(kind Kind) []string {
	out := make([]string, 0)
	for _, l := range s.Labels {
		if l.Kind == kind {
			out = append(out, l.Raw)
		}
	}
	return out
}

// RoleLevelLabels returns every role:level label of role, including the
// legacy form.
func (s Set) RoleLevelLabels(role string) []string {
	out := make([]string, 0)
	for _, l := range s.Labels {
		if l.Kind == KindRoleLevel && l.Role == role {
			out = append(out, l.Raw)
		}
	}
	return out
}

// StepLabels returns the labels of step.
func (s Set) StepLabels(step string) []string {
	out := make([]string, 0)
	for _, l := range s.Labels {
		if l.Kind == KindStep && l.Step == step {
			out = append(out, l.Raw)
		}
	}
	return out
}
