package workflow

import (
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// StateType is the closed set of state kinds a workflow may declare.
type StateType string

const (
	StateQueue    StateType = "queue"
	StateActive   StateType = "active"
	StateHold     StateType = "hold"
	StateTerminal StateType = "terminal"
)

// Check names the external review signal a state waits for.
type Check string

const (
	CheckPRApproved Check = "prApproved"
	CheckPRMerged   Check = "prMerged"
)

type ReviewPolicy string

const (
	ReviewHuman ReviewPolicy = "human"
	ReviewAgent ReviewPolicy = "agent"
	ReviewAuto  ReviewPolicy = "auto"
)

// Action is a side effect attached to a transition.
type Action string

const (
	ActionDetectPR    Action = "detectPr"
	ActionMergePR     Action = "mergePr"
	ActionGitPull     Action = "gitPull"
	ActionCloseIssue  Action = "closeIssue"
	ActionReopenIssue Action = "reopenIssue"
)

// Event is the closed set of workflow events.
type Event string

const (
	EventPickup           Event = "PICKUP"
	EventComplete         Event = "COMPLETE"
	EventApprove          Event = "APPROVE"
	EventReject           Event = "REJECT"
	EventPass             Event = "PASS"
	EventFail             Event = "FAIL"
	EventRefine           Event = "REFINE"
	EventBlocked          Event = "BLOCKED"
	EventSkip             Event = "SKIP"
	EventApproved         Event = "APPROVED"
	EventChangesRequested Event = "CHANGES_REQUESTED"
	EventMergeConflict    Event = "MERGE_CONFLICT"
	EventMergeFailed      Event = "MERGE_FAILED"
	EventClosed           Event = "CLOSED"
)

var (
	knownStateTypes = map[StateType]struct{}{StateQueue: {}, StateActive: {}, StateHold: {}, StateTerminal: {}}
	knownChecks     = map[Check]struct{}{CheckPRApproved: {}, CheckPRMerged: {}}
	knownPolicies   = map[ReviewPolicy]struct{}{ReviewHuman: {}, ReviewAgent: {}, ReviewAuto: {}}
	knownActions    = map[Action]struct{}{
		ActionDetectPR: {}, ActionMergePR: {}, ActionGitPull: {}, ActionCloseIssue: {}, ActionReopenIssue: {},
	}
	knownEvents = map[Event]struct{}{
		EventPickup: {}, EventComplete: {}, EventApprove: {}, EventReject: {}, EventPass: {}, EventFail: {},
		EventRefine: {}, EventBlocked: {}, EventSkip: {}, EventApproved: {}, EventChangesRequested: {},
		EventMergeConflict: {}, EventMergeFailed: {}, EventClosed: {},
	}
)

// Transition moves an issue to Target and runs Actions in order.
// In YAML it may be written as a bare target key.
type Transition struct {
	Target  string   `yaml:"target" json:"target"`
	Actions []Action `yaml:"actions,omitempty" json:"actions,omitempty"`
}

func (t *Transition) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		t.Target = node.Value
		t.Actions = nil
		return nil
	}
	type plain Transition
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*t = Transition(p)
	return nil
}

// HasAction reports whether the transition runs a.
func (t Transition) HasAction(a Action) bool {
	for _, action := range t.Actions {
		if action == a {
			return true
		}
	}
	return false
}

type StateConfig struct {
	Type     StateType            `yaml:"type" json:"type"`
	Role     string               `yaml:"role,omitempty" json:"role,omitempty"`
	Label    string               `yaml:"label" json:"label"`
	Color    string               `yaml:"color,omitempty" json:"color,omitempty"`
	Priority int                  `yaml:"priority,omitempty" json:"priority,omitempty"`
	Check    Check                `yaml:"check,omitempty" json:"check,omitempty"`
	On       map[Event]Transition `yaml:"on,omitempty" json:"on,omitempty"`
}

type RoleConfig struct {
	ID                string            `yaml:"-" json:"id"`
	Levels            []string          `yaml:"levels" json:"levels"`
	DefaultLevel      string            `yaml:"defaultLevel" json:"defaultLevel"`
	Models            map[string]string `yaml:"models,omitempty" json:"models,omitempty"`
	MaxWorkers        map[string]int    `yaml:"maxWorkers,omitempty" json:"maxWorkers,omitempty"`
	CompletionResults []string          `yaml:"completionResults" json:"completionResults"`
}

// HasLevel reports whether level is one of the role's configured levels.
func (r RoleConfig) HasLevel(level string) bool {
	for _, l := range r.Levels {
		if l == level {
			return true
		}
	}
	return false
}

// MaxFor returns the worker ceiling for a level, at least 1.
func (r RoleConfig) MaxFor(level string) int {
	if n, ok := r.MaxWorkers[level]; ok && n > 0 {
		return n
	}
	return 1
}

func (r RoleConfig) AllowsResult(result string) bool {
	for _, allowed := range r.CompletionResults {
		if allowed == result {
			return true
		}
	}
	return false
}

type Timeouts struct {
	GitPull     time.Duration `json:"gitPull"`
	Provider    time.Duration `json:"provider"`
	StaleWorker time.Duration `json:"staleWorker"`
}

type Workflow struct {
	Initial      string                 `json:"initial"`
	ReviewPolicy ReviewPolicy           `json:"reviewPolicy"`
	States       map[string]StateConfig `json:"states"`
	// Order is the declaration order of States in the merged layers.
	Order []string `json:"order"`
}

// Config is a fully merged and validated workflow configuration.
type Config struct {
	Roles    map[string]RoleConfig `json:"roles"`
	Disabled []string              `json:"disabled,omitempty"`
	Workflow Workflow              `json:"workflow"`
	Timeouts Timeouts              `json:"timeouts"`
}

// Role returns an enabled role.
func (c *Config) Role(id string) (RoleConfig, bool) {
	r, ok := c.Roles[id]
	return r, ok
}

// RoleIDs returns enabled role ids in a stable order.
func (c *Config) RoleIDs() []string {
	out := make([]string, 0, len(c.Roles))
	for _, id := range roleOrder {
		if _, ok := c.Roles[id]; ok {
			out = append(out, id)
		}
	}
	extra := make([]string, 0)
	for id := range c.Roles {
		if !isBuiltinRole(id) {
			extra = append(extra, id)
		}
	}
	sort.Strings(extra)
	return append(out, extra...)
}

var roleOrder = []string{"developer", "tester", "reviewer", "architect"}

func isBuiltinRole(id string) bool {
	for _, r := range roleOrder {
		if r == id {
			return true
		}
	}
	return false
}
