package slots

import "time"

// DocumentVersion is the schema version written by this package. Documents
// without a version are legacy group-keyed records.
const DocumentVersion = 2

// Channel binds a project to a chat channel. ID is opaque to the store.
type Channel struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// SlotState is one concurrency unit of a role level. SessionKey survives
// deactivation so the next activation can reuse the session.
type SlotState struct {
	Active        bool   `json:"active"`
	IssueID       int    `json:"issueId,omitempty"`
	SessionKey    string `json:"sessionKey,omitempty"`
	StartTime     string `json:"startTime,omitempty"`
	PreviousLabel string `json:"previousLabel,omitempty"`
}

// Started parses StartTime. The zero time is returned for empty or malformed
// values.
func (s SlotState) Started() time.Time {
	if s.StartTime == "" {
		return time.Time{}
	}
	ts, err := time.Parse(time.RFC3339Nano, s.StartTime)
	if err != nil {
		return time.Time{}
	}
	return ts
}

// RoleWorkerState maps level name to its slots. The slice length is the
// number of slots created so far for that level.
type RoleWorkerState struct {
	Levels map[string][]SlotState `json:"levels"`
}

type Project struct {
	Slug       string                     `json:"slug"`
	Name       string                     `json:"name"`
	Repo       string                     `json:"repo"`
	Provider   string                     `json:"provider"`
	BaseBranch string                     `json:"baseBranch,omitempty"`
	Channels   []Channel                  `json:"channels"`
	Workers    map[string]RoleWorkerState `json:"workers"`
}

// Document is the whole durable state: every project keyed by slug.
type Document struct {
	Version  int                 `json:"version"`
	Projects map[string]*Project `json:"projects"`
}

// SlotRef addresses one slot by role, level and index.
type SlotRef struct {
	Role  string    `json:"role"`
	Level string    `json:"level"`
	Index int       `json:"index"`
	Slot  SlotState `json:"slot"`
}

// Activation is the new content of a slot being filled.
type Activation struct {
	IssueID       int
	SessionKey    string
	PreviousLabel string
	StartedAt     time.Time
	// Slot selects a specific slot index. Nil picks the first free slot.
	Slot *int
}
