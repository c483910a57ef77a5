package slots

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

type legacyDocument struct {
	Projects map[string]legacyGroup `json:"projects"`
}

// legacyGroup is one chat group record of the version-less layout. Several
// groups may point at the same project.
type legacyGroup struct {
	Slug       string                  `json:"slug"`
	Name       string                  `json:"name"`
	Repo       string                  `json:"repo"`
	Provider   string                  `json:"provider"`
	BaseBranch string                  `json:"baseBranch"`
	Channel    string                  `json:"channel"`
	GroupName  string                  `json:"groupName"`
	Workers    map[string]legacyWorker `json:"workers"`
}

type legacyWorker struct {
	Active        bool              `json:"active"`
	IssueID       legacyIssueID     `json:"issueId"`
	Level         string            `json:"level"`
	SessionKey    string            `json:"sessionKey"`
	Sessions      map[string]string `json:"sessions"`
	StartTime     string            `json:"startTime"`
	PreviousLabel string            `json:"previousLabel"`
}

// legacyIssueID accepts numbers, numeric strings and null.
type legacyIssueID int

func (id *legacyIssueID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*id = 0
		return nil
	}
	raw := string(data)
	if unquoted, err := strconv.Unquote(raw); err == nil {
		raw = unquoted
	}
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "#")
	if raw == "" {
		*id = 0
		return nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("issue id %q: %w", raw, err)
	}
	*id = legacyIssueID(n)
	return nil
}

// Decode reads a state document. A document without a version is migrated
// from the legacy layout and migrated reports true; callers persist the result
// so the migration runs once. levelOf supplies the level for legacy workers
// that never recorded one.
func Decode(data []byte, levelOf func(role string) string) (doc *Document, migrated bool, err error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return NewDocument(), false, nil
	}

	var header struct {
		Version *int `json:"version"`
	}
	if err := json.Unmarshal(data, &header); err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}

	if header.Version != nil {
		if *header.Version > DocumentVersion {
			return nil, false, fmt.Errorf("%w: version %d is newer than %d", ErrInvalidDocument, *header.Version, DocumentVersion)
		}
		doc = NewDocument()
		if err := json.Unmarshal(data, doc); err != nil {
			return nil, false, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
		}
		for slug, p := range doc.Projects {
			if p == nil {
				delete(doc.Projects, slug)
				continue
			}
			if p.Slug == "" {
				p.Slug = slug
			}
			if p.Workers == nil {
				p.Workers = map[string]RoleWorkerState{}
			}
		}
		doc.Version = DocumentVersion
		return doc, false, nil
	}

	var legacy legacyDocument
	if err := json.Unmarshal(data, &legacy); err != nil {
		return nil, false, fmt.Errorf("%w: legacy layout: %v", ErrInvalidDocument, err)
	}
	return migrateLegacy(legacy, levelOf), true, nil
}

func migrateLegacy(legacy legacyDocument, levelOf func(role string) string) *Document {
	doc := NewDocument()

	groupIDs := make([]string, 0, len(legacy.Projects))
	for id := range legacy.Projects {
		groupIDs = append(groupIDs, id)
	}
	sort.Strings(groupIDs)

	workers := map[string]map[string]legacyWorker{}
	for _, groupID := range groupIDs {
		g := legacy.Projects[groupID]
		slug := g.Slug
		if slug == "" {
			slug = Slugify(g.Name)
		}
		if slug == "" {
			slug = Slugify(groupID)
		}

		p, ok := doc.Projects[slug]
		if !ok {
			p = &Project{
				Slug:       slug,
				Name:       g.Name,
				Repo:       g.Repo,
				Provider:   g.Provider,
				BaseBranch: g.BaseBranch,
				Workers:    map[string]RoleWorkerState{},
			}
			doc.Projects[slug] = p
			workers[slug] = map[string]legacyWorker{}
		}
		channelType := g.Channel
		if channelType == "" {
			channelType = "telegram"
		}
		p.Channels = append(p.Channels, Channel{Type: channelType, ID: groupID, Name: g.GroupName})

		for role, w := range g.Workers {
			prev, seen := workers[slug][role]
			if !seen || newerSnapshot(w, prev) {
				workers[slug][role] = w
			}
		}
	}

	for slug, byRole := range workers {
		p := doc.Projects[slug]
		for role, w := range byRole {
			p.Workers[role] = convertLegacyWorker(role, w, levelOf)
		}
	}
	return doc
}

// newerSnapshot reports whether a carries a more recent non-empty start time
// than b.
func newerSnapshot(a, b legacyWorker) bool {
	if a.StartTime == "" {
		return false
	}
	if b.StartTime == "" {
		return true
	}
	sa := SlotState{StartTime: a.StartTime}.Started()
	sb := SlotState{StartTime: b.StartTime}.Started()
	if sa.IsZero() || sb.IsZero() {
		return a.StartTime > b.StartTime
	}
	return sa.After(sb)
}

func convertLegacyWorker(role string, w legacyWorker, levelOf func(string) string) RoleWorkerState {
	rws := RoleWorkerState{Levels: map[string][]SlotState{}}

	for level, session := range w.Sessions {
		if session == "" {
			continue
		}
		rws.Levels[level] = []SlotState{{SessionKey: session}}
	}

	level := w.Level
	if level == "" && levelOf != nil {
		level = levelOf(role)
	}
	if level == "" {
		return rws
	}

	slot := SlotState{}
	if existing := rws.Levels[level]; len(existing) > 0 {
		slot = existing[0]
	}
	if w.SessionKey != "" {
		slot.SessionKey = w.SessionKey
	}
	if w.Active && w.IssueID > 0 {
		slot.Active = true
		slot.IssueID = int(w.IssueID)
		slot.StartTime = w.StartTime
		slot.PreviousLabel = w.PreviousLabel
	}
	if slot.SessionKey != "" || slot.Active {
		rws.Levels[level] = []SlotState{slot}
	}
	return rws
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lower-cases s and joins alphanumeric runs with dashes.
func Slugify(s string) string {
	return strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), "-"), "-")
}
