package slots

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

func NewDocument() *Document {
	return &Document{Version: DocumentVersion, Projects: map[string]*Project{}}
}

// Resolve finds a project by slug or by any of its bound channel ids.
func (d *Document) Resolve(ref string) (*Project, error) {
	ref = strings.TrimSpace(ref)
	if d == nil || ref == "" {
		return nil, fmt.Errorf("%w: %q", ErrProjectNotFound, ref)
	}
	if p, ok := d.Projects[ref]; ok {
		return p, nil
	}
	for _, slug := range d.Slugs() {
		p := d.Projects[slug]
		for _, ch := range p.Channels {
			if ch.ID == ref {
				return p, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrProjectNotFound, ref)
}

// Slugs returns project slugs in name order.
func (d *Document) Slugs() []string {
	out := make([]string, 0, len(d.Projects))
	for slug := range d.Projects {
		out = append(out, slug)
	}
	sort.Strings(out)
	return out
}

// Upsert registers or replaces project metadata. Existing worker state is kept.
func (d *Document) Upsert(p Project) *Project {
	if d.Projects == nil {
		d.Projects = map[string]*Project{}
	}
	existing, ok := d.Projects[p.Slug]
	if ok {
		p.Workers = existing.Workers
	}
	if p.Workers == nil {
		p.Workers = map[string]RoleWorkerState{}
	}
	stored := p
	d.Projects[p.Slug] = &stored
	return &stored
}

func (p *Project) levelSlots(role, level string) []SlotState {
	if p.Workers == nil {
		return nil
	}
	return p.Workers[role].Levels[level]
}

func (p *Project) setLevelSlots(role, level string, slots []SlotState) {
	if p.Workers == nil {
		p.Workers = map[string]RoleWorkerState{}
	}
	rws := p.Workers[role]
	if rws.Levels == nil {
		rws.Levels = map[string][]SlotState{}
	}
	rws.Levels[level] = slots
	p.Workers[role] = rws
}

// Activate fills a slot of role/level with the activation. Without a forced
// index the first inactive slot is used; the level grows lazily up to max.
func (p *Project) Activate(role, level string, max int, a Activation) (int, error) {
	if max < 1 {
		max = 1
	}
	slots := p.levelSlots(role, level)

	idx := -1
	if a.Slot != nil {
		if *a.Slot < 0 || *a.Slot >= max {
			return -1, fmt.Errorf("%w: %s/%s[%d] (max %d)", ErrSlotOutOfRange, role, level, *a.Slot, max)
		}
		idx = *a.Slot
	} else {
		for i, s := range slots {
			if i >= max {
				break
			}
			if !s.Active {
				idx = i
				break
			}
		}
		if idx < 0 {
			if len(slots) >= max {
				return -1, fmt.Errorf("%w: %s/%s (%d of %d busy)", ErrNoFreeSlot, role, level, len(slots), max)
			}
			idx = len(slots)
		}
	}
	for len(slots) <= idx {
		slots = append(slots, SlotState{})
	}

	current := slots[idx]
	if current.Active && current.IssueID != a.IssueID {
		return -1, fmt.Errorf("%w: %s/%s[%d] holds issue #%d", ErrSlotBusy, role, level, idx, current.IssueID)
	}

	session := a.SessionKey
	if session == "" {
		session = current.SessionKey
	}
	started := a.StartedAt
	if started.IsZero() {
		started = time.Now()
	}
	slots[idx] = SlotState{
		Active:        true,
		IssueID:       a.IssueID,
		SessionKey:    session,
		StartTime:     started.UTC().Format(time.RFC3339Nano),
		PreviousLabel: a.PreviousLabel,
	}
	p.setLevelSlots(role, level, slots)
	return idx, nil
}

// Deactivate frees the slot of role holding issueID. Only SessionKey is kept.
func (p *Project) Deactivate(role string, issueID int) (SlotRef, error) {
	ref, ok := p.FindIssue(role, issueID)
	if !ok {
		return SlotRef{}, fmt.Errorf("%w: %s #%d", ErrIssueNotActive, role, issueID)
	}
	slots := p.levelSlots(ref.Role, ref.Level)
	slots[ref.Index] = SlotState{SessionKey: slots[ref.Index].SessionKey}
	p.setLevelSlots(ref.Role, ref.Level, slots)
	return ref, nil
}

// Update replaces one slot with the result of fn. The slot is created empty
// when it does not exist yet.
func (p *Project) Update(role, level string, index int, fn func(SlotState) SlotState) (SlotState, error) {
	if index < 0 {
		return SlotState{}, fmt.Errorf("%w: %s/%s[%d]", ErrSlotOutOfRange, role, level, index)
	}
	slots := p.levelSlots(role, level)
	for len(slots) <= index {
		slots = append(slots, SlotState{})
	}
	slots[index] = fn(slots[index])
	p.setLevelSlots(role, level, slots)
	return slots[index], nil
}

// FindIssue returns the active slot of role holding issueID. An empty role
// searches every role.
func (p *Project) FindIssue(role string, issueID int) (SlotRef, bool) {
	for _, ref := range p.ActiveSlots(role) {
		if ref.Slot.IssueID == issueID {
			return ref, true
		}
	}
	return SlotRef{}, false
}

// ActiveSlots lists active slots ordered by role, level and index. An empty
// role lists all roles.
func (p *Project) ActiveSlots(role string) []SlotRef {
	out := make([]SlotRef, 0)
	for _, r := range sortedMapKeys(p.Workers) {
		if role != "" && r != role {
			continue
		}
		levels := p.Workers[r].Levels
		for _, level := range sortedMapKeys(levels) {
			for i, s := range levels[level] {
				if s.Active {
					out = append(out, SlotRef{Role: r, Level: level, Index: i, Slot: s})
				}
			}
		}
	}
	return out
}

// FreeSlots counts slots that could be activated for role/level under max,
// including slots not created yet.
func (p *Project) FreeSlots(role, level string, max int) int {
	if max < 1 {
		max = 1
	}
	slots := p.levelSlots(role, level)
	busy := 0
	for _, s := range slots {
		if s.Active {
			busy++
		}
	}
	free := max - busy
	if free < 0 {
		return 0
	}
	return free
}

func sortedMapKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
