package orchestrator

import (
	"context"
	"errors"
	"sort"
	"strings"

	"issueflow/internal/domain/slots"
)

// SlotView is one slot as shown by status surfaces.
type SlotView struct {
	Role    string `json:"role"`
	Level   string `json:"level"`
	Index   int    `json:"index"`
	Active  bool   `json:"active"`
	IssueID int    `json:"issueId,omitempty"`
	Session string `json:"sessionKey,omitempty"`
	Started string `json:"startTime,omitempty"`
}

type ProjectView struct {
	Slug     string          `json:"slug"`
	Name     string          `json:"name"`
	Repo     string          `json:"repo"`
	Provider string          `json:"provider"`
	Channels []slots.Channel `json:"channels"`
	Slots    []SlotView      `json:"slots"`
}

// Projects lists every registered project with all of its slots.
func (s *Service) Projects(ctx context.Context) ([]ProjectView, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}
	if s.store == nil {
		return nil, errors.New("slot store is required")
	}
	doc, err := s.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ProjectView, 0, len(doc.Projects))
	for _, slug := range doc.Slugs() {
		p := doc.Projects[slug]
		view := ProjectView{
			Slug:     p.Slug,
			Name:     p.Name,
			Repo:     p.Repo,
			Provider: p.Provider,
			Channels: p.Channels,
			Slots:    make([]SlotView, 0),
		}
		for _, role := range sortedKeys(p.Workers) {
			levels := p.Workers[role].Levels
			for _, level := range sortedKeys(levels) {
				for i, slot := range levels[level] {
					view.Slots = append(view.Slots, SlotView{
						Role:    role,
						Level:   level,
						Index:   i,
						Active:  slot.Active,
						IssueID: slot.IssueID,
						Session: slot.SessionKey,
						Started: slot.StartTime,
					})
				}
			}
		}
		out = append(out, view)
	}
	return out, nil
}

type RegisterProjectInput struct {
	Slug       string
	Name       string
	Repo       string
	Provider   string
	BaseBranch string
	Channels   []slots.Channel
}

// RegisterProject adds or updates a project record. Existing workers are
// kept.
func (s *Service) RegisterProject(ctx context.Context, in RegisterProjectInput) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	slug := strings.TrimSpace(in.Slug)
	if slug == "" {
		slug = slots.Slugify(in.Name)
	}
	if slug == "" {
		return errors.New("project slug or name is required")
	}
	if len(in.Channels) == 0 {
		return errors.New("at least one channel is required")
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = slug
	}
	return s.store.Update(ctx, func(doc *slots.Document) error {
		doc.Upsert(slots.Project{
			Slug:       slug,
			Name:       name,
			Repo:       strings.TrimSpace(in.Repo),
			Provider:   strings.TrimSpace(in.Provider),
			BaseBranch: strings.TrimSpace(in.BaseBranch),
			Channels:   in.Channels,
		})
		return nil
	})
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
