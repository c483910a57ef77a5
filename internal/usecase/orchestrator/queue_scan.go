package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"issueflow/internal/domain/labels"
	"issueflow/internal/domain/workflow"
	"issueflow/internal/ports"
)

type FindNextInput struct {
	Project string
	Role    string
	// Channels narrows visibility to issues routed to these channels. Empty
	// uses the instance default.
	Channels []string
	// Force includes issues owned by other instances.
	Force bool
}

// Candidate is an issue ready for pickup.
type Candidate struct {
	Issue    ports.Issue
	Labels   labels.Set
	StateKey string
	Level    string
}

// FindNextIssueForRole returns the next issue role should pick up: queue
// states in ascending priority, oldest issue first within a state.
func (s *Service) FindNextIssueForRole(ctx context.Context, in FindNextInput) (Candidate, bool, error) {
	if err := s.checkReady(ctx); err != nil {
		return Candidate{}, false, err
	}
	role := strings.TrimSpace(in.Role)
	if role == "" {
		return Candidate{}, false, errors.New("role is required")
	}
	pc, err := s.openProject(ctx, in.Project, in.Channels)
	if err != nil {
		return Candidate{}, false, err
	}
	if _, ok := pc.cfg.Role(role); !ok {
		return Candidate{}, false, fmt.Errorf("%w: %q", workflow.ErrUnknownRole, role)
	}
	return s.findNext(ctx, pc, role, in.Force, nil)
}

func (s *Service) findNext(ctx context.Context, pc *projectContext, role string, force bool, accept func(Candidate) bool) (Candidate, bool, error) {
	busy, err := s.busyIssues(ctx, pc.slug())
	if err != nil {
		return Candidate{}, false, err
	}
	rc, _ := pc.cfg.Role(role)

	for _, key := range pc.cfg.Workflow.QueueStates(role) {
		state := pc.cfg.Workflow.States[key]
		issues, err := pc.tracker.ListIssuesByLabel(ctx, state.Label)
		if err != nil {
			return Candidate{}, false, err
		}
		// Listings are newest first.
		for i := len(issues) - 1; i >= 0; i-- {
			issue := issues[i]
			set := pc.parse(issue)
			if set.StateKey != key {
				continue
			}
			if !force && !set.ClaimableBy(s.opts.Instance) {
				continue
			}
			if !set.VisibleTo(pc.project.Channels, pc.scope) {
				continue
			}
			if state.Check != "" && set.ReviewMode() == labels.ReviewHuman {
				continue
			}
			if busy[issue.ID] {
				continue
			}
			level, ok := set.Level(pc.cfg, role)
			if !ok {
				level = rc.DefaultLevel
			}
			cand := Candidate{Issue: issue, Labels: set, StateKey: key, Level: level}
			if accept != nil && !accept(cand) {
				continue
			}
			return cand, true, nil
		}
	}
	return Candidate{}, false, nil
}

// busyIssues returns the issues that hold an active slot in the project.
func (s *Service) busyIssues(ctx context.Context, slug string) (map[int]bool, error) {
	doc, err := s.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	out := map[int]bool{}
	p, ok := doc.Projects[slug]
	if !ok {
		return out, nil
	}
	for _, ref := range p.ActiveSlots("") {
		out[ref.Slot.IssueID] = true
	}
	return out, nil
}
