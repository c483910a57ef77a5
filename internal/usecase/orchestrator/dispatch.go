package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"issueflow/internal/bootstrap/logging"
	"issueflow/internal/domain/labels"
	"issueflow/internal/domain/slots"
	"issueflow/internal/domain/workflow"
	"issueflow/internal/errs"
	"issueflow/internal/ports"
)

type DispatchInput struct {
	Project string
	Role    string
	// Level overrides the level hinted by the issue labels.
	Level string
	// IssueID picks a specific queued issue instead of scanning.
	IssueID  int
	Force    bool
	Channels []string
}

type DispatchResult struct {
	IssueID    int
	Title      string
	Role       string
	Level      string
	Slot       int
	From       string
	To         string
	SessionKey string
}

// Dispatch moves one queued issue into an active state: it reserves a slot,
// fires PICKUP, claims ownership and starts the worker session.
func (s *Service) Dispatch(ctx context.Context, in DispatchInput) (DispatchResult, error) {
	if err := s.checkReady(ctx); err != nil {
		return DispatchResult{}, err
	}
	pc, err := s.openProject(ctx, in.Project, in.Channels)
	if err != nil {
		return DispatchResult{}, err
	}
	ctx = logging.WithAttrs(ctx, slog.String("component", "orchestrator.dispatch"), slog.String("project", pc.slug()))
	return s.dispatch(ctx, pc, in)
}

func (s *Service) dispatch(ctx context.Context, pc *projectContext, in DispatchInput) (DispatchResult, error) {
	role := strings.TrimSpace(in.Role)
	rc, ok := pc.cfg.Role(role)
	if !ok {
		return DispatchResult{}, fmt.Errorf("%w: %q", workflow.ErrUnknownRole, role)
	}

	doc, err := s.store.Load(ctx)
	if err != nil {
		return DispatchResult{}, err
	}
	freeFor := func(level string) bool {
		p, ok := doc.Projects[pc.slug()]
		if !ok {
			return false
		}
		return p.FreeSlots(role, level, rc.MaxFor(level)) > 0
	}

	var cand Candidate
	if in.IssueID > 0 {
		cand, err = s.queuedCandidate(ctx, pc, role, in.IssueID, in.Force)
		if err != nil {
			return DispatchResult{}, err
		}
	} else {
		found := false
		cand, found, err = s.findNext(ctx, pc, role, in.Force, func(c Candidate) bool {
			return freeFor(levelOr(in.Level, c.Level))
		})
		if err != nil {
			return DispatchResult{}, err
		}
		if !found {
			return DispatchResult{}, ErrNoCandidate
		}
	}

	level := levelOr(in.Level, cand.Level)
	if !rc.HasLevel(level) {
		return DispatchResult{}, errs.WithHint(fmt.Errorf("unknown level %q for role %s", level, role),
			cand.Issue.ID, "use one of: "+strings.Join(rc.Levels, ", "))
	}
	tr, ok := pc.cfg.Workflow.Next(cand.StateKey, workflow.EventPickup)
	if !ok {
		return DispatchResult{}, fmt.Errorf("%w: %s has no PICKUP", workflow.ErrNoTransitionRule, cand.StateKey)
	}

	ctx = logging.WithAttrs(ctx, slog.Int("issue_id", cand.Issue.ID), slog.String("role", role), slog.String("level", level))
	ref, err := slots.ActivateWorker(ctx, s.store, pc.slug(), role, level, rc.MaxFor(level), slots.Activation{
		IssueID:       cand.Issue.ID,
		PreviousLabel: cand.Labels.StateLabel,
		StartedAt:     s.now(),
	})
	if err != nil {
		return DispatchResult{}, err
	}

	if err := s.apply(ctx, pc, move{
		issueID:   cand.Issue.ID,
		fromLabel: cand.Labels.StateLabel,
		toKey:     tr.Target,
		event:     string(workflow.EventPickup),
		kind:      ports.AuditPickup,
		reason:    fmt.Sprintf("%s:%s slot %d", role, level, ref.Index),
	}); err != nil {
		s.rollbackSlot(ctx, pc, role, cand.Issue.ID)
		return DispatchResult{}, err
	}

	s.claim(ctx, pc, cand, role, level)
	s.markSeen(ctx, pc.slug(), cand.Issue.ID)

	sessionKey, err := s.startSession(ctx, pc, cand, rc, level, ref)
	if err != nil {
		if revertErr := s.apply(ctx, pc, move{
			issueID:   cand.Issue.ID,
			fromLabel: pc.label(tr.Target),
			toKey:     cand.StateKey,
			event:     "REVERT",
			kind:      ports.AuditHealthFix,
			reason:    "session start failed",
		}); revertErr != nil {
			logging.Error(ctx, "revert after failed session start", slog.Any("err", errs.Loggable(revertErr)))
		}
		s.rollbackSlot(ctx, pc, role, cand.Issue.ID)
		return DispatchResult{}, err
	}

	s.notify(ctx, pc, cand.Labels, "pickup", cand.Issue.ID,
		fmt.Sprintf("%s (%s) picked up #%d %s", role, level, cand.Issue.ID, cand.Issue.Title), nil)
	return DispatchResult{
		IssueID:    cand.Issue.ID,
		Title:      cand.Issue.Title,
		Role:       role,
		Level:      level,
		Slot:       ref.Index,
		From:       cand.Labels.StateLabel,
		To:         pc.label(tr.Target),
		SessionKey: sessionKey,
	}, nil
}

func levelOr(explicit string, hinted string) string {
	if strings.TrimSpace(explicit) != "" {
		return strings.TrimSpace(explicit)
	}
	return hinted
}

// queuedCandidate loads a specific issue and checks it sits in one of role's
// queue states.
func (s *Service) queuedCandidate(ctx context.Context, pc *projectContext, role string, issueID int, force bool) (Candidate, error) {
	issue, err := pc.tracker.GetIssue(ctx, issueID)
	if err != nil {
		return Candidate{}, err
	}
	set := pc.parse(issue)
	state, ok := pc.cfg.Workflow.State(set.StateKey)
	if !ok || state.Type != workflow.StateQueue || state.Role != role {
		return Candidate{}, errs.WithHint(fmt.Errorf("%w: #%d is %q", ErrIssueNotQueued, issueID, set.StateLabel),
			issueID, "move the issue to a "+role+" queue label first")
	}
	if !force && !set.ClaimableBy(s.opts.Instance) {
		return Candidate{}, errs.WithHint(fmt.Errorf("%w: owner %s", ErrClaimedElsewhere, set.Owner),
			issueID, "use --force to take over the issue")
	}
	busy, err := s.busyIssues(ctx, pc.slug())
	if err != nil {
		return Candidate{}, err
	}
	if busy[issueID] {
		return Candidate{}, fmt.Errorf("%w: #%d already has an active worker", slots.ErrSlotBusy, issueID)
	}
	rc, _ := pc.cfg.Role(role)
	level, ok := set.Level(pc.cfg, role)
	if !ok {
		level = rc.DefaultLevel
	}
	return Candidate{Issue: issue, Labels: set, StateKey: set.StateKey, Level: level}, nil
}

// claim writes the owner and role:level labels. Other owners are removed,
// which is how force-claim transfers ownership.
func (s *Service) claim(ctx context.Context, pc *projectContext, cand Candidate, role string, level string) {
	add := make([]string, 0, 2)
	remove := make([]string, 0)
	if s.opts.Instance != "" {
		own := labels.Owner(s.opts.Instance)
		has := false
		for _, raw := range cand.Labels.OfKind(labels.KindOwner) {
			if strings.EqualFold(raw, own) {
				has = true
				continue
			}
			remove = append(remove, raw)
		}
		if !has {
			add = append(add, own)
		}
	}
	want := labels.RoleLevel(role, level)
	hasLevel := false
	for _, raw := range cand.Labels.RoleLevelLabels(role) {
		if raw == want {
			hasLevel = true
			continue
		}
		remove = append(remove, raw)
	}
	if !hasLevel {
		add = append(add, want)
	}

	if len(remove) > 0 {
		if err := pc.tracker.RemoveLabels(ctx, cand.Issue.ID, remove...); err != nil {
			logging.Warn(ctx, "remove stale claim labels", slog.Any("err", errs.Loggable(err)))
		}
	}
	if len(add) > 0 {
		if err := pc.tracker.AddLabels(ctx, cand.Issue.ID, add...); err != nil {
			logging.Warn(ctx, "add claim labels", slog.Any("err", errs.Loggable(err)))
		}
	}
}

func (s *Service) startSession(ctx context.Context, pc *projectContext, cand Candidate, rc workflow.RoleConfig, level string, ref slots.SlotRef) (string, error) {
	if s.runtime == nil {
		return ref.Slot.SessionKey, nil
	}
	key, err := s.runtime.Dispatch(ctx, ports.SessionRequest{
		Project:    pc.slug(),
		IssueID:    cand.Issue.ID,
		Role:       rc.ID,
		Level:      level,
		Model:      rc.Models[level],
		SessionKey: ref.Slot.SessionKey,
		Prompt:     buildPrompt(pc, cand, rc.ID),
		Repo:       s.repoDir(pc.project),
	})
	if err != nil {
		return "", errs.Wrap(err, "start worker session")
	}
	if key != "" && key != ref.Slot.SessionKey {
		if _, err := slots.UpdateSlot(ctx, s.store, pc.slug(), ref.Role, ref.Level, ref.Index, func(slot slots.SlotState) slots.SlotState {
			if slot.IssueID == cand.Issue.ID {
				slot.SessionKey = key
			}
			return slot
		}); err != nil {
			logging.Warn(ctx, "store session key", slog.Any("err", errs.Loggable(err)))
		}
	}
	return key, nil
}

func buildPrompt(pc *projectContext, cand Candidate, role string) string {
	rc, _ := pc.cfg.Role(role)
	var b strings.Builder
	fmt.Fprintf(&b, "Project %s, issue #%d: %s\n\n", pc.slug(), cand.Issue.ID, cand.Issue.Title)
	if body := strings.TrimSpace(cand.Issue.Body); body != "" {
		b.WriteString(body)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "When finished run: issueflow work finish --project %s --role %s --issue %d --result <%s>\n",
		pc.slug(), role, cand.Issue.ID, strings.Join(rc.CompletionResults, "|"))
	return b.String()
}

func (s *Service) rollbackSlot(ctx context.Context, pc *projectContext, role string, issueID int) {
	if _, err := slots.DeactivateWorker(ctx, s.store, pc.slug(), role, issueID); err != nil && !errors.Is(err, slots.ErrIssueNotActive) {
		logging.Error(ctx, "release reserved slot", slog.Any("err", errs.Loggable(err)))
	}
}

// fillSlots dispatches queued issues for every role until no slot or no
// candidate is left.
func (s *Service) fillSlots(ctx context.Context, pc *projectContext) []DispatchResult {
	out := make([]DispatchResult, 0)
	for _, role := range pc.cfg.RoleIDs() {
		if len(pc.cfg.Workflow.QueueStates(role)) == 0 {
			continue
		}
		rc, _ := pc.cfg.Role(role)
		limit := 0
		for _, level := range rc.Levels {
			limit += rc.MaxFor(level)
		}
		for i := 0; i < limit; i++ {
			res, err := s.dispatch(ctx, pc, DispatchInput{Role: role})
			if err != nil {
				if !errors.Is(err, ErrNoCandidate) {
					s.passError(ctx, pc, 0, errs.Wrapf(err, "dispatch %s", role))
				}
				break
			}
			out = append(out, res)
		}
	}
	return out
}
