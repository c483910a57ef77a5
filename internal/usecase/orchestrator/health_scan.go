package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"issueflow/internal/bootstrap/logging"
	"issueflow/internal/domain/slots"
	"issueflow/internal/domain/workflow"
	"issueflow/internal/errs"
	"issueflow/internal/ports"
)

type HealthReport struct {
	// Reverted issues sat in an active state with no worker.
	Reverted []int
	// Released slots held issues that left every active state of the role.
	Released []int
	// Stale workers have been active longer than the stale threshold.
	Stale []int
}

// HealthScan repairs disagreements between labels and slots for one project.
func (s *Service) HealthScan(ctx context.Context, projectRef string) (HealthReport, error) {
	if err := s.checkReady(ctx); err != nil {
		return HealthReport{}, err
	}
	doc, err := s.store.Load(ctx)
	if err != nil {
		return HealthReport{}, err
	}
	p, err := doc.Resolve(projectRef)
	if err != nil {
		return HealthReport{}, err
	}
	pc, err := s.projectContextFor(ctx, *p, nil)
	if err != nil {
		return HealthReport{}, err
	}
	ctx = logging.WithAttrs(ctx, slog.String("component", "orchestrator.health"), slog.String("project", pc.slug()))
	return s.healthScan(ctx, pc, doc), nil
}

// healthScan works from snapshot but re-reads the store before every repair,
// so a worker activated after the snapshot is never treated as an orphan.
func (s *Service) healthScan(ctx context.Context, pc *projectContext, snapshot *slots.Document) HealthReport {
	report := HealthReport{}
	snap := snapshot.Projects[pc.slug()]
	if snap == nil {
		snap = &slots.Project{Slug: pc.slug()}
	}

	for _, role := range pc.cfg.RoleIDs() {
		for _, key := range pc.cfg.Workflow.ActiveStates(role) {
			s.revertOrphans(ctx, pc, snap, role, key, &report)
		}
		for _, ref := range snap.ActiveSlots(role) {
			s.checkSlot(ctx, pc, role, ref, &report)
		}
	}

	if fresh, err := s.store.Load(ctx); err == nil {
		if p, ok := fresh.Projects[pc.slug()]; ok {
			for _, role := range pc.cfg.RoleIDs() {
				s.recorder.SetActiveSlots(pc.slug(), role, len(p.ActiveSlots(role)))
			}
		}
	}
	return report
}

func (s *Service) revertOrphans(ctx context.Context, pc *projectContext, snap *slots.Project, role string, key string, report *HealthReport) {
	label := pc.label(key)
	issues, err := pc.tracker.ListIssuesByLabel(ctx, label)
	if err != nil {
		s.passError(ctx, pc, 0, errs.Wrapf(err, "list %q", label))
		return
	}
	for _, issue := range issues {
		set := pc.parse(issue)
		if set.StateKey != key {
			continue
		}
		if _, ok := snap.FindIssue(role, issue.ID); ok {
			continue
		}
		held, err := s.holdsSlot(ctx, pc.slug(), role, issue.ID)
		if err != nil {
			s.passError(ctx, pc, issue.ID, err)
			continue
		}
		if held {
			logging.Debug(ctx, "worker appeared after snapshot, not an orphan", slog.Int("issue_id", issue.ID))
			continue
		}

		target := s.revertTarget(ctx, pc, role, issue.ID)
		if target == "" {
			continue
		}
		if err := s.apply(ctx, pc, move{
			issueID:   issue.ID,
			fromLabel: set.StateLabel,
			toKey:     target,
			event:     "REVERT",
			kind:      ports.AuditHealthFix,
			reason:    fmt.Sprintf("no active %s slot holds the issue", role),
		}); err != nil {
			s.passError(ctx, pc, issue.ID, err)
			continue
		}
		report.Reverted = append(report.Reverted, issue.ID)
	}
}

// revertTarget is the queue state the issue was picked up from, taken from
// the last pickup in the audit trail, or the role's first queue state.
func (s *Service) revertTarget(ctx context.Context, pc *projectContext, role string, issueID int) string {
	if s.audit != nil {
		entries, err := s.audit.ListForIssue(ctx, pc.slug(), issueID)
		if err == nil {
			for i := len(entries) - 1; i >= 0; i-- {
				if entries[i].Kind != ports.AuditPickup {
					continue
				}
				if key, state, ok := pc.cfg.Workflow.StateByLabel(entries[i].FromLabel); ok && state.Type == workflow.StateQueue && state.Role == role {
					return key
				}
				break
			}
		}
	}
	key, err := pc.cfg.FirstQueueState(role)
	if err != nil {
		return ""
	}
	return key
}

// checkSlot releases a slot whose issue is gone or no longer in an active
// state of the role, and flags workers running past the stale threshold.
func (s *Service) checkSlot(ctx context.Context, pc *projectContext, role string, ref slots.SlotRef, report *HealthReport) {
	issueID := ref.Slot.IssueID
	issue, err := pc.tracker.GetIssue(ctx, issueID)
	switch {
	case errors.Is(err, ports.ErrIssueNotFound):
	case err != nil:
		s.passError(ctx, pc, issueID, err)
		return
	default:
		set := pc.parse(issue)
		if issue.IsOpen() && pc.cfg.Workflow.IsActiveFor(set.StateKey, role) {
			s.flagStale(ctx, pc, role, ref, report)
			return
		}
		if issue.IsOpen() && s.pickupInFlight(ref, set.StateLabel) {
			logging.Debug(ctx, "slot activated before its pickup label, skipping", slog.Int("issue_id", issueID))
			return
		}
	}

	held, err := s.holdsSlot(ctx, pc.slug(), role, issueID)
	if err != nil || !held {
		return
	}
	if _, err := slots.DeactivateWorker(ctx, s.store, pc.slug(), role, issueID); err != nil {
		s.passError(ctx, pc, issueID, err)
		return
	}
	s.record(ctx, ports.AuditEntry{
		Project: pc.slug(),
		IssueID: issueID,
		Kind:    ports.AuditHealthFix,
		Reason:  fmt.Sprintf("released %s:%s slot %d, issue left the active states", role, ref.Level, ref.Index),
	})
	logging.Warn(ctx, "released slot of inactive issue", slog.Int("issue_id", issueID), slog.String("role", role))
	report.Released = append(report.Released, issueID)
}

// pickupGrace covers the gap between a slot being activated and the PICKUP
// label landing on the issue.
const pickupGrace = time.Minute

// pickupInFlight reports whether a slot was filled moments ago for an issue
// that still carries the queue label it was picked up from.
func (s *Service) pickupInFlight(ref slots.SlotRef, stateLabel string) bool {
	if ref.Slot.PreviousLabel == "" || ref.Slot.PreviousLabel != stateLabel {
		return false
	}
	started := ref.Slot.Started()
	return !started.IsZero() && s.now().Sub(started) < pickupGrace
}

func (s *Service) flagStale(ctx context.Context, pc *projectContext, role string, ref slots.SlotRef, report *HealthReport) {
	limit := s.staleAfter(pc.cfg)
	started := ref.Slot.Started()
	if limit <= 0 || started.IsZero() {
		return
	}
	age := s.now().Sub(started)
	if age <= limit {
		return
	}
	report.Stale = append(report.Stale, ref.Slot.IssueID)
	logging.Warn(ctx, "worker exceeded stale threshold",
		slog.Int("issue_id", ref.Slot.IssueID), slog.String("role", role), slog.Duration("age", age))

	key := fmt.Sprintf("stale:%s:%d:%s", pc.slug(), ref.Slot.IssueID, ref.Slot.StartTime)
	if s.cache != nil {
		if _, found, err := s.cache.Get(ctx, key); err == nil && found {
			return
		}
		if err := s.cache.Set(ctx, key, "1", 0); err != nil {
			logging.Warn(ctx, "remember stale flag", slog.Int("issue_id", ref.Slot.IssueID), slog.Any("err", errs.Loggable(err)))
		}
	}
	s.record(ctx, ports.AuditEntry{
		Project: pc.slug(),
		IssueID: ref.Slot.IssueID,
		Kind:    ports.AuditStaleWorker,
		Reason:  fmt.Sprintf("%s:%s active for %s", role, ref.Level, age.Round(time.Second)),
	})
}

// holdsSlot re-reads the store.
func (s *Service) holdsSlot(ctx context.Context, slug string, role string, issueID int) (bool, error) {
	doc, err := s.store.Load(ctx)
	if err != nil {
		return false, err
	}
	p, ok := doc.Projects[slug]
	if !ok {
		return false, nil
	}
	_, held := p.FindIssue(role, issueID)
	return held, nil
}
