package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"issueflow/internal/bootstrap/logging"
	"issueflow/internal/domain/labels"
	"issueflow/internal/domain/workflow"
	"issueflow/internal/errs"
	"issueflow/internal/ports"
)

// move is one label change on the tracker plus its audit record.
type move struct {
	issueID   int
	fromLabel string
	toKey     string
	event     string
	kind      string
	reason    string
}

// apply swaps the state label and records the transition. Audit failures are
// logged, label failures returned.
func (s *Service) apply(ctx context.Context, pc *projectContext, m move) error {
	toLabel := pc.label(m.toKey)
	if toLabel == "" {
		return fmt.Errorf("%w: %q", workflow.ErrUnknownState, m.toKey)
	}
	if err := pc.tracker.TransitionLabel(ctx, m.issueID, m.fromLabel, toLabel); err != nil {
		return errs.Wrapf(err, "move issue #%d from %q to %q", m.issueID, m.fromLabel, toLabel)
	}

	kind := m.kind
	if kind == "" {
		kind = ports.AuditTransition
	}
	s.record(ctx, ports.AuditEntry{
		Project:   pc.slug(),
		IssueID:   m.issueID,
		Kind:      kind,
		Event:     m.event,
		FromLabel: m.fromLabel,
		ToLabel:   toLabel,
		Reason:    m.reason,
	})
	s.recorder.ObserveTransition(pc.slug(), m.event)
	logging.Info(ctx, "issue transitioned",
		slog.Int("issue_id", m.issueID),
		slog.String("event", m.event),
		slog.String("from", m.fromLabel),
		slog.String("to", toLabel),
	)
	return nil
}

// fire runs the transition of event from state key. ok is false when the
// state has no rule for event.
func (s *Service) fire(ctx context.Context, pc *projectContext, issueID int, fromKey string, fromLabel string, event workflow.Event, kind string, reason string) (workflow.Transition, bool, error) {
	tr, ok := pc.cfg.Workflow.Next(fromKey, event)
	if !ok {
		return workflow.Transition{}, false, nil
	}
	if fromLabel == "" {
		fromLabel = pc.label(fromKey)
	}
	err := s.apply(ctx, pc, move{
		issueID:   issueID,
		fromLabel: fromLabel,
		toKey:     tr.Target,
		event:     string(event),
		kind:      kind,
		reason:    reason,
	})
	return tr, true, err
}

// runMergeActions runs the actions that must succeed before a label moves.
// A failed mergePr is returned wrapping ports.ErrMergeFailed; gitPull is best
// effort.
func (s *Service) runMergeActions(ctx context.Context, pc *projectContext, issueID int, tr workflow.Transition, alreadyMerged bool) error {
	for _, action := range tr.Actions {
		switch action {
		case workflow.ActionMergePR:
			if alreadyMerged {
				logging.Debug(ctx, "pull request already merged, skipping merge", slog.Int("issue_id", issueID))
				continue
			}
			if err := pc.tracker.MergePR(ctx, issueID); err != nil {
				if errors.Is(err, ports.ErrMergeFailed) {
					return err
				}
				return fmt.Errorf("%w: %v", ports.ErrMergeFailed, err)
			}
		case workflow.ActionGitPull:
			s.pullBase(ctx, pc)
		}
	}
	return nil
}

// runIssueActions runs close/reopen after the label moved. Failures are
// logged and audited, never returned.
func (s *Service) runIssueActions(ctx context.Context, pc *projectContext, issueID int, tr workflow.Transition) []workflow.Action {
	done := make([]workflow.Action, 0, len(tr.Actions))
	for _, action := range tr.Actions {
		var err error
		switch action {
		case workflow.ActionCloseIssue:
			err = pc.tracker.CloseIssue(ctx, issueID)
		case workflow.ActionReopenIssue:
			err = pc.tracker.ReopenIssue(ctx, issueID)
		default:
			continue
		}
		if err != nil {
			s.passError(ctx, pc, issueID, errs.Wrapf(err, "run %s", action))
			continue
		}
		done = append(done, action)
	}
	return done
}

func (s *Service) pullBase(ctx context.Context, pc *projectContext) {
	if s.git == nil {
		return
	}
	dir := s.repoDir(pc.project)
	if dir == "" {
		return
	}
	pullCtx, cancel := context.WithTimeout(ctx, s.gitTimeout(pc.cfg))
	defer cancel()
	if err := s.git.Pull(pullCtx, dir, baseBranch(pc.project)); err != nil {
		logging.Warn(ctx, "git pull failed", slog.String("dir", dir), slog.Any("err", errs.Loggable(err)))
	}
}

// settle follows automatic transitions out of the state an issue just
// landed in: a tester queue state fires SKIP when the issue carries test:skip.
func (s *Service) settle(ctx context.Context, pc *projectContext, issueID int, key string, set labels.Set) string {
	state, ok := pc.cfg.Workflow.State(key)
	if !ok || state.Type != workflow.StateQueue || !set.SkipTest() {
		return key
	}
	if _, ok := pc.cfg.Workflow.Next(key, workflow.EventSkip); !ok {
		return key
	}
	tr, _, err := s.fire(ctx, pc, issueID, key, "", workflow.EventSkip, ports.AuditTransition, "test:skip")
	if err != nil {
		s.passError(ctx, pc, issueID, err)
		return key
	}
	if err := s.runMergeActions(ctx, pc, issueID, tr, false); err != nil {
		s.passError(ctx, pc, issueID, err)
	}
	s.runIssueActions(ctx, pc, issueID, tr)
	return tr.Target
}

func (s *Service) record(ctx context.Context, entry ports.AuditEntry) {
	if s.audit == nil {
		return
	}
	if entry.Actor == "" {
		entry.Actor = s.opts.Actor
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		logging.Warn(ctx, "audit record failed", slog.String("kind", entry.Kind), slog.Any("err", errs.Loggable(err)))
	}
}

// passError logs and audits a background failure without stopping the sweep.
func (s *Service) passError(ctx context.Context, pc *projectContext, issueID int, err error) {
	logging.Error(ctx, "background step failed", slog.Int("issue_id", issueID), slog.Any("err", errs.Loggable(err)))
	s.record(ctx, ports.AuditEntry{
		Project: pc.slug(),
		IssueID: issueID,
		Kind:    ports.AuditPassError,
		Reason:  err.Error(),
	})
}
