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

// ReviewOutcome is one transition made by the review pass.
type ReviewOutcome struct {
	IssueID int
	Event   workflow.Event
	From    string
	To      string
}

// ReviewPass reconciles every issue in a check state of the project against
// its pull request.
func (s *Service) ReviewPass(ctx context.Context, projectRef string) ([]ReviewOutcome, error) {
	if err := s.checkReady(ctx); err != nil {
		return nil, err
	}
	pc, err := s.openProject(ctx, projectRef, nil)
	if err != nil {
		return nil, err
	}
	ctx = logging.WithAttrs(ctx, slog.String("component", "orchestrator.review"), slog.String("project", pc.slug()))
	return s.reviewPass(ctx, pc), nil
}

func (s *Service) reviewPass(ctx context.Context, pc *projectContext) []ReviewOutcome {
	out := make([]ReviewOutcome, 0)
	for _, key := range pc.cfg.Workflow.CheckStates() {
		state := pc.cfg.Workflow.States[key]
		issues, err := pc.tracker.ListIssuesByLabel(ctx, state.Label)
		if err != nil {
			s.passError(ctx, pc, 0, errs.Wrapf(err, "list %q", state.Label))
			continue
		}
		for _, issue := range issues {
			set := pc.parse(issue)
			if set.StateKey != key {
				continue
			}
			issueCtx := logging.WithAttrs(ctx, slog.Int("issue_id", issue.ID))
			outcome, err := s.reviewIssue(issueCtx, pc, key, state, issue, set)
			if err != nil {
				s.passError(issueCtx, pc, issue.ID, err)
				continue
			}
			if outcome.Event != "" {
				out = append(out, outcome)
			}
		}
	}
	return out
}

// reviewIssue applies the first matching rule to one issue.
func (s *Service) reviewIssue(ctx context.Context, pc *projectContext, key string, state workflow.StateConfig, issue ports.Issue, set labels.Set) (ReviewOutcome, error) {
	if set.ReviewMode() != labels.ReviewHuman {
		return ReviewOutcome{}, nil
	}
	if !s.isManaged(ctx, pc.slug(), issue.ID) {
		return ReviewOutcome{}, nil
	}

	pr, err := pc.tracker.GetPRStatus(ctx, issue.ID)
	if err != nil {
		return ReviewOutcome{}, errs.Wrap(err, "get pull request status")
	}
	if !pr.Linked() {
		merged, err := s.mergedInHistory(ctx, pc, issue.ID)
		if err != nil {
			return ReviewOutcome{}, err
		}
		if !merged {
			return ReviewOutcome{}, nil
		}
		logging.Info(ctx, "base branch commit references the issue, treating as merged")
		pr = ports.PRStatus{State: ports.PRStateMerged}
		return s.reviewSuccess(ctx, pc, key, state, issue, set, pr)
	}

	switch {
	case pr.State == ports.PRStateChangesRequested || pr.HasUnresolvedComment:
		o, fired, err := s.reviewFire(ctx, pc, key, set, issue.ID, workflow.EventChangesRequested, ports.AuditTransition, "changes requested on "+pr.URL)
		if err != nil || !fired {
			return o, err
		}
		s.notify(ctx, pc, set, "changes_requested", issue.ID,
			fmt.Sprintf("#%d %s: changes requested, back to %s", issue.ID, issue.Title, o.To), map[string]string{"pr": pr.URL})
		s.acknowledgeComments(ctx, pc, issue.ID)
		return o, nil
	case pr.Conflicting():
		o, fired, err := s.reviewFire(ctx, pc, key, set, issue.ID, workflow.EventMergeConflict, ports.AuditMergeConflict, "merge conflict on "+pr.URL)
		if err != nil || !fired {
			return o, err
		}
		s.notify(ctx, pc, set, "merge_conflict", issue.ID,
			fmt.Sprintf("#%d %s: pull request has conflicts, back to %s", issue.ID, issue.Title, o.To), map[string]string{"pr": pr.URL})
		return o, nil
	case pr.State == ports.PRStateClosed:
		tr, ok := pc.cfg.Workflow.Next(key, workflow.EventClosed)
		if !ok {
			return ReviewOutcome{}, nil
		}
		if err := s.runMergeActions(ctx, pc, issue.ID, tr, false); err != nil {
			return ReviewOutcome{}, err
		}
		o, _, err := s.reviewFire(ctx, pc, key, set, issue.ID, workflow.EventClosed, ports.AuditTransition, "pull request closed without merge")
		if err != nil {
			return o, err
		}
		s.runIssueActions(ctx, pc, issue.ID, tr)
		s.notify(ctx, pc, set, "pr_closed", issue.ID,
			fmt.Sprintf("#%d %s: pull request closed, now %s", issue.ID, issue.Title, o.To), map[string]string{"pr": pr.URL})
		return o, nil
	default:
		return s.reviewSuccess(ctx, pc, key, state, issue, set, pr)
	}
}

func checkSatisfied(check workflow.Check, state ports.PRState) bool {
	switch check {
	case workflow.CheckPRMerged:
		return state == ports.PRStateMerged
	case workflow.CheckPRApproved:
		return state == ports.PRStateApproved || state == ports.PRStateMerged
	}
	return false
}

// reviewSuccess runs the APPROVED edge. A failed merge takes MERGE_FAILED and
// leaves the success label untouched.
func (s *Service) reviewSuccess(ctx context.Context, pc *projectContext, key string, state workflow.StateConfig, issue ports.Issue, set labels.Set, pr ports.PRStatus) (ReviewOutcome, error) {
	if !checkSatisfied(state.Check, pr.State) {
		return ReviewOutcome{}, nil
	}
	tr, ok := pc.cfg.Workflow.Next(key, workflow.EventApproved)
	if !ok {
		logging.Debug(ctx, "check satisfied but state has no APPROVED rule", slog.String("state", key))
		return ReviewOutcome{}, nil
	}

	if err := s.runMergeActions(ctx, pc, issue.ID, tr, pr.State == ports.PRStateMerged); err != nil {
		if !errors.Is(err, ports.ErrMergeFailed) {
			return ReviewOutcome{}, err
		}
		logging.Warn(ctx, "merge failed", slog.Any("err", errs.Loggable(err)))
		o, fired, ferr := s.reviewFire(ctx, pc, key, set, issue.ID, workflow.EventMergeFailed, ports.AuditMergeFailed, err.Error())
		if ferr != nil {
			return o, ferr
		}
		if fired {
			s.notify(ctx, pc, set, "merge_failed", issue.ID,
				fmt.Sprintf("#%d %s: merge failed, now %s", issue.ID, issue.Title, o.To), map[string]string{"pr": pr.URL})
		}
		return o, nil
	}

	o, _, err := s.reviewFire(ctx, pc, key, set, issue.ID, workflow.EventApproved, ports.AuditTransition, "pull request "+string(pr.State))
	if err != nil {
		return o, err
	}
	s.runIssueActions(ctx, pc, issue.ID, tr)
	final := s.settle(ctx, pc, issue.ID, tr.Target, set)
	o.To = pc.label(final)
	s.notify(ctx, pc, set, "approved", issue.ID,
		fmt.Sprintf("#%d %s: pull request %s, now %s", issue.ID, issue.Title, pr.State, o.To), map[string]string{"pr": pr.URL})
	return o, nil
}

func (s *Service) reviewFire(ctx context.Context, pc *projectContext, key string, set labels.Set, issueID int, event workflow.Event, kind string, reason string) (ReviewOutcome, bool, error) {
	tr, ok, err := s.fire(ctx, pc, issueID, key, set.StateLabel, event, kind, reason)
	if err != nil || !ok {
		return ReviewOutcome{}, ok, err
	}
	return ReviewOutcome{IssueID: issueID, Event: event, From: set.StateLabel, To: pc.label(tr.Target)}, true, nil
}

func (s *Service) mergedInHistory(ctx context.Context, pc *projectContext, issueID int) (bool, error) {
	if s.git == nil {
		return false, nil
	}
	dir := s.repoDir(pc.project)
	if dir == "" {
		return false, nil
	}
	gitCtx, cancel := context.WithTimeout(ctx, s.gitTimeout(pc.cfg))
	defer cancel()
	found, err := s.git.CommitReferencesIssue(gitCtx, dir, baseBranch(pc.project), issueID)
	if err != nil {
		return false, errs.Wrap(err, "search base branch history")
	}
	return found, nil
}

// acknowledgeComments reacts to every review comment. Best effort.
func (s *Service) acknowledgeComments(ctx context.Context, pc *projectContext, issueID int) {
	comments, err := pc.tracker.ListReviewComments(ctx, issueID)
	if err != nil {
		logging.Debug(ctx, "list review comments", slog.Any("err", errs.Loggable(err)))
		return
	}
	for _, c := range comments {
		if err := pc.tracker.ReactToComment(ctx, issueID, c.ID, reactionAcknowledged); err != nil {
			logging.Debug(ctx, "react to review comment", slog.Int64("comment_id", c.ID), slog.Any("err", errs.Loggable(err)))
		}
	}
}
