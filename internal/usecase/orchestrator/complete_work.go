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

type CompleteWorkInput struct {
	Project string
	Role    string
	Result  string
	IssueID int
	Summary string
}

type CompleteWorkResult struct {
	IssueID  int
	Event    workflow.Event
	From     string
	To       string
	Actions  []workflow.Action
	Released bool
	Chained  *DispatchResult
}

// CompleteWork is the single entry point for a worker reporting a result. It
// validates the result before touching anything, then moves the label, frees
// the slot and runs the transition side effects.
func (s *Service) CompleteWork(ctx context.Context, in CompleteWorkInput) (CompleteWorkResult, error) {
	if err := s.checkReady(ctx); err != nil {
		return CompleteWorkResult{}, err
	}
	role := strings.TrimSpace(in.Role)
	if role == "" {
		return CompleteWorkResult{}, errors.New("role is required")
	}
	if in.IssueID <= 0 {
		return CompleteWorkResult{}, errors.New("issue id is required")
	}

	pc, err := s.openProject(ctx, in.Project, nil)
	if err != nil {
		return CompleteWorkResult{}, err
	}
	ctx = logging.WithAttrs(ctx,
		slog.String("component", "orchestrator.complete"),
		slog.String("project", pc.slug()),
		slog.Int("issue_id", in.IssueID),
		slog.String("role", role),
	)

	issue, err := pc.tracker.GetIssue(ctx, in.IssueID)
	if err != nil {
		return CompleteWorkResult{}, err
	}
	set := pc.parse(issue)

	rule, err := pc.cfg.CompletionRule(role, in.Result, set.StateKey)
	if err != nil {
		return CompleteWorkResult{}, errs.WithHint(err, in.IssueID, completionHint(pc.cfg, role, err))
	}
	if err := checkInProgress(pc, set, role, in.IssueID); err != nil {
		return CompleteWorkResult{}, err
	}
	if requiresPullRequest(rule) {
		if err := s.verifyPullRequest(ctx, pc, in.IssueID); err != nil {
			return CompleteWorkResult{}, err
		}
	}

	fromLabel := set.StateLabel
	reason := strings.TrimSpace(in.Summary)
	if reason == "" {
		reason = fmt.Sprintf("%s reported %s", role, rule.Result)
	}
	out := CompleteWorkResult{IssueID: in.IssueID, Event: rule.Event, From: fromLabel}

	if err := s.runMergeActions(ctx, pc, in.IssueID, rule.Transition, false); err != nil {
		if !errors.Is(err, ports.ErrMergeFailed) {
			return CompleteWorkResult{}, err
		}
		return s.completeWithMergeFailure(ctx, pc, in.IssueID, set, rule, fromLabel, err)
	}

	if role == developerRole && rule.Event == workflow.EventComplete {
		s.routeReview(ctx, pc, in.IssueID, set)
	}
	if err := s.apply(ctx, pc, move{
		issueID:   in.IssueID,
		fromLabel: fromLabel,
		toKey:     rule.To,
		event:     string(rule.Event),
		kind:      ports.AuditCompletion,
		reason:    reason,
	}); err != nil {
		return CompleteWorkResult{}, err
	}

	out.Released = s.release(ctx, pc, role, in.IssueID)
	out.Actions = s.runIssueActions(ctx, pc, in.IssueID, rule.Transition)

	final := s.settle(ctx, pc, in.IssueID, rule.To, set)
	out.To = pc.label(final)

	s.notify(ctx, pc, set, "completion", in.IssueID,
		fmt.Sprintf("#%d %s: %s reported %s, now %s", in.IssueID, issue.Title, role, rule.Result, out.To),
		map[string]string{"role": role, "result": rule.Result, "from": fromLabel, "to": out.To})

	out.Chained = s.autoChain(ctx, pc, final)
	return out, nil
}

const developerRole = "developer"

// checkInProgress accepts a report only for an issue the role is working on:
// its label is an active state of the role and a slot holds it.
func checkInProgress(pc *projectContext, set labels.Set, role string, issueID int) error {
	if !pc.cfg.Workflow.IsActiveFor(set.StateKey, role) {
		current := set.StateLabel
		if current == "" {
			current = "no state label"
		}
		return errs.WithHint(fmt.Errorf("%w: #%d is %s", ErrNotInProgress, issueID, current), issueID,
			"report results only for issues in one of: "+strings.Join(activeLabels(pc, role), ", "))
	}
	if _, ok := pc.project.FindIssue(role, issueID); !ok {
		return errs.WithHint(fmt.Errorf("%w: %s #%d", slots.ErrIssueNotActive, role, issueID), issueID,
			"dispatch the issue with queue next before reporting a result")
	}
	return nil
}

func activeLabels(pc *projectContext, role string) []string {
	keys := pc.cfg.Workflow.ActiveStates(role)
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		out = append(out, pc.label(key))
	}
	return out
}

func requiresPullRequest(rule workflow.Rule) bool {
	if rule.Transition.HasAction(workflow.ActionDetectPR) {
		return true
	}
	return rule.Role == developerRole && rule.Result == "done"
}

// verifyPullRequest rejects a completion that has no open or merged PR, and
// re-checks mergeability when the issue was bounced for a conflict before.
func (s *Service) verifyPullRequest(ctx context.Context, pc *projectContext, issueID int) error {
	pr, err := pc.tracker.GetPRStatus(ctx, issueID)
	if err != nil {
		return errs.Wrapf(err, "get pull request status of #%d", issueID)
	}
	if !pr.Linked() || pr.State == ports.PRStateClosed {
		return errs.WithHint(fmt.Errorf("%w: #%d", ErrPRRequired, issueID), issueID,
			"create a PR first, referencing the issue in its body or branch name")
	}
	if s.audit == nil {
		return nil
	}
	bounced, err := s.audit.HasKind(ctx, pc.slug(), issueID, ports.AuditMergeConflict)
	if err != nil {
		return err
	}
	if bounced && pr.Conflicting() {
		branch := pr.SourceBranch
		if branch == "" {
			branch = "the PR branch"
		}
		return errs.WithHint(fmt.Errorf("%w: #%d", ErrMergeConflict, issueID), issueID,
			fmt.Sprintf("merge %s into %s, resolve the conflicts and push before reporting done", baseBranch(pc.project), branch))
	}
	return nil
}

// completeWithMergeFailure handles an approval whose merge failed: the issue
// takes the MERGE_FAILED edge instead of the success edge.
func (s *Service) completeWithMergeFailure(ctx context.Context, pc *projectContext, issueID int, set labels.Set, rule workflow.Rule, fromLabel string, mergeErr error) (CompleteWorkResult, error) {
	tr, ok := pc.cfg.Workflow.Next(rule.From, workflow.EventMergeFailed)
	if !ok {
		return CompleteWorkResult{}, errs.WithHint(mergeErr, issueID, "merge the pull request manually, then report again")
	}
	logging.Warn(ctx, "merge failed on completion", slog.Any("err", errs.Loggable(mergeErr)))
	if err := s.apply(ctx, pc, move{
		issueID:   issueID,
		fromLabel: fromLabel,
		toKey:     tr.Target,
		event:     string(workflow.EventMergeFailed),
		kind:      ports.AuditMergeFailed,
		reason:    mergeErr.Error(),
	}); err != nil {
		return CompleteWorkResult{}, err
	}
	out := CompleteWorkResult{
		IssueID:  issueID,
		Event:    workflow.EventMergeFailed,
		From:     fromLabel,
		To:       pc.label(tr.Target),
		Released: s.release(ctx, pc, rule.Role, issueID),
	}
	s.notify(ctx, pc, set, "merge_failed", issueID,
		fmt.Sprintf("#%d could not be merged: %v", issueID, mergeErr), nil)
	return out, nil
}

// routeReview tags the issue for human or agent review per the review
// policy. Under "auto" an existing review label is kept.
func (s *Service) routeReview(ctx context.Context, pc *projectContext, issueID int, set labels.Set) {
	var mode string
	switch pc.cfg.Workflow.ReviewPolicy {
	case workflow.ReviewHuman:
		mode = labels.ReviewHuman
	case workflow.ReviewAgent:
		mode = labels.ReviewAgent
	default:
		mode = set.ReviewMode()
		if mode == "" {
			mode = labels.ReviewHuman
		}
	}
	want := labels.Step(labels.StepReview, mode)
	stale := make([]string, 0)
	has := false
	for _, raw := range set.StepLabels(labels.StepReview) {
		if strings.EqualFold(raw, want) {
			has = true
			continue
		}
		stale = append(stale, raw)
	}
	if len(stale) > 0 {
		if err := pc.tracker.RemoveLabels(ctx, issueID, stale...); err != nil {
			logging.Warn(ctx, "remove review labels", slog.Any("err", errs.Loggable(err)))
		}
	}
	if !has {
		if err := pc.tracker.AddLabels(ctx, issueID, want); err != nil {
			logging.Warn(ctx, "add review label", slog.Any("err", errs.Loggable(err)))
		}
	}
}

// release frees the worker slot. A missing slot is logged, not an error: the
// label already moved.
func (s *Service) release(ctx context.Context, pc *projectContext, role string, issueID int) bool {
	_, err := slots.DeactivateWorker(ctx, s.store, pc.slug(), role, issueID)
	if err == nil {
		return true
	}
	if errors.Is(err, slots.ErrIssueNotActive) {
		logging.Warn(ctx, "no active slot held the issue")
	} else {
		logging.Error(ctx, "release slot", slog.Any("err", errs.Loggable(err)))
	}
	return false
}

// autoChain dispatches the role serving the queue state an issue landed in.
func (s *Service) autoChain(ctx context.Context, pc *projectContext, key string) *DispatchResult {
	if !s.opts.AutoChain {
		return nil
	}
	state, ok := pc.cfg.Workflow.State(key)
	if !ok || state.Type != workflow.StateQueue || state.Role == "" {
		return nil
	}
	res, err := s.dispatch(ctx, pc, DispatchInput{Role: state.Role})
	if err != nil {
		if !errors.Is(err, ErrNoCandidate) {
			logging.Warn(ctx, "auto-chain dispatch failed", slog.String("next_role", state.Role), slog.Any("err", errs.Loggable(err)))
		}
		return nil
	}
	return &res
}

func completionHint(cfg *workflow.Config, role string, err error) string {
	switch {
	case errors.Is(err, workflow.ErrUnknownRole):
		return "use one of the enabled roles: " + strings.Join(cfg.RoleIDs(), ", ")
	case errors.Is(err, workflow.ErrResultNotAllowed):
		rc, _ := cfg.Role(role)
		return "report one of: " + strings.Join(rc.CompletionResults, ", ")
	default:
		return "check that the issue carries an active " + role + " state label"
	}
}
