// Package local is a tracker backend stored in the application database. It
// backs single-machine setups and the test suite.
package local

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"issueflow/internal/errs"
	"issueflow/internal/infrastructure/persistence/sqlite/model"
	"issueflow/internal/infrastructure/persistence/sqlite/repository"
	"issueflow/internal/ports"
)

type Provider struct {
	repo  string
	store *repository.TrackerRepository
	uow   ports.UnitOfWork
}

var _ ports.IssueTracker = (*Provider)(nil)

func NewProvider(repo string, store *repository.TrackerRepository, uow ports.UnitOfWork) *Provider {
	return &Provider{repo: repo, store: store, uow: uow}
}

func (p *Provider) CreateIssue(ctx context.Context, in ports.IssueCreate) (ports.Issue, error) {
	if strings.TrimSpace(in.Title) == "" {
		return ports.Issue{}, errors.New("issue title is required")
	}
	var out ports.Issue
	err := p.uow.WithTx(ctx, func(txCtx context.Context) error {
		issue, err := p.store.CreateIssue(txCtx, p.repo, in)
		out = issue
		return err
	})
	return out, err
}

func (p *Provider) ListIssuesByLabel(ctx context.Context, label string) ([]ports.Issue, error) {
	return p.store.ListIssuesByLabel(ctx, p.repo, label)
}

func (p *Provider) GetIssue(ctx context.Context, id int) (ports.Issue, error) {
	return p.store.GetIssue(ctx, p.repo, id)
}

// TransitionLabel swaps the state label inside one transaction.
func (p *Provider) TransitionLabel(ctx context.Context, id int, from string, to string) error {
	return p.uow.WithTx(ctx, func(txCtx context.Context) error {
		if _, err := p.store.GetIssue(txCtx, p.repo, id); err != nil {
			return err
		}
		if from != "" && from != to {
			if err := p.store.RemoveLabels(txCtx, id, from); err != nil {
				return err
			}
		}
		return p.store.AddLabels(txCtx, id, to)
	})
}

func (p *Provider) AddLabels(ctx context.Context, id int, labels ...string) error {
	return p.uow.WithTx(ctx, func(txCtx context.Context) error {
		if _, err := p.store.GetIssue(txCtx, p.repo, id); err != nil {
			return err
		}
		return p.store.AddLabels(txCtx, id, labels...)
	})
}

func (p *Provider) RemoveLabels(ctx context.Context, id int, labels ...string) error {
	return p.store.RemoveLabels(ctx, id, labels...)
}

func (p *Provider) EnsureLabel(ctx context.Context, name string, color string) error {
	return p.store.UpsertLabel(ctx, p.repo, name, color)
}

func (p *Provider) CloseIssue(ctx context.Context, id int) error {
	if _, err := p.store.GetIssue(ctx, p.repo, id); err != nil {
		return err
	}
	return p.store.SetClosed(ctx, id, true)
}

func (p *Provider) ReopenIssue(ctx context.Context, id int) error {
	if _, err := p.store.GetIssue(ctx, p.repo, id); err != nil {
		return err
	}
	return p.store.SetClosed(ctx, id, false)
}

func (p *Provider) GetPRStatus(ctx context.Context, id int) (ports.PRStatus, error) {
	pr, found, err := p.store.GetPullRequest(ctx, id)
	if err != nil {
		return ports.PRStatus{}, err
	}
	if !found {
		return ports.PRStatus{}, nil
	}
	return ports.PRStatus{
		State:                ports.PRState(pr.State),
		URL:                  pr.URL,
		Number:               pr.Number,
		Mergeable:            pr.Mergeable,
		SourceBranch:         pr.SourceBranch,
		Title:                pr.Title,
		HasUnresolvedComment: pr.UnresolvedComments,
	}, nil
}

// MergePR marks the linked pull request merged. Conflicting or closed pull
// requests cannot be merged.
func (p *Provider) MergePR(ctx context.Context, id int) error {
	return p.uow.WithTx(ctx, func(txCtx context.Context) error {
		pr, found, err := p.store.GetPullRequest(txCtx, id)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: issue #%d has no pull request", ports.ErrMergeFailed, id)
		}
		switch ports.PRState(pr.State) {
		case ports.PRStateMerged:
			return nil
		case ports.PRStateClosed:
			return fmt.Errorf("%w: pull request %s is closed", ports.ErrMergeFailed, pr.URL)
		}
		if pr.Mergeable != nil && !*pr.Mergeable {
			return fmt.Errorf("%w: pull request %s has conflicts", ports.ErrMergeFailed, pr.URL)
		}
		pr.State = string(ports.PRStateMerged)
		return p.store.SavePullRequest(txCtx, pr)
	})
}

func (p *Provider) ListReviewComments(ctx context.Context, id int) ([]ports.ReviewComment, error) {
	rows, err := p.store.ListComments(ctx, id, model.CommentKindReview)
	if err != nil {
		return nil, err
	}
	out := make([]ports.ReviewComment, 0, len(rows))
	for _, row := range rows {
		out = append(out, ports.ReviewComment{ID: int64(row.CommentID), Author: row.Actor, Body: row.Body})
	}
	return out, nil
}

func (p *Provider) ReactToComment(ctx context.Context, _ int, commentID int64, reaction string) error {
	return p.store.AddReaction(ctx, commentID, reaction)
}

func (p *Provider) AddComment(ctx context.Context, id int, body string) error {
	if _, err := p.store.GetIssue(ctx, p.repo, id); err != nil {
		return err
	}
	_, err := p.store.AddComment(ctx, id, model.CommentKindIssue, "issueflow", body)
	return err
}

func (p *Provider) EditIssue(ctx context.Context, id int, in ports.IssueEdit) error {
	if _, err := p.store.GetIssue(ctx, p.repo, id); err != nil {
		return err
	}
	return p.store.EditIssue(ctx, id, in)
}

func (p *Provider) HealthCheck(ctx context.Context) error {
	return errs.Wrap(p.store.Ping(ctx), "local tracker health")
}

// PullRequestInput describes a pull request recorded by hand.
type PullRequestInput struct {
	State              ports.PRState
	Mergeable          *bool
	SourceBranch       string
	Title              string
	UnresolvedComments bool
}

// SetPullRequest links or updates the pull request of an issue. The local
// backend has no code host, so operators and tests record review outcomes here.
func (p *Provider) SetPullRequest(ctx context.Context, id int, in PullRequestInput) (ports.PRStatus, error) {
	if _, err := p.store.GetIssue(ctx, p.repo, id); err != nil {
		return ports.PRStatus{}, err
	}
	state := in.State
	if state == "" {
		state = ports.PRStateOpen
	}
	pr := model.PullRequest{
		IssueID:            uint64(id),
		Number:             id,
		URL:                fmt.Sprintf("local://%s/pulls/%d", p.repo, id),
		State:              string(state),
		Mergeable:          in.Mergeable,
		SourceBranch:       in.SourceBranch,
		Title:              in.Title,
		UnresolvedComments: in.UnresolvedComments,
	}
	if err := p.store.SavePullRequest(ctx, pr); err != nil {
		return ports.PRStatus{}, err
	}
	return p.GetPRStatus(ctx, id)
}

// AddReviewComment records a review comment on the linked pull request.
func (p *Provider) AddReviewComment(ctx context.Context, id int, author string, body string) (int64, error) {
	row, err := p.store.AddComment(ctx, id, model.CommentKindReview, author, body)
	if err != nil {
		return 0, err
	}
	return int64(row.CommentID), nil
}
