package orchestrator

import (
	"context"
	"time"

	"issueflow/internal/ports"
)

// timedTracker bounds every tracker call with the provider timeout.
type timedTracker struct {
	inner   ports.IssueTracker
	timeout time.Duration
}

func withTimeout(t ports.IssueTracker, d time.Duration) ports.IssueTracker {
	if t == nil || d <= 0 {
		return t
	}
	if already, ok := t.(*timedTracker); ok {
		return &timedTracker{inner: already.inner, timeout: d}
	}
	return &timedTracker{inner: t, timeout: d}
}

func (t *timedTracker) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, t.timeout)
}

func (t *timedTracker) CreateIssue(ctx context.Context, in ports.IssueCreate) (ports.Issue, error) {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.inner.CreateIssue(ctx, in)
}

func (t *timedTracker) ListIssuesByLabel(ctx context.Context, label string) ([]ports.Issue, error) {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.inner.ListIssuesByLabel(ctx, label)
}

func (t *timedTracker) GetIssue(ctx context.Context, id int) (ports.Issue, error) {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.inner.GetIssue(ctx, id)
}

func (t *timedTracker) TransitionLabel(ctx context.Context, id int, from string, to string) error {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.inner.TransitionLabel(ctx, id, from, to)
}

func (t *timedTracker) AddLabels(ctx context.Context, id int, labels ...string) error {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.inner.AddLabels(ctx, id, labels...)
}

func (t *timedTracker) RemoveLabels(ctx context.Context, id int, labels ...string) error {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.inner.RemoveLabels(ctx, id, labels...)
}

func (t *timedTracker) EnsureLabel(ctx context.Context, name string, color string) error {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.inner.EnsureLabel(ctx, name, color)
}

func (t *timedTracker) CloseIssue(ctx context.Context, id int) error {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.inner.CloseIssue(ctx, id)
}

func (t *timedTracker) ReopenIssue(ctx context.Context, id int) error {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.inner.ReopenIssue(ctx, id)
}

func (t *timedTracker) GetPRStatus(ctx context.Context, id int) (ports.PRStatus, error) {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.inner.GetPRStatus(ctx, id)
}

func (t *timedTracker) MergePR(ctx context.Context, id int) error {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.inner.MergePR(ctx, id)
}

func (t *timedTracker) ListReviewComments(ctx context.Context, id int) ([]ports.ReviewComment, error) {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.inner.ListReviewComments(ctx, id)
}

func (t *timedTracker) ReactToComment(ctx context.Context, id int, commentID int64, reaction string) error {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.inner.ReactToComment(ctx, id, commentID, reaction)
}

func (t *timedTracker) AddComment(ctx context.Context, id int, body string) error {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.inner.AddComment(ctx, id, body)
}

func (t *timedTracker) EditIssue(ctx context.Context, id int, in ports.IssueEdit) error {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.inner.EditIssue(ctx, id, in)
}

func (t *timedTracker) HealthCheck(ctx context.Context) error {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.inner.HealthCheck(ctx)
}
