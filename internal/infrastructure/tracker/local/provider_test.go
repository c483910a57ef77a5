package local

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"issueflow/internal/infrastructure/persistence/sqlite/model"
	"issueflow/internal/infrastructure/persistence/sqlite/repository"
	sqliteuow "issueflow/internal/infrastructure/persistence/sqlite/uow"
	"issueflow/internal/ports"
)

func setupProvider(t *testing.T) *Provider {
	t.Helper()

	db, err := gorm.Open(gormsqlite.Open(filepath.Join(t.TempDir(), "tracker.sqlite")), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql db: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(model.All()...); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	return NewProvider("org/web", repository.NewTrackerRepository(db), sqliteuow.NewUnitOfWork(db))
}

func TestTransitionLabelSwapsStateLabel(t *testing.T) {
	p := setupProvider(t)
	ctx := context.Background()

	issue, err := p.CreateIssue(ctx, ports.IssueCreate{Title: "login", Labels: []string{"To Do", "bug"}})
	if err != nil {
		t.Fatalf("CreateIssue() error = %v", err)
	}
	if err := p.TransitionLabel(ctx, issue.ID, "To Do", "Doing"); err != nil {
		t.Fatalf("TransitionLabel() error = %v", err)
	}

	got, err := p.GetIssue(ctx, issue.ID)
	if err != nil {
		t.Fatalf("GetIssue() error = %v", err)
	}
	want := []string{"Doing", "bug"}
	if len(got.Labels) != len(want) || got.Labels[0] != want[0] || got.Labels[1] != want[1] {
		t.Fatalf("labels = %v, want %v", got.Labels, want)
	}

	if err := p.TransitionLabel(ctx, 999, "To Do", "Doing"); !errors.Is(err, ports.ErrIssueNotFound) {
		t.Fatalf("TransitionLabel(unknown) error = %v, want ErrIssueNotFound", err)
	}
}

func TestPRStatusURLOnlyWhenLinked(t *testing.T) {
	p := setupProvider(t)
	ctx := context.Background()

	issue, err := p.CreateIssue(ctx, ports.IssueCreate{Title: "x"})
	if err != nil {
		t.Fatalf("CreateIssue() error = %v", err)
	}

	status, err := p.GetPRStatus(ctx, issue.ID)
	if err != nil {
		t.Fatalf("GetPRStatus() error = %v", err)
	}
	if status.Linked() {
		t.Fatalf("status without pull request must have no url: %+v", status)
	}

	if _, err := p.SetPullRequest(ctx, issue.ID, PullRequestInput{State: ports.PRStateClosed}); err != nil {
		t.Fatalf("SetPullRequest() error = %v", err)
	}
	status, err = p.GetPRStatus(ctx, issue.ID)
	if err != nil {
		t.Fatalf("GetPRStatus() error = %v", err)
	}
	if !status.Linked() || status.State != ports.PRStateClosed {
		t.Fatalf("closed pull request must keep its url: %+v", status)
	}
}

func TestMergePR(t *testing.T) {
	p := setupProvider(t)
	ctx := context.Background()

	issue, err := p.CreateIssue(ctx, ports.IssueCreate{Title: "x"})
	if err != nil {
		t.Fatalf("CreateIssue() error = %v", err)
	}
	if err := p.MergePR(ctx, issue.ID); !errors.Is(err, ports.ErrMergeFailed) {
		t.Fatalf("MergePR(no pr) error = %v, want ErrMergeFailed", err)
	}

	conflict := false
	if _, err := p.SetPullRequest(ctx, issue.ID, PullRequestInput{State: ports.PRStateApproved, Mergeable: &conflict}); err != nil {
		t.Fatalf("SetPullRequest() error = %v", err)
	}
	if err := p.MergePR(ctx, issue.ID); !errors.Is(err, ports.ErrMergeFailed) {
		t.Fatalf("MergePR(conflict) error = %v, want ErrMergeFailed", err)
	}

	if _, err := p.SetPullRequest(ctx, issue.ID, PullRequestInput{State: ports.PRStateApproved}); err != nil {
		t.Fatalf("SetPullRequest() error = %v", err)
	}
	if err := p.MergePR(ctx, issue.ID); err != nil {
		t.Fatalf("MergePR() error = %v", err)
	}
	status, err := p.GetPRStatus(ctx, issue.ID)
	if err != nil || status.State != ports.PRStateMerged {
		t.Fatalf("status after merge = %+v, err %v", status, err)
	}
}
