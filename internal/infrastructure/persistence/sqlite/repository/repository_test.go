package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"issueflow/internal/infrastructure/persistence/sqlite/model"
	"issueflow/internal/ports"
)

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "issueflow.sqlite")
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql db: %v", err)
	}
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	if err := db.AutoMigrate(model.All()...); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	return db
}

func TestAuditRepositoryRecordAndHasKind(t *testing.T) {
	repo := NewAuditRepository(setupDB(t))
	ctx := context.Background()

	if err := repo.Record(ctx, ports.AuditEntry{
		Project:   "web",
		IssueID:   42,
		Kind:      ports.AuditMergeConflict,
		Event:     "MERGE_CONFLICT",
		FromLabel: "To Review",
		ToLabel:   "To Improve",
		Reason:    "pr not mergeable",
	}); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if err := repo.Record(ctx, ports.AuditEntry{Project: "web", IssueID: 43, Kind: ports.AuditTransition}); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	has, err := repo.HasKind(ctx, "web", 42, ports.AuditMergeConflict)
	if err != nil || !has {
		t.Fatalf("HasKind(42) = %v, %v; want true", has, err)
	}
	has, err = repo.HasKind(ctx, "web", 43, ports.AuditMergeConflict)
	if err != nil || has {
		t.Fatalf("HasKind(43) = %v, %v; want false", has, err)
	}
	has, err = repo.HasKind(ctx, "api", 42, ports.AuditMergeConflict)
	if err != nil || has {
		t.Fatalf("HasKind(other project) = %v, %v; want false", has, err)
	}

	entries, err := repo.ListForIssue(ctx, "web", 42)
	if err != nil {
		t.Fatalf("ListForIssue() error = %v", err)
	}
	if len(entries) != 1 || entries[0].Actor != "system" || entries[0].ToLabel != "To Improve" {
		t.Fatalf("unexpected entries: %+v", entries)
	}

	if err := repo.Record(ctx, ports.AuditEntry{IssueID: 1, Kind: "x"}); err == nil {
		t.Fatalf("Record() without project should fail")
	}
}

func TestTrackerRepositoryListsNewestFirst(t *testing.T) {
	repo := NewTrackerRepository(setupDB(t))
	ctx := context.Background()

	first, err := repo.CreateIssue(ctx, "org/web", ports.IssueCreate{Title: "first", Labels: []string{"To Do"}})
	if err != nil {
		t.Fatalf("CreateIssue() error = %v", err)
	}
	second, err := repo.CreateIssue(ctx, "org/web", ports.IssueCreate{Title: "second", Labels: []string{"To Do", "bug"}})
	if err != nil {
		t.Fatalf("CreateIssue() error = %v", err)
	}
	if _, err := repo.CreateIssue(ctx, "org/api", ports.IssueCreate{Title: "other repo", Labels: []string{"To Do"}}); err != nil {
		t.Fatalf("CreateIssue() error = %v", err)
	}

	items, err := repo.ListIssuesByLabel(ctx, "org/web", "To Do")
	if err != nil {
		t.Fatalf("ListIssuesByLabel() error = %v", err)
	}
	if len(items) != 2 || items[0].ID != second.ID || items[1].ID != first.ID {
		t.Fatalf("ListIssuesByLabel() = %+v, want newest first", items)
	}

	if err := repo.SetClosed(ctx, second.ID, true); err != nil {
		t.Fatalf("SetClosed() error = %v", err)
	}
	items, err = repo.ListIssuesByLabel(ctx, "org/web", "To Do")
	if err != nil {
		t.Fatalf("ListIssuesByLabel() error = %v", err)
	}
	if len(items) != 1 || items[0].ID != first.ID {
		t.Fatalf("closed issues must not be listed: %+v", items)
	}

	if _, err := repo.GetIssue(ctx, "org/api", first.ID); !errors.Is(err, ports.ErrIssueNotFound) {
		t.Fatalf("GetIssue(wrong repo) error = %v, want ErrIssueNotFound", err)
	}
}

func TestTrackerRepositoryPullRequestUpsert(t *testing.T) {
	repo := NewTrackerRepository(setupDB(t))
	ctx := context.Background()

	if _, found, err := repo.GetPullRequest(ctx, 5); err != nil || found {
		t.Fatalf("GetPullRequest() = found %v, err %v; want none", found, err)
	}

	no := false
	if err := repo.SavePullRequest(ctx, model.PullRequest{IssueID: 5, Number: 12, URL: "local://pr/12", State: "open", Mergeable: &no}); err != nil {
		t.Fatalf("SavePullRequest() error = %v", err)
	}
	if err := repo.SavePullRequest(ctx, model.PullRequest{IssueID: 5, Number: 12, URL: "local://pr/12", State: "approved"}); err != nil {
		t.Fatalf("SavePullRequest() error = %v", err)
	}

	pr, found, err := repo.GetPullRequest(ctx, 5)
	if err != nil || !found {
		t.Fatalf("GetPullRequest() = found %v, err %v", found, err)
	}
	if pr.State != "approved" || pr.Mergeable != nil {
		t.Fatalf("pull request = %+v, want approved with unknown mergeable", pr)
	}
}

func TestTrackerRepositoryReactionsAreIdempotent(t *testing.T) {
	repo := NewTrackerRepository(setupDB(t))
	ctx := context.Background()

	c, err := repo.AddComment(ctx, 9, model.CommentKindReview, "alice", "please rename")
	if err != nil {
		t.Fatalf("AddComment() error = %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := repo.AddReaction(ctx, int64(c.CommentID), "eyes"); err != nil {
			t.Fatalf("AddReaction() error = %v", err)
		}
	}
	rows, err := repo.ListComments(ctx, 9, model.CommentKindReview)
	if err != nil {
		t.Fatalf("ListComments() error = %v", err)
	}
	if len(rows) != 1 || rows[0].Reactions != "eyes" {
		t.Fatalf("comments = %+v", rows)
	}
}
