package uow

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"issueflow/internal/infrastructure/persistence/sqlite/model"
	"issueflow/internal/infrastructure/persistence/sqlite/repository"
	"issueflow/internal/ports"
)

var errAbort = errors.New("abort")

func setup(t *testing.T) (*UnitOfWork, *repository.TrackerRepository) {
	t.Helper()

	db, err := gorm.Open(gormsqlite.Open(filepath.Join(t.TempDir(), "uow.sqlite")), &gorm.Config{})
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
	return NewUnitOfWork(db), repository.NewTrackerRepository(db)
}

func TestWithTxCommits(t *testing.T) {
	u, repo := setup(t)
	ctx := context.Background()

	var id int
	if err := u.WithTx(ctx, func(txCtx context.Context) error {
		issue, err := repo.CreateIssue(txCtx, "org/web", ports.IssueCreate{Title: "commit me"})
		id = issue.ID
		return err
	}); err != nil {
		t.Fatalf("WithTx() error = %v", err)
	}
	if _, err := repo.GetIssue(ctx, "org/web", id); err != nil {
		t.Fatalf("GetIssue() after commit error = %v", err)
	}
}

func TestWithTxRollsBackJoinedCalls(t *testing.T) {
	u, repo := setup(t)
	ctx := context.Background()

	var id int
	err := u.WithTx(ctx, func(outer context.Context) error {
		if err := u.WithTx(outer, func(inner context.Context) error {
			issue, err := repo.CreateIssue(inner, "org/web", ports.IssueCreate{Title: "rolled back"})
			id = issue.ID
			return err
		}); err != nil {
			return err
		}
		return errAbort
	})
	if !errors.Is(err, errAbort) {
		t.Fatalf("WithTx() error = %v, want errAbort", err)
	}
	if id == 0 {
		t.Fatalf("inner call did not run")
	}
	if _, err := repo.GetIssue(ctx, "org/web", id); err == nil {
		t.Fatalf("issue #%d survived the outer rollback", id)
	}
}
