package tracker

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"issueflow/internal/domain/slots"
	"issueflow/internal/infrastructure/persistence/sqlite/model"
	"issueflow/internal/infrastructure/persistence/sqlite/repository"
	"issueflow/internal/infrastructure/persistence/sqlite/uow"
	githubtracker "issueflow/internal/infrastructure/tracker/github"
	"issueflow/internal/infrastructure/tracker/local"
)

func newFactory(t *testing.T, auth githubtracker.Auth) *Factory {
	t.Helper()
	db, err := gorm.Open(gormsqlite.Open(filepath.Join(t.TempDir(), "tracker.sqlite")), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(model.All()...); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	return NewFactory("", repository.NewTrackerRepository(db), uow.NewUnitOfWork(db), auth)
}

func TestFactoryDefaultsToLocalAndCaches(t *testing.T) {
	f := newFactory(t, githubtracker.Auth{})
	ctx := context.Background()
	project := slots.Project{Slug: "web", Repo: "acme/web"}

	first, err := f.TrackerFor(ctx, project)
	if err != nil {
		t.Fatalf("TrackerFor() error = %v", err)
	}
	if _, ok := first.(*local.Provider); !ok {
		t.Fatalf("tracker type = %T, want *local.Provider", first)
	}
	second, _ := f.TrackerFor(ctx, project)
	if first != second {
		t.Fatalf("tracker was not cached")
	}
}

func TestFactoryGitHubProvider(t *testing.T) {
	f := newFactory(t, githubtracker.Auth{Token: "test-token"})
	got, err := f.TrackerFor(context.Background(), slots.Project{Slug: "web", Repo: "acme/web", Provider: "GitHub"})
	if err != nil {
		t.Fatalf("TrackerFor() error = %v", err)
	}
	if _, ok := got.(*githubtracker.Provider); !ok {
		t.Fatalf("tracker type = %T, want *github.Provider", got)
	}
}

func TestFactoryRejectsUnknownProvider(t *testing.T) {
	f := newFactory(t, githubtracker.Auth{})
	_, err := f.TrackerFor(context.Background(), slots.Project{Slug: "web", Provider: "jira"})
	if !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("error = %v, want ErrUnknownProvider", err)
	}
}
