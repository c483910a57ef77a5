// Package tracker picks the issue tracker backend bound to each project.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	gh "github.com/google/go-github/v68/github"

	"issueflow/internal/bootstrap/logging"
	"issueflow/internal/domain/slots"
	"issueflow/internal/infrastructure/persistence/sqlite/repository"
	githubtracker "issueflow/internal/infrastructure/tracker/github"
	"issueflow/internal/infrastructure/tracker/local"
	"issueflow/internal/ports"
)

const (
	ProviderLocal  = "local"
	ProviderGitHub = "github"
)

var ErrUnknownProvider = errors.New("unknown tracker provider")

// Factory hands out one tracker per project, built lazily and cached.
type Factory struct {
	defaultProvider string
	store           *repository.TrackerRepository
	uow             ports.UnitOfWork
	auth            githubtracker.Auth

	mu       sync.Mutex
	client   *gh.Client
	trackers map[string]ports.IssueTracker
}

var _ ports.TrackerResolver = (*Factory)(nil)

func NewFactory(defaultProvider string, store *repository.TrackerRepository, uow ports.UnitOfWork, auth githubtracker.Auth) *Factory {
	if strings.TrimSpace(defaultProvider) == "" {
		defaultProvider = ProviderLocal
	}
	return &Factory{
		defaultProvider: defaultProvider,
		store:           store,
		uow:             uow,
		auth:            auth,
		trackers:        map[string]ports.IssueTracker{},
	}
}

// TrackerFor returns the backend named by project.Provider, falling back to
// the configured default.
func (f *Factory) TrackerFor(ctx context.Context, project slots.Project) (ports.IssueTracker, error) {
	provider := strings.ToLower(strings.TrimSpace(project.Provider))
	if provider == "" {
		provider = f.defaultProvider
	}
	repo := strings.TrimSpace(project.Repo)
	if repo == "" {
		repo = project.Slug
	}
	key := provider + "|" + repo

	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.trackers[key]; ok {
		return t, nil
	}

	var (
		t   ports.IssueTracker
		err error
	)
	switch provider {
	case ProviderLocal:
		if f.store == nil || f.uow == nil {
			return nil, errors.New("local tracker requires the application database")
		}
		t = local.NewProvider(repo, f.store, f.uow)
	case ProviderGitHub:
		if f.client == nil {
			f.client, err = githubtracker.NewClient(ctx, f.auth)
			if err != nil {
				return nil, err
			}
		}
		t, err = githubtracker.NewProvider(f.client, repo)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %q (project %s)", ErrUnknownProvider, provider, project.Slug)
	}

	f.trackers[key] = t
	logging.Debug(logging.WithAttrs(ctx, slog.String("component", "tracker.factory")),
		"tracker created", slog.String("project", project.Slug), slog.String("provider", provider), slog.String("repo", repo))
	return t, nil
}
