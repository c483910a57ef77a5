package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"issueflow/internal/domain/slots"
	"issueflow/internal/domain/workflow"
	"issueflow/internal/infrastructure/persistence/sqlite/model"
	"issueflow/internal/infrastructure/persistence/sqlite/repository"
	sqliteuow "issueflow/internal/infrastructure/persistence/sqlite/uow"
	"issueflow/internal/infrastructure/slotstore"
	"issueflow/internal/infrastructure/tracker/local"
	"issueflow/internal/ports"
)

type testCache struct {
	mu     sync.Mutex
	data   map[string]string
	setErr error
}

func newTestCache() *testCache {
	return &testCache{data: make(map[string]string)}
}

func (c *testCache) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *testCache) Set(_ context.Context, key string, value string, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.setErr != nil {
		return c.setErr
	}
	c.data[key] = value
	return nil
}

func (c *testCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

type staticWorkflows struct {
	cfg *workflow.Config
}

func (w staticWorkflows) Load(context.Context, string) (*workflow.Config, error) {
	return w.cfg, nil
}

type fixedTracker struct {
	tracker ports.IssueTracker
}

func (f fixedTracker) TrackerFor(context.Context, slots.Project) (ports.IssueTracker, error) {
	return f.tracker, nil
}

type recordingNotifier struct {
	mu    sync.Mutex
	items []ports.Notification
}

func (n *recordingNotifier) Notify(_ context.Context, item ports.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.items = append(n.items, item)
}

func (n *recordingNotifier) kinds() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.items))
	for _, item := range n.items {
		out = append(out, item.Kind)
	}
	return out
}

type fakeRuntime struct {
	mu    sync.Mutex
	calls []ports.SessionRequest
	err   error
}

func (r *fakeRuntime) Dispatch(_ context.Context, req ports.SessionRequest) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return "", r.err
	}
	r.calls = append(r.calls, req)
	if req.SessionKey != "" {
		return req.SessionKey, nil
	}
	return fmt.Sprintf("sess-%s-%d", req.Role, req.IssueID), nil
}

type fakeGit struct {
	referenced map[int]bool
	pulls      int
}

func (g *fakeGit) Pull(context.Context, string, string) error {
	g.pulls++
	return nil
}

func (g *fakeGit) CommitReferencesIssue(_ context.Context, _ string, _ string, issueID int) (bool, error) {
	return g.referenced[issueID], nil
}

// failingMerge refuses every merge.
type failingMerge struct {
	ports.IssueTracker
}

func (failingMerge) MergePR(context.Context, int) error {
	return fmt.Errorf("%w: branch protection", ports.ErrMergeFailed)
}

type harness struct {
	svc      *Service
	tracker  *local.Provider
	trackers *repository.TrackerRepository
	store    *slotstore.FileStore
	audit    *repository.AuditRepository
	cache    *testCache
	notes    *recordingNotifier
	runtime  *fakeRuntime
	git      *fakeGit
	cfg      *workflow.Config
}

type harnessOption func(*Deps, *Options)

func withOptions(fn func(*Options)) harnessOption {
	return func(_ *Deps, o *Options) { fn(o) }
}

func withDeps(fn func(*Deps)) harnessOption {
	return func(d *Deps, _ *Options) { fn(d) }
}

func newHarness(t *testing.T, layerYAML string, opts ...harnessOption) *harness {
	t.Helper()

	db, err := gorm.Open(gormsqlite.Open(filepath.Join(t.TempDir(), "issueflow.sqlite")), &gorm.Config{})
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

	layers := make([]workflow.Layer, 0, 1)
	if layerYAML != "" {
		layer, err := workflow.ParseYAMLLayer("test", []byte(layerYAML))
		if err != nil {
			t.Fatalf("parse layer: %v", err)
		}
		layers = append(layers, layer)
	}
	cfg, err := workflow.Resolve(layers...)
	if err != nil {
		t.Fatalf("resolve workflow: %v", err)
	}

	trackers := repository.NewTrackerRepository(db)
	h := &harness{
		tracker:  local.NewProvider("org/web", trackers, sqliteuow.NewUnitOfWork(db)),
		trackers: trackers,
		store:    slotstore.New(filepath.Join(t.TempDir(), "workers.json"), slotstore.LeaseOptions{}),
		audit:    repository.NewAuditRepository(db),
		cache:    newTestCache(),
		notes:    &recordingNotifier{},
		runtime:  &fakeRuntime{},
		git:      &fakeGit{referenced: map[int]bool{}},
		cfg:      cfg,
	}

	deps := Deps{
		Store:     h.store,
		Workflows: staticWorkflows{cfg: cfg},
		Trackers:  fixedTracker{tracker: h.tracker},
		Audit:     h.audit,
		Cache:     h.cache,
		Notifier:  h.notes,
		Runtime:   h.runtime,
		Git:       h.git,
	}
	options := Options{Instance: "alpha"}
	for _, opt := range opts {
		opt(&deps, &options)
	}
	h.svc = NewService(deps, options)

	if err := h.svc.RegisterProject(context.Background(), RegisterProjectInput{
		Slug:     "web",
		Name:     "Web",
		Repo:     "org/web",
		Provider: "local",
		Channels: []slots.Channel{
			{Type: "telegram", ID: "-100A", Name: "groupA"},
			{Type: "telegram", ID: "-100B", Name: "groupB"},
		},
	}); err != nil {
		t.Fatalf("register project: %v", err)
	}
	return h
}

func (h *harness) createIssue(t *testing.T, title string, labels ...string) int {
	t.Helper()
	issue, err := h.tracker.CreateIssue(context.Background(), ports.IssueCreate{Title: title, Labels: labels})
	if err != nil {
		t.Fatalf("create issue: %v", err)
	}
	return issue.ID
}

func (h *harness) labels(t *testing.T, id int) []string {
	t.Helper()
	issue, err := h.tracker.GetIssue(context.Background(), id)
	if err != nil {
		t.Fatalf("get issue #%d: %v", id, err)
	}
	out := append([]string(nil), issue.Labels...)
	sort.Strings(out)
	return out
}

func (h *harness) hasLabel(t *testing.T, id int, label string) bool {
	t.Helper()
	for _, l := range h.labels(t, id) {
		if l == label {
			return true
		}
	}
	return false
}

func (h *harness) activate(t *testing.T, role, level string, issueID int, previous string, started time.Time) {
	t.Helper()
	if _, err := slots.ActivateWorker(context.Background(), h.store, "web", role, level, 2, slots.Activation{
		IssueID:       issueID,
		PreviousLabel: previous,
		StartedAt:     started,
	}); err != nil {
		t.Fatalf("activate slot: %v", err)
	}
}

func (h *harness) slotFor(t *testing.T, role string, issueID int) (slots.SlotRef, bool) {
	t.Helper()
	doc, err := h.store.Load(context.Background())
	if err != nil {
		t.Fatalf("load slots: %v", err)
	}
	return doc.Projects["web"].FindIssue(role, issueID)
}

func (h *harness) setPR(t *testing.T, id int, state ports.PRState, mergeable *bool) {
	t.Helper()
	if _, err := h.tracker.SetPullRequest(context.Background(), id, local.PullRequestInput{
		State:        state,
		Mergeable:    mergeable,
		SourceBranch: fmt.Sprintf("feature/%d", id),
	}); err != nil {
		t.Fatalf("set pull request: %v", err)
	}
}

func (h *harness) seen(t *testing.T, id int) {
	t.Helper()
	if err := h.svc.MarkSeen(context.Background(), "web", id); err != nil {
		t.Fatalf("mark seen: %v", err)
	}
}

func (h *harness) auditKinds(t *testing.T, id int) []string {
	t.Helper()
	entries, err := h.audit.ListForIssue(context.Background(), "web", id)
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Kind)
	}
	return out
}

func boolPtr(v bool) *bool { return &v }

func contains(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}
