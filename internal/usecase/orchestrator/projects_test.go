package orchestrator

import (
	"context"
	"testing"
	"time"

	"issueflow/internal/domain/slots"
)

func TestProjectsListsSlots(t *testing.T) {
	h := newHarness(t, "")
	id := h.createIssue(t, "busy", "Doing")
	h.activate(t, "developer", "medior", id, "To Do", time.Now())

	views, err := h.svc.Projects(context.Background())
	if err != nil {
		t.Fatalf("Projects() error = %v", err)
	}
	if len(views) != 1 || views[0].Slug != "web" || views[0].Repo != "org/web" {
		t.Fatalf("Projects() = %+v", views)
	}
	var found bool
	for _, slot := range views[0].Slots {
		if slot.Active && slot.IssueID == id && slot.Role == "developer" && slot.Level == "medior" {
			found = true
		}
	}
	if !found {
		t.Fatalf("slots = %+v, want active developer slot for #%d", views[0].Slots, id)
	}
}

func TestRegisterProjectDerivesSlugAndKeepsWorkers(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()
	id := h.createIssue(t, "busy", "Doing")
	h.activate(t, "developer", "medior", id, "To Do", time.Now())

	if err := h.svc.RegisterProject(ctx, RegisterProjectInput{
		Name:     "Mobile App",
		Repo:     "org/mobile",
		Channels: []slots.Channel{{Type: "telegram", ID: "-100C"}},
	}); err != nil {
		t.Fatalf("RegisterProject() error = %v", err)
	}
	if err := h.svc.RegisterProject(ctx, RegisterProjectInput{
		Slug:     "web",
		Name:     "Web",
		Repo:     "org/web",
		Channels: []slots.Channel{{Type: "telegram", ID: "-100A"}},
	}); err != nil {
		t.Fatalf("re-register error = %v", err)
	}

	doc, err := h.store.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if _, ok := doc.Projects["mobile-app"]; !ok {
		t.Fatalf("projects = %v, want mobile-app", doc.Slugs())
	}
	if _, ok := h.slotFor(t, "developer", id); !ok {
		t.Fatalf("re-registering dropped the active slot")
	}
}

func TestRegisterProjectRequiresChannel(t *testing.T) {
	h := newHarness(t, "")
	if err := h.svc.RegisterProject(context.Background(), RegisterProjectInput{Slug: "bare"}); err == nil {
		t.Fatalf("RegisterProject() error = nil, want channel error")
	}
}
