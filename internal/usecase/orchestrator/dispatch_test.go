package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"issueflow/internal/bootstrap/logging"
	"issueflow/internal/domain/slots"
	"issueflow/internal/ports"
)

func TestDispatchClaimsSlotAndStartsSession(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()
	id := h.createIssue(t, "add login", "To Do", "developer:senior")

	res, err := h.svc.Dispatch(ctx, DispatchInput{Project: "web", Role: "developer"})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if res.IssueID != id || res.Level != "senior" || res.To != "Doing" {
		t.Fatalf("Dispatch() = %+v", res)
	}

	for _, want := range []string{"Doing", "owner:alpha", "developer:senior"} {
		if !h.hasLabel(t, id, want) {
			t.Fatalf("labels = %v, missing %q", h.labels(t, id), want)
		}
	}
	if h.hasLabel(t, id, "To Do") {
		t.Fatalf("queue label must be removed, labels = %v", h.labels(t, id))
	}

	ref, ok := h.slotFor(t, "developer", id)
	if !ok {
		t.Fatalf("no active slot for #%d", id)
	}
	if ref.Level != "senior" || ref.Slot.PreviousLabel != "To Do" {
		t.Fatalf("slot = %+v", ref)
	}
	if ref.Slot.SessionKey != res.SessionKey {
		t.Fatalf("slot session = %q, want %q", ref.Slot.SessionKey, res.SessionKey)
	}

	if len(h.runtime.calls) != 1 {
		t.Fatalf("runtime calls = %d, want 1", len(h.runtime.calls))
	}
	call := h.runtime.calls[0]
	if call.Model != h.cfg.Roles["developer"].Models["senior"] || call.IssueID != id {
		t.Fatalf("session request = %+v", call)
	}
	if !h.svc.isManaged(ctx, "web", id) {
		t.Fatalf("dispatch must set the seen marker")
	}
	if !contains(h.auditKinds(t, id), ports.AuditPickup) {
		t.Fatalf("audit kinds = %v, want pickup", h.auditKinds(t, id))
	}
}

func TestDispatchReusesSessionKey(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()

	first := h.createIssue(t, "first", "To Do")
	res, err := h.svc.Dispatch(ctx, DispatchInput{Project: "web", Role: "developer"})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if _, err := slots.DeactivateWorker(ctx, h.store, "web", "developer", first); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	h.createIssue(t, "second", "To Do")
	again, err := h.svc.Dispatch(ctx, DispatchInput{Project: "web", Role: "developer"})
	if err != nil {
		t.Fatalf("second Dispatch() error = %v", err)
	}
	if again.SessionKey != res.SessionKey {
		t.Fatalf("session key = %q, want reused %q", again.SessionKey, res.SessionKey)
	}
}

func TestDispatchRollsBackWhenSessionFails(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()
	id := h.createIssue(t, "flaky", "To Do")
	h.runtime.err = errors.New("runtime offline")

	if _, err := h.svc.Dispatch(ctx, DispatchInput{Project: "web", Role: "developer"}); err == nil {
		t.Fatalf("Dispatch() error = nil, want runtime failure")
	}
	if !h.hasLabel(t, id, "To Do") || h.hasLabel(t, id, "Doing") {
		t.Fatalf("labels after rollback = %v", h.labels(t, id))
	}
	if _, ok := h.slotFor(t, "developer", id); ok {
		t.Fatalf("slot must be released after rollback")
	}
}

func TestDispatchWithoutRuntimeClaimsOnly(t *testing.T) {
	h := newHarness(t, "", withDeps(func(d *Deps) { d.Runtime = nil }))
	ctx := context.Background()
	id := h.createIssue(t, "manual worker", "To Do")

	res, err := h.svc.Dispatch(ctx, DispatchInput{Project: "web", Role: "developer"})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if res.IssueID != id || !h.hasLabel(t, id, "Doing") {
		t.Fatalf("Dispatch() = %+v, labels %v", res, h.labels(t, id))
	}
	if _, ok := h.slotFor(t, "developer", id); !ok {
		t.Fatalf("slot must stay active without a runtime")
	}
	if len(h.runtime.calls) != 0 {
		t.Fatalf("runtime called %d times", len(h.runtime.calls))
	}
}

func TestDispatchLogsCacheFailure(t *testing.T) {
	h := newHarness(t, "")
	h.cache.setErr = errors.New("cache offline")
	var buf bytes.Buffer
	ctx := logging.WithLogger(context.Background(), slog.New(slog.NewTextHandler(&buf, nil)))
	id := h.createIssue(t, "cache down", "To Do")

	if _, err := h.svc.Dispatch(ctx, DispatchInput{Project: "web", Role: "developer"}); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if !h.hasLabel(t, id, "Doing") {
		t.Fatalf("labels = %v, want Doing", h.labels(t, id))
	}
	out := buf.String()
	if !strings.Contains(out, "level=WARN") || !strings.Contains(out, "mark issue seen") || !strings.Contains(out, "cache offline") {
		t.Fatalf("log output = %q, want a warning with the cache error", out)
	}
}

func TestDispatchNoCandidate(t *testing.T) {
	h := newHarness(t, "")
	if _, err := h.svc.Dispatch(context.Background(), DispatchInput{Project: "web", Role: "developer"}); !errors.Is(err, ErrNoCandidate) {
		t.Fatalf("Dispatch() error = %v, want ErrNoCandidate", err)
	}
}

func TestDispatchForceTransfersOwnership(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()
	id := h.createIssue(t, "stolen", "To Do", "owner:beta")

	if _, err := h.svc.Dispatch(ctx, DispatchInput{Project: "web", Role: "developer", IssueID: id}); !errors.Is(err, ErrClaimedElsewhere) {
		t.Fatalf("Dispatch() error = %v, want ErrClaimedElsewhere", err)
	}
	if _, err := h.svc.Dispatch(ctx, DispatchInput{Project: "web", Role: "developer", IssueID: id, Force: true}); err != nil {
		t.Fatalf("forced Dispatch() error = %v", err)
	}
	if h.hasLabel(t, id, "owner:beta") || !h.hasLabel(t, id, "owner:alpha") {
		t.Fatalf("labels = %v, want ownership moved to alpha", h.labels(t, id))
	}
}

func TestDispatchRejectsIssueOutsideQueue(t *testing.T) {
	h := newHarness(t, "")
	id := h.createIssue(t, "planning", "Planning")

	_, err := h.svc.Dispatch(context.Background(), DispatchInput{Project: "web", Role: "developer", IssueID: id})
	if !errors.Is(err, ErrIssueNotQueued) {
		t.Fatalf("Dispatch() error = %v, want ErrIssueNotQueued", err)
	}
}

func TestDispatchRespectsSlotCeiling(t *testing.T) {
	h := newHarness(t, "roles:\n  developer:\n    maxWorkers:\n      medior: 1\n")
	ctx := context.Background()
	h.createIssue(t, "one", "To Do")
	h.createIssue(t, "two", "To Do")

	if _, err := h.svc.Dispatch(ctx, DispatchInput{Project: "web", Role: "developer"}); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if _, err := h.svc.Dispatch(ctx, DispatchInput{Project: "web", Role: "developer"}); !errors.Is(err, ErrNoCandidate) {
		t.Fatalf("second Dispatch() error = %v, want ErrNoCandidate while the only medior slot is busy", err)
	}
}
