package orchestrator

import (
	"context"
	"testing"
	"time"

	"issueflow/internal/domain/slots"
	"issueflow/internal/ports"
)

func TestHealthScanIgnoresWorkerActivatedAfterSnapshot(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()
	id := h.createIssue(t, "racing pickup", "Doing")

	snapshot, err := h.store.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	h.activate(t, "developer", "medior", id, "To Do", time.Now())

	pc, err := h.svc.openProject(ctx, "web", nil)
	if err != nil {
		t.Fatalf("openProject() error = %v", err)
	}
	report := h.svc.healthScan(ctx, pc, snapshot)
	if len(report.Reverted) != 0 {
		t.Fatalf("Reverted = %v, want none", report.Reverted)
	}
	if !h.hasLabel(t, id, "Doing") {
		t.Fatalf("labels = %v, want Doing kept", h.labels(t, id))
	}
	if _, ok := h.slotFor(t, "developer", id); !ok {
		t.Fatalf("slot released by a false orphan repair")
	}
}

func TestHealthScanRevertsOrphanToPickupQueue(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()

	id := h.createIssue(t, "lost worker", "To Improve")
	if _, err := h.svc.Dispatch(ctx, DispatchInput{Project: "web", Role: "developer", IssueID: id}); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if _, err := slots.DeactivateWorker(ctx, h.store, "web", "developer", id); err != nil {
		t.Fatalf("DeactivateWorker() error = %v", err)
	}

	report, err := h.svc.HealthScan(ctx, "web")
	if err != nil {
		t.Fatalf("HealthScan() error = %v", err)
	}
	if len(report.Reverted) != 1 || report.Reverted[0] != id {
		t.Fatalf("Reverted = %v, want [%d]", report.Reverted, id)
	}
	if !h.hasLabel(t, id, "To Improve") || h.hasLabel(t, id, "Doing") {
		t.Fatalf("labels = %v, want To Improve", h.labels(t, id))
	}
	if !contains(h.auditKinds(t, id), ports.AuditHealthFix) {
		t.Fatalf("audit kinds = %v, want health_fix", h.auditKinds(t, id))
	}
}

func TestHealthScanRevertsOrphanWithoutHistoryToFirstQueue(t *testing.T) {
	h := newHarness(t, "")
	id := h.createIssue(t, "labelled by hand", "Doing")

	report, err := h.svc.HealthScan(context.Background(), "web")
	if err != nil {
		t.Fatalf("HealthScan() error = %v", err)
	}
	if len(report.Reverted) != 1 {
		t.Fatalf("Reverted = %v", report.Reverted)
	}
	if !h.hasLabel(t, id, "To Do") {
		t.Fatalf("labels = %v, want To Do", h.labels(t, id))
	}
}

func TestHealthScanReleasesSlotOfMovedIssue(t *testing.T) {
	h := newHarness(t, "")
	id := h.createIssue(t, "moved on", "To Test")
	h.activate(t, "developer", "medior", id, "To Do", time.Now())

	report, err := h.svc.HealthScan(context.Background(), "web")
	if err != nil {
		t.Fatalf("HealthScan() error = %v", err)
	}
	if len(report.Released) != 1 || report.Released[0] != id {
		t.Fatalf("Released = %v, want [%d]", report.Released, id)
	}
	if _, ok := h.slotFor(t, "developer", id); ok {
		t.Fatalf("slot still active")
	}
	if !h.hasLabel(t, id, "To Test") {
		t.Fatalf("labels = %v, want To Test untouched", h.labels(t, id))
	}
}

func TestHealthScanKeepsSlotWhilePickupLabelIsPending(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()
	id := h.createIssue(t, "being picked up", "To Do")
	h.activate(t, "developer", "medior", id, "To Do", time.Now())

	report, err := h.svc.HealthScan(ctx, "web")
	if err != nil {
		t.Fatalf("HealthScan() error = %v", err)
	}
	if len(report.Released) != 0 {
		t.Fatalf("Released = %v, want the fresh slot kept", report.Released)
	}
	if _, ok := h.slotFor(t, "developer", id); !ok {
		t.Fatalf("slot released before the pickup label landed")
	}

	h.svc.now = func() time.Time { return time.Now().Add(2 * pickupGrace) }
	report, err = h.svc.HealthScan(ctx, "web")
	if err != nil {
		t.Fatalf("HealthScan() error = %v", err)
	}
	if len(report.Released) != 1 || report.Released[0] != id {
		t.Fatalf("Released = %v, want [%d] once the grace has passed", report.Released, id)
	}
}

func TestHealthScanReleasesSlotOfClosedIssue(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()
	id := h.createIssue(t, "closed by hand", "Doing")
	h.activate(t, "developer", "medior", id, "To Do", time.Now())
	if err := h.tracker.CloseIssue(ctx, id); err != nil {
		t.Fatalf("CloseIssue() error = %v", err)
	}

	report, err := h.svc.HealthScan(ctx, "web")
	if err != nil {
		t.Fatalf("HealthScan() error = %v", err)
	}
	if len(report.Released) != 1 {
		t.Fatalf("Released = %v", report.Released)
	}
}

func TestHealthScanFlagsStaleWorkerOnce(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()
	id := h.createIssue(t, "slow", "Doing")
	h.activate(t, "developer", "medior", id, "To Do", time.Now().Add(-3*time.Hour))

	for i := 0; i < 2; i++ {
		report, err := h.svc.HealthScan(ctx, "web")
		if err != nil {
			t.Fatalf("HealthScan() error = %v", err)
		}
		if len(report.Stale) != 1 || report.Stale[0] != id {
			t.Fatalf("pass %d: Stale = %v, want [%d]", i, report.Stale, id)
		}
	}

	n := 0
	for _, kind := range h.auditKinds(t, id) {
		if kind == ports.AuditStaleWorker {
			n++
		}
	}
	if n != 1 {
		t.Fatalf("stale_worker audit entries = %d, want 1", n)
	}
	if _, ok := h.slotFor(t, "developer", id); !ok {
		t.Fatalf("stale worker must keep its slot")
	}
}
