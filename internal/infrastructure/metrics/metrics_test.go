package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsHandlerExposesCounters(t *testing.T) {
	m := New()
	m.Transitions.WithLabelValues("web", "APPROVED").Inc()
	m.ForcedLocks.Inc()

	if got := testutil.ToFloat64(m.Transitions.WithLabelValues("web", "APPROVED")); got != 1 {
		t.Fatalf("transitions = %v, want 1", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{"issueflow_transitions_total", "issueflow_slot_lock_forced_total 1"} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %q:\n%s", want, body)
		}
	}
}

func TestRecorderMethods(t *testing.T) {
	m := New()
	m.ObserveTransition("web", "PICKUP")
	m.ObserveTick("ok", 0)
	m.ObserveTick("skipped", 0)
	m.SetActiveSlots("web", "developer", 2)

	if got := testutil.ToFloat64(m.Ticks.WithLabelValues("skipped")); got != 1 {
		t.Fatalf("skipped ticks = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ActiveSlots.WithLabelValues("web", "developer")); got != 2 {
		t.Fatalf("active slots = %v, want 2", got)
	}
}
