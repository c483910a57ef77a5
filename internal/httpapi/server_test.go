package httpapi

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"issueflow/internal/infrastructure/metrics"
	"issueflow/internal/usecase/orchestrator"
)

type stubProjects struct {
	views []orchestrator.ProjectView
	err   error
}

func (s stubProjects) Projects(context.Context) ([]orchestrator.ProjectView, error) {
	return s.views, s.err
}

func testSignature(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	resp := httptest.NewRecorder()
	NewHandler(stubProjects{}, Options{}).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), `"ok":true`) {
		t.Fatalf("body = %s", resp.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	m := metrics.New()
	m.ObserveTransition("web", "PICKUP")

	resp := httptest.NewRecorder()
	NewHandler(stubProjects{}, Options{Metrics: m.Handler()}).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), "issueflow_transitions_total") {
		t.Fatalf("metrics body lacks transitions counter:\n%s", resp.Body.String())
	}
}

func TestProjects(t *testing.T) {
	t.Parallel()

	svc := stubProjects{views: []orchestrator.ProjectView{
		{Slug: "web", Repo: "org/web", Slots: []orchestrator.SlotView{{Role: "developer", Level: "medior", Active: true, IssueID: 3}}},
		{Slug: "api", Repo: "org/api"},
	}}
	h := NewHandler(svc, Options{})

	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/projects", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.Code)
	}
	var got []orchestrator.ProjectView
	if err := json.Unmarshal(resp.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(got) != 2 || got[0].Slots[0].IssueID != 3 {
		t.Fatalf("projects = %+v", got)
	}

	resp = httptest.NewRecorder()
	h.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/projects/api", nil))
	if resp.Code != http.StatusOK || !strings.Contains(resp.Body.String(), `"org/api"`) {
		t.Fatalf("get project: status = %d body = %s", resp.Code, resp.Body.String())
	}

	resp = httptest.NewRecorder()
	h.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/projects/nope", nil))
	if resp.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.Code)
	}
}

func TestProjectsError(t *testing.T) {
	t.Parallel()

	resp := httptest.NewRecorder()
	NewHandler(stubProjects{err: errors.New("store locked")}, Options{}).
		ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/projects", nil))
	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.Code)
	}
}

func TestGitHubWebhookSignaturePassWakes(t *testing.T) {
	t.Parallel()

	payload := `{"action":"submitted","review":{"state":"approved"}}`
	secret := "local-dev-secret"
	woken := 0
	h := NewHandler(stubProjects{}, Options{GitHubSecret: secret, Wake: func() { woken++ }})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/github", strings.NewReader(payload))
	req.Header.Set("X-Hub-Signature-256", testSignature(secret, []byte(payload)))
	req.Header.Set("X-GitHub-Delivery", "delivery-42")
	req.Header.Set("X-GitHub-Event", "pull_request_review")

	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	if resp.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202; body=%s", resp.Code, resp.Body.String())
	}
	if woken != 1 {
		t.Fatalf("wake calls = %d, want 1", woken)
	}
	var got webhookResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if got.Delivery != "delivery-42" || !got.Woken {
		t.Fatalf("response = %+v", got)
	}
}

func TestGitHubWebhookIgnoredEventDoesNotWake(t *testing.T) {
	t.Parallel()

	woken := 0
	h := NewHandler(stubProjects{}, Options{Wake: func() { woken++ }})
	req := httptest.NewRequest(http.MethodPost, "/webhooks/github", strings.NewReader(`{}`))
	req.Header.Set("X-GitHub-Event", "star")

	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	if resp.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.Code)
	}
	if woken != 0 {
		t.Fatalf("wake calls = %d, want 0", woken)
	}
}

func TestGitHubWebhookSignatureRejected(t *testing.T) {
	t.Parallel()

	woken := 0
	h := NewHandler(stubProjects{}, Options{GitHubSecret: "right", Wake: func() { woken++ }})
	payload := []byte(`{"action":"opened"}`)

	for name, sig := range map[string]string{
		"missing":   "",
		"format":    "sha1=abc",
		"digest":    "sha256=zz",
		"wrong key": testSignature("wrong", payload),
	} {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/github", strings.NewReader(string(payload)))
		req.Header.Set("X-GitHub-Event", "pull_request")
		if sig != "" {
			req.Header.Set("X-Hub-Signature-256", sig)
		}
		resp := httptest.NewRecorder()
		h.ServeHTTP(resp, req)
		if resp.Code != http.StatusUnauthorized {
			t.Fatalf("%s: status = %d, want 401", name, resp.Code)
		}
	}
	if woken != 0 {
		t.Fatalf("rejected deliveries woke the heartbeat %d times", woken)
	}
}

func TestGitHubWebhookMethodNotAllowed(t *testing.T) {
	t.Parallel()

	resp := httptest.NewRecorder()
	NewHandler(stubProjects{}, Options{}).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/webhooks/github", nil))
	if resp.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", resp.Code)
	}
}
