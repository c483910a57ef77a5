// Package httpapi serves the status surface of a running heartbeat: liveness,
// Prometheus metrics, project slots, and a GitHub webhook that wakes the
// heartbeat early.
package httpapi

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"issueflow/internal/bootstrap/logging"
	"issueflow/internal/errs"
	"issueflow/internal/usecase/orchestrator"
)

const maxWebhookBody = 1 << 20

type ProjectLister interface {
	Projects(ctx context.Context) ([]orchestrator.ProjectView, error)
}

type Options struct {
	Addr string
	// GitHubSecret verifies X-Hub-Signature-256. Empty skips verification.
	GitHubSecret string
	Metrics      http.Handler
	// Wake is called after an accepted webhook delivery. It must not block.
	Wake func()
}

type handler struct {
	projects ProjectLister
	opts     Options
}

// NewHandler builds the chi router.
func NewHandler(projects ProjectLister, opts Options) http.Handler {
	h := &handler{projects: projects, opts: opts}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.healthz)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}
	r.Get("/projects", h.listProjects)
	r.Get("/projects/{slug}", h.getProject)
	r.Post("/webhooks/github", h.githubWebhook)
	return r
}

func (h *handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *handler) listProjects(w http.ResponseWriter, r *http.Request) {
	views, err := h.projects.Projects(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *handler) getProject(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	views, err := h.projects.Projects(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	for _, v := range views {
		if v.Slug == slug {
			writeJSON(w, http.StatusOK, v)
			return
		}
	}
	writeError(w, http.StatusNotFound, "project not found")
}

type webhookResponse struct {
	Delivery string `json:"delivery"`
	Event    string `json:"event"`
	Woken    bool   `json:"woken"`
}

// githubWebhook accepts pull request and review deliveries. The payload is
// not interpreted: the next tick reads the tracker anyway.
func (h *handler) githubWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read payload")
		return
	}
	if err := validateGitHubSignature(h.opts.GitHubSecret, r.Header.Get("X-Hub-Signature-256"), payload); err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	event := strings.TrimSpace(r.Header.Get("X-GitHub-Event"))
	out := webhookResponse{
		Delivery: strings.TrimSpace(r.Header.Get("X-GitHub-Delivery")),
		Event:    event,
	}
	if wakes(event) && h.opts.Wake != nil {
		h.opts.Wake()
		out.Woken = true
	}
	logging.Debug(r.Context(), "github webhook accepted",
		slog.String("delivery", out.Delivery), slog.String("event", event), slog.Bool("woken", out.Woken))
	writeJSON(w, http.StatusAccepted, out)
}

func wakes(event string) bool {
	switch event {
	case "pull_request", "pull_request_review", "pull_request_review_comment", "issues", "push":
		return true
	}
	return false
}

func validateGitHubSignature(secret string, signatureHeader string, payload []byte) error {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil
	}

	signature := strings.TrimSpace(signatureHeader)
	if signature == "" {
		return errors.New("missing X-Hub-Signature-256")
	}
	const prefix = "sha256="
	if len(signature) <= len(prefix) || !strings.EqualFold(signature[:len(prefix)], prefix) {
		return errors.New("invalid X-Hub-Signature-256 format")
	}
	decoded, err := hex.DecodeString(strings.TrimSpace(signature[len(prefix):]))
	if err != nil {
		return errors.New("invalid X-Hub-Signature-256 digest")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	if _, err := mac.Write(payload); err != nil {
		return errs.Wrap(err, "compute github webhook signature")
	}
	if !hmac.Equal(decoded, mac.Sum(nil)) {
		return errors.New("invalid X-Hub-Signature-256")
	}
	return nil
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

// Serve listens on addr until ctx ends, then shuts down gracefully.
func Serve(ctx context.Context, addr string, h http.Handler) error {
	if strings.TrimSpace(addr) == "" {
		addr = ":9090"
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info(ctx, "status server started", slog.String("addr", addr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errs.Wrap(err, "serve status")
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return errs.Wrap(err, "shutdown status server")
		}
		logging.Info(ctx, "status server stopped")
		return nil
	}
}
