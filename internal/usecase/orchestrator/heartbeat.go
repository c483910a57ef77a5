package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"issueflow/internal/bootstrap/logging"
	"issueflow/internal/domain/slots"
	"issueflow/internal/errs"
)

type ProjectTick struct {
	Project    string
	Health     HealthReport
	Reviews    []ReviewOutcome
	Dispatched []DispatchResult
	Err        error
}

type TickReport struct {
	Skipped  bool
	Projects []ProjectTick
	Elapsed  time.Duration
}

// Errors counts projects whose sweep failed.
func (r TickReport) Errors() int {
	n := 0
	for _, p := range r.Projects {
		if p.Err != nil {
			n++
		}
	}
	return n
}

// Tick sweeps every project once: health scan, review pass, then pickup. A
// tick that starts while another is running is skipped.
func (s *Service) Tick(ctx context.Context) (TickReport, error) {
	if err := s.checkReady(ctx); err != nil {
		return TickReport{}, err
	}
	if !s.tickMu.TryLock() {
		s.recorder.ObserveTick("skipped", 0)
		logging.Warn(ctx, "previous heartbeat tick still running, skipping")
		return TickReport{Skipped: true}, nil
	}
	defer s.tickMu.Unlock()

	start := s.now()
	snapshot, err := s.store.Load(ctx)
	if err != nil {
		s.recorder.ObserveTick("error", s.now().Sub(start))
		return TickReport{}, err
	}

	report := TickReport{Projects: make([]ProjectTick, 0, len(snapshot.Projects))}
	for _, slug := range snapshot.Slugs() {
		if err := ctx.Err(); err != nil {
			break
		}
		pctx := logging.WithAttrs(ctx, slog.String("project", slug))
		report.Projects = append(report.Projects, s.tickProject(pctx, snapshot, slug))
	}
	report.Elapsed = s.now().Sub(start)

	outcome := "ok"
	if report.Errors() > 0 {
		outcome = "error"
	}
	s.recorder.ObserveTick(outcome, report.Elapsed)
	logging.Info(ctx, "heartbeat tick finished",
		slog.Int("projects", len(report.Projects)),
		slog.Int("failed", report.Errors()),
		slog.Duration("elapsed", report.Elapsed),
	)
	return report, nil
}

func (s *Service) tickProject(ctx context.Context, snapshot *slots.Document, slug string) ProjectTick {
	out := ProjectTick{Project: slug}
	pc, err := s.projectContextFor(ctx, *snapshot.Projects[slug], nil)
	if err != nil {
		out.Err = err
		logging.Error(ctx, "open project", slog.Any("err", errs.Loggable(err)))
		return out
	}
	s.bootstrapLabels(ctx, pc)

	out.Health = s.healthScan(logging.WithAttrs(ctx, slog.String("component", "orchestrator.health")), pc, snapshot)
	out.Reviews = s.reviewPass(logging.WithAttrs(ctx, slog.String("component", "orchestrator.review")), pc)
	out.Dispatched = s.fillSlots(logging.WithAttrs(ctx, slog.String("component", "orchestrator.dispatch")), pc)
	return out
}

// bootstrapLabels creates every state label once per project and process.
func (s *Service) bootstrapLabels(ctx context.Context, pc *projectContext) {
	s.bootstrapMu.Lock()
	done := s.bootstrapped[pc.slug()]
	s.bootstrapMu.Unlock()
	if done {
		return
	}

	ok := true
	for _, key := range pc.cfg.Workflow.Keys() {
		state := pc.cfg.Workflow.States[key]
		if err := pc.tracker.EnsureLabel(ctx, state.Label, state.Color); err != nil {
			ok = false
			logging.Warn(ctx, "ensure label", slog.String("label", state.Label), slog.Any("err", errs.Loggable(err)))
		}
	}
	if ok {
		s.bootstrapMu.Lock()
		s.bootstrapped[pc.slug()] = true
		s.bootstrapMu.Unlock()
	}
}

// Run ticks every interval until ctx ends. A value on wake triggers an
// extra tick, for example after the workflow files changed.
func (s *Service) Run(ctx context.Context, interval time.Duration, wake <-chan struct{}) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ctx = logging.WithAttrs(ctx, slog.String("component", "orchestrator.heartbeat"))
	logging.Info(ctx, "heartbeat started", slog.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var seq uint64
	tick := func() {
		seq++
		if _, err := s.Tick(logging.WithTick(ctx, seq)); err != nil && ctx.Err() == nil {
			logging.Error(ctx, "heartbeat tick failed", slog.Any("err", errs.Loggable(err)))
		}
	}

	tick()
	for {
		select {
		case <-ctx.Done():
			logging.Info(ctx, "heartbeat stopped")
			return nil
		case <-ticker.C:
			tick()
		case <-wake:
			tick()
		}
	}
}
