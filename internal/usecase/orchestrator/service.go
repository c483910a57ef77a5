// Package orchestrator drives issues through the workflow: queue pickup,
// completion, review reconciliation and the heartbeat sweep.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"issueflow/internal/bootstrap/logging"
	"issueflow/internal/domain/labels"
	"issueflow/internal/domain/slots"
	"issueflow/internal/domain/workflow"
	"issueflow/internal/errs"
	"issueflow/internal/ports"
)

var (
	ErrPRRequired       = errors.New("no open or merged pull request linked to the issue")
	ErrMergeConflict    = errors.New("pull request still has merge conflicts")
	ErrNoCandidate      = errors.New("no issue ready for pickup")
	ErrIssueNotQueued   = errors.New("issue is not in a queue state of the role")
	ErrNotInProgress    = errors.New("issue is not in an active state of the role")
	ErrClaimedElsewhere = errors.New("issue is owned by another instance")
)

const (
	defaultProviderTimeout = 30 * time.Second
	defaultGitTimeout      = 30 * time.Second
	defaultActor           = "issueflow"
	reactionAcknowledged   = "eyes"
)

// Deps are the collaborators of the service. Cache, Notifier, Runtime, Git,
// Audit and Recorder are optional.
type Deps struct {
	Store     ports.SlotStore
	Workflows ports.WorkflowSource
	Trackers  ports.TrackerResolver
	Audit     ports.AuditLog
	Cache     ports.Cache
	Notifier  ports.Notifier
	Runtime   ports.SessionRuntime
	Git       ports.Git
	Recorder  ports.Recorder
}

type Options struct {
	// Instance is written into owner labels on pickup.
	Instance string
	// Channels limits pickup to issues routed to these channel ids or names.
	Channels  []string
	Actor     string
	AutoChain bool
	// StaleWorkerAfter overrides the workflow's staleWorker timeout.
	StaleWorkerAfter time.Duration
	ProviderTimeout  time.Duration
	GitTimeout       time.Duration
	// WorkspaceDir holds one checkout per project slug. Empty means the
	// project's repo field is a local path.
	WorkspaceDir string
}

type Service struct {
	store     ports.SlotStore
	workflows ports.WorkflowSource
	trackers  ports.TrackerResolver
	audit     ports.AuditLog
	cache     ports.Cache
	notifier  ports.Notifier
	runtime   ports.SessionRuntime
	git       ports.Git
	recorder  ports.Recorder
	opts      Options
	now       func() time.Time

	tickMu       sync.Mutex
	bootstrapMu  sync.Mutex
	bootstrapped map[string]bool
}

func NewService(deps Deps, opts Options) *Service {
	recorder := deps.Recorder
	if recorder == nil {
		recorder = ports.NopRecorder{}
	}
	if strings.TrimSpace(opts.Actor) == "" {
		opts.Actor = defaultActor
	}
	return &Service{
		store:        deps.Store,
		workflows:    deps.Workflows,
		trackers:     deps.Trackers,
		audit:        deps.Audit,
		cache:        deps.Cache,
		notifier:     deps.Notifier,
		runtime:      deps.Runtime,
		git:          deps.Git,
		recorder:     recorder,
		opts:         opts,
		now:          time.Now,
		bootstrapped: map[string]bool{},
	}
}

// projectContext is everything one project operation needs, resolved once.
type projectContext struct {
	project slots.Project
	cfg     *workflow.Config
	tracker ports.IssueTracker
	scope   []slots.Channel
}

func (pc *projectContext) slug() string { return pc.project.Slug }

func (pc *projectContext) label(key string) string {
	return pc.cfg.Workflow.States[key].Label
}

func (pc *projectContext) parse(issue ports.Issue) labels.Set {
	return labels.Parse(pc.cfg, issue.Labels)
}

func (s *Service) checkReady(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.store == nil {
		return errors.New("slot store is required")
	}
	if s.workflows == nil {
		return errors.New("workflow source is required")
	}
	if s.trackers == nil {
		return errors.New("tracker resolver is required")
	}
	return nil
}

// openProject resolves ref (slug or channel id) against the current slot
// document.
func (s *Service) openProject(ctx context.Context, ref string, channels []string) (*projectContext, error) {
	doc, err := s.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	p, err := doc.Resolve(ref)
	if err != nil {
		return nil, err
	}
	return s.projectContextFor(ctx, *p, channels)
}

func (s *Service) projectContextFor(ctx context.Context, p slots.Project, channels []string) (*projectContext, error) {
	cfg, err := s.workflows.Load(ctx, p.Slug)
	if err != nil {
		return nil, err
	}
	tracker, err := s.trackers.TrackerFor(ctx, p)
	if err != nil {
		return nil, err
	}
	if len(channels) == 0 {
		channels = s.opts.Channels
	}
	return &projectContext{
		project: p,
		cfg:     cfg,
		tracker: withTimeout(tracker, s.providerTimeout(cfg)),
		scope:   channelScope(p.Channels, channels),
	}, nil
}

// unmatchedScope stands for an instance filter that names none of the
// project's channels: only untagged issues stay visible.
var unmatchedScope = []slots.Channel{{Type: "-"}}

func channelScope(bound []slots.Channel, refs []string) []slots.Channel {
	if len(refs) == 0 {
		return nil
	}
	out := make([]slots.Channel, 0, len(refs))
	for _, ch := range bound {
		for _, ref := range refs {
			ref = strings.TrimSpace(ref)
			if ref != "" && (ch.ID == ref || strings.EqualFold(ch.Name, ref)) {
				out = append(out, ch)
				break
			}
		}
	}
	if len(out) == 0 {
		return unmatchedScope
	}
	return out
}

func (s *Service) providerTimeout(cfg *workflow.Config) time.Duration {
	if s.opts.ProviderTimeout > 0 {
		return s.opts.ProviderTimeout
	}
	if cfg != nil && cfg.Timeouts.Provider > 0 {
		return cfg.Timeouts.Provider
	}
	return defaultProviderTimeout
}

func (s *Service) gitTimeout(cfg *workflow.Config) time.Duration {
	if s.opts.GitTimeout > 0 {
		return s.opts.GitTimeout
	}
	if cfg != nil && cfg.Timeouts.GitPull > 0 {
		return cfg.Timeouts.GitPull
	}
	return defaultGitTimeout
}

func (s *Service) staleAfter(cfg *workflow.Config) time.Duration {
	if s.opts.StaleWorkerAfter > 0 {
		return s.opts.StaleWorkerAfter
	}
	if cfg != nil {
		return cfg.Timeouts.StaleWorker
	}
	return 0
}

func (s *Service) repoDir(p slots.Project) string {
	if s.opts.WorkspaceDir != "" {
		return filepath.Join(s.opts.WorkspaceDir, p.Slug)
	}
	return p.Repo
}

func baseBranch(p slots.Project) string {
	if strings.TrimSpace(p.BaseBranch) != "" {
		return p.BaseBranch
	}
	return "main"
}

func seenKey(slug string, issueID int) string {
	return fmt.Sprintf("seen:%s:%d", slug, issueID)
}

func (s *Service) markSeen(ctx context.Context, slug string, issueID int) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, seenKey(slug, issueID), s.now().UTC().Format(time.RFC3339), 0); err != nil {
		logging.Warn(ctx, "mark issue seen", slog.Int("issue_id", issueID), slog.Any("err", errs.Loggable(err)))
	}
}

// isManaged reports whether the issue carries the seen marker. Without a
// cache every issue counts as managed.
func (s *Service) isManaged(ctx context.Context, slug string, issueID int) bool {
	if s.cache == nil {
		return true
	}
	_, found, err := s.cache.Get(ctx, seenKey(slug, issueID))
	return err == nil && found
}

// MarkSeen records that the system manages the issue.
func (s *Service) MarkSeen(ctx context.Context, projectRef string, issueID int) error {
	if err := s.checkReady(ctx); err != nil {
		return err
	}
	doc, err := s.store.Load(ctx)
	if err != nil {
		return err
	}
	p, err := doc.Resolve(projectRef)
	if err != nil {
		return err
	}
	s.markSeen(ctx, p.Slug, issueID)
	return nil
}

func (s *Service) notify(ctx context.Context, pc *projectContext, set labels.Set, kind string, issueID int, text string, fields map[string]string) {
	if s.notifier == nil {
		return
	}
	n := ports.Notification{
		Kind:    kind,
		Project: pc.slug(),
		IssueID: issueID,
		Text:    text,
		Fields:  fields,
	}
	ch, ok := set.NotifyChannel(pc.project.Channels)
	if !ok && len(pc.project.Channels) > 0 {
		ch, ok = pc.project.Channels[0], true
	}
	if ok {
		n.ChannelType = ch.Type
		n.ChannelID = ch.ID
	}
	s.notifier.Notify(ctx, n)
}
