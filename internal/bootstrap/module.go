package bootstrap

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"

	"go.uber.org/fx"
	"gorm.io/gorm"

	"issueflow/internal/bootstrap/config"
	"issueflow/internal/bootstrap/database"
	"issueflow/internal/bootstrap/logging"
	"issueflow/internal/domain/workflow"
	cacheinfra "issueflow/internal/infrastructure/cache"
	"issueflow/internal/infrastructure/gitops"
	"issueflow/internal/infrastructure/metrics"
	"issueflow/internal/infrastructure/notify"
	sqliterepo "issueflow/internal/infrastructure/persistence/sqlite/repository"
	sqliteuow "issueflow/internal/infrastructure/persistence/sqlite/uow"
	"issueflow/internal/infrastructure/session"
	"issueflow/internal/infrastructure/slotstore"
	"issueflow/internal/infrastructure/tracker"
	githubtracker "issueflow/internal/infrastructure/tracker/github"
	"issueflow/internal/infrastructure/workflowfile"
	"issueflow/internal/ports"
	"issueflow/internal/usecase/orchestrator"
)

var Module = fx.Options(
	fx.Provide(provideConfig),
	fx.Provide(provideDatabase),
	fx.Provide(provideApp),
	fx.Provide(metrics.New),
	fx.Provide(sqliterepo.NewTrackerRepository),
	fx.Provide(
		fx.Annotate(
			sqliterepo.NewAuditRepository,
			fx.As(new(ports.AuditLog)),
		),
	),
	fx.Provide(
		fx.Annotate(
			sqliteuow.NewUnitOfWork,
			fx.As(new(ports.UnitOfWork)),
		),
	),
	fx.Provide(
		fx.Annotate(
			cacheinfra.NewSQLiteCache,
			fx.As(new(ports.Cache)),
		),
	),
	fx.Provide(provideSlotStore),
	fx.Provide(provideWorkflowLoader),
	fx.Provide(provideTrackerFactory),
	fx.Provide(provideNotifier),
	fx.Provide(provideOrchestrator),
)

type configParams struct {
	fx.In

	Ctx        context.Context
	ConfigFile string `name:"configFile"`
}

func provideConfig(p configParams) (config.Config, error) {
	ctx := logging.WithAttrs(p.Ctx, slog.String("component", "bootstrap.fx"))
	return config.Load(ctx, p.ConfigFile)
}

func provideDatabase(lc fx.Lifecycle, ctx context.Context, cfg config.Config) (*gorm.DB, error) {
	logCtx := logging.WithAttrs(ctx, slog.String("component", "bootstrap.fx"))

	db, err := database.Open(logCtx, cfg.Database)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		},
	})

	return db, nil
}

func provideApp(cfg config.Config, db *gorm.DB) *App {
	return &App{
		Config: cfg,
		DB:     db,
	}
}

// provideSlotStore resolves the level of legacy workers from the built-in
// workflow defaults.
func provideSlotStore(cfg config.Config, m *metrics.Metrics) *slotstore.FileStore {
	defaults, err := workflow.Resolve()
	levelOf := func(role string) string {
		if err != nil {
			return ""
		}
		return defaults.Roles[role].DefaultLevel
	}
	return slotstore.New(
		cfg.State.SlotFile(),
		slotstore.LeaseOptions{
			RetryInterval: cfg.Lock.RetryInterval,
			Timeout:       cfg.Lock.Timeout,
			StaleAfter:    cfg.Lock.StaleAfter,
		},
		slotstore.WithLevelResolver(levelOf),
		slotstore.WithForcedAcquireHook(m.ForcedLocks.Inc),
	)
}

func provideWorkflowLoader(cfg config.Config) *workflowfile.Loader {
	return workflowfile.NewLoader(cfg.Workflow.SharedFile, cfg.Workflow.ProjectDir)
}

func provideTrackerFactory(cfg config.Config, store *sqliterepo.TrackerRepository, uow ports.UnitOfWork) *tracker.Factory {
	gh := cfg.Tracker.GitHub
	return tracker.NewFactory(cfg.Tracker.Provider, store, uow, githubtracker.Auth{
		Token:          gh.Token,
		AppID:          gh.AppID,
		InstallationID: gh.InstallationID,
		PrivateKeyFile: gh.PrivateKeyFile,
		BaseURL:        gh.BaseURL,
	})
}

// provideNotifier logs every notification and publishes it on NATS when a
// server is configured. Delivery runs between fx start and stop.
func provideNotifier(lc fx.Lifecycle, ctx context.Context, cfg config.Config, m *metrics.Metrics) (*notify.Queue, error) {
	logCtx := logging.WithAttrs(ctx, slog.String("component", "bootstrap.fx"))

	sinks := []ports.NotificationSink{notify.LogSink{}}
	var natsSink *notify.NATSSink
	if url := strings.TrimSpace(cfg.Notify.NATSURL); url != "" {
		sink, err := notify.DialNATS(url, cfg.Notify.SubjectPrefix, cfg.App.Name+"/"+cfg.App.Instance)
		if err != nil {
			return nil, err
		}
		natsSink = sink
		sinks = append(sinks, sink)
		logging.Info(logCtx, "nats notifications enabled", slog.String("url", url))
	}

	q := notify.NewQueue(cfg.Notify.QueueSize, cfg.Notify.Timeout, notify.Hooks{
		Queued:  m.NotificationsQueued.Inc,
		Failed:  m.NotificationsFailed.Inc,
		Dropped: m.NotificationsDrop.Inc,
	}, sinks...)

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			q.Start(ctx)
			return nil
		},
		OnStop: func(_ context.Context) error {
			q.Close()
			if natsSink != nil {
				natsSink.Close()
			}
			return nil
		},
	})
	return q, nil
}

type orchestratorParams struct {
	fx.In

	Config   config.Config
	Store    *slotstore.FileStore
	Loader   *workflowfile.Loader
	Trackers *tracker.Factory
	Audit    ports.AuditLog
	Cache    ports.Cache
	Notifier *notify.Queue
	Metrics  *metrics.Metrics
}

// sessionRuntime returns nil when no program is configured: dispatch then
// claims the slot and labels only, and workers are started by hand.
func sessionRuntime(rc config.RuntimeConfig) ports.SessionRuntime {
	if strings.TrimSpace(rc.Program) == "" {
		return nil
	}
	return &session.CommandRuntime{
		Program: rc.Program,
		Args:    rc.Args,
		LogDir:  rc.LogDir,
		WorkDir: func(project string) string {
			if rc.WorkspaceDir == "" {
				return ""
			}
			return filepath.Join(rc.WorkspaceDir, project)
		},
	}
}

func provideOrchestrator(p orchestratorParams) *orchestrator.Service {
	cfg := p.Config
	runtime := sessionRuntime(cfg.Runtime)
	return orchestrator.NewService(orchestrator.Deps{
		Store:     p.Store,
		Workflows: p.Loader,
		Trackers:  p.Trackers,
		Audit:     p.Audit,
		Cache:     p.Cache,
		Notifier:  p.Notifier,
		Runtime:   runtime,
		Git:       gitops.New(cfg.Timeouts.Git),
		Recorder:  p.Metrics,
	}, orchestrator.Options{
		Instance:         cfg.App.Instance,
		Channels:         cfg.App.Channels,
		AutoChain:        cfg.Heartbeat.AutoChain,
		StaleWorkerAfter: cfg.Heartbeat.StaleWorkerAfter,
		ProviderTimeout:  cfg.Timeouts.Provider,
		GitTimeout:       cfg.Timeouts.Git,
		WorkspaceDir:     cfg.Runtime.WorkspaceDir,
	})
}
