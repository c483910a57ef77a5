package cmd

import (
	"context"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"issueflow/internal/bootstrap"
	"issueflow/internal/bootstrap/config"
	"issueflow/internal/bootstrap/logging"
	"issueflow/internal/errs"
	"issueflow/internal/infrastructure/metrics"
	"issueflow/internal/infrastructure/slotstore"
	"issueflow/internal/infrastructure/tracker"
	"issueflow/internal/infrastructure/workflowfile"
	"issueflow/internal/usecase/orchestrator"
)

// services is everything a command can ask the container for.
type services struct {
	fx.In

	App          *bootstrap.App
	Orchestrator *orchestrator.Service
	Loader       *workflowfile.Loader
	Store        *slotstore.FileStore
	Trackers     *tracker.Factory
	Metrics      *metrics.Metrics
}

func withApp(run func(cmd *cobra.Command, svc services) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := logging.WithAttrs(
			cmd.Context(),
			slog.String("command", cmd.CommandPath()),
			slog.String("config_file", cfgFile),
		)

		var svc services
		fxApp := fx.New(
			bootstrap.Module,
			fx.NopLogger,
			fx.Provide(func() context.Context { return ctx }),
			fx.Provide(
				fx.Annotate(
					func() string { return cfgFile },
					fx.ResultTags(`name:"configFile"`),
				),
			),
			fx.Populate(&svc),
		)

		startCtx, cancelStart := context.WithTimeout(ctx, 10*time.Second)
		defer cancelStart()
		if err := fxApp.Start(startCtx); err != nil {
			logging.Error(ctx, "bootstrap application failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "start fx application")
		}

		defer func() {
			stopCtx, cancelStop := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancelStop()
			if err := fxApp.Stop(stopCtx); err != nil {
				logging.Error(ctx, "fx application stop failed", slog.Any("err", errs.Loggable(err)))
			}
		}()

		if err := run(cmd, svc); err != nil {
			return errs.Wrap(err, "run command")
		}
		return nil
	}
}

// withConfig is for commands that only read files: no database, no tracker.
func withConfig(run func(cmd *cobra.Command, cfg config.Config, loader *workflowfile.Loader) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))
		cfg, err := config.Load(ctx, cfgFile)
		if err != nil {
			return errs.Wrap(err, "load config")
		}
		return run(cmd, cfg, workflowfile.NewLoader(cfg.Workflow.SharedFile, cfg.Workflow.ProjectDir))
	}
}
