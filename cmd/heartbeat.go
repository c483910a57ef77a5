package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"issueflow/internal/bootstrap/logging"
	"issueflow/internal/errs"
	"issueflow/internal/usecase/orchestrator"
)

var (
	heartbeatOnce     bool
	heartbeatInterval time.Duration
)

var heartbeatCmd = &cobra.Command{
	Use:   "heartbeat",
	Short: "Run the periodic health, review and pickup sweep",
}

var heartbeatRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Tick until interrupted, or once with --once",
	RunE: withApp(func(cmd *cobra.Command, svc services) error {
		ctx := cmd.Context()
		if heartbeatOnce {
			report, err := svc.Orchestrator.Tick(ctx)
			if err != nil {
				return errs.Wrap(err, "run tick")
			}
			return printTickReport(cmd, report)
		}

		wake := make(chan struct{}, 1)
		if err := watchWorkflow(ctx, svc, wake); err != nil {
			return err
		}
		return svc.Orchestrator.Run(ctx, heartbeatIntervalFor(svc), wake)
	}),
}

func heartbeatIntervalFor(svc services) time.Duration {
	if heartbeatInterval > 0 {
		return heartbeatInterval
	}
	return svc.App.Config.Heartbeat.Interval
}

// watchWorkflow wakes the heartbeat when a workflow file changes.
func watchWorkflow(ctx context.Context, svc services, wake chan<- struct{}) error {
	if !svc.App.Config.Heartbeat.Watch {
		return nil
	}
	if err := svc.Loader.Watch(ctx, 0, func() { nudge(wake) }); err != nil {
		return errs.Wrap(err, "watch workflow files")
	}
	logging.Debug(ctx, "watching workflow files",
		slog.String("shared_file", svc.Loader.SharedFile),
		slog.String("project_dir", svc.Loader.ProjectDir),
	)
	return nil
}

func nudge(wake chan<- struct{}) {
	select {
	case wake <- struct{}{}:
	default:
	}
}

func printTickReport(cmd *cobra.Command, report orchestrator.TickReport) error {
	out := cmd.OutOrStdout()
	if report.Skipped {
		_, err := fmt.Fprintln(out, "tick skipped: another tick is running")
		return errs.Wrap(err, "write tick output")
	}
	for _, p := range report.Projects {
		if p.Err != nil {
			if _, err := fmt.Fprintf(out, "%s: error: %v\n", p.Project, p.Err); err != nil {
				return errs.Wrap(err, "write tick output")
			}
			continue
		}
		if _, err := fmt.Fprintf(out, "%s: reverted=%v released=%v stale=%v reviews=%d dispatched=%d\n",
			p.Project, p.Health.Reverted, p.Health.Released, p.Health.Stale, len(p.Reviews), len(p.Dispatched)); err != nil {
			return errs.Wrap(err, "write tick output")
		}
		for _, d := range p.Dispatched {
			if _, err := fmt.Fprintf(out, "  #%d %s -> %s (%s/%s slot %d)\n", d.IssueID, d.From, d.To, d.Role, d.Level, d.Slot); err != nil {
				return errs.Wrap(err, "write tick output")
			}
		}
	}
	if _, err := fmt.Fprintf(out, "tick finished in %s with %d failed project(s)\n", report.Elapsed.Round(time.Millisecond), report.Errors()); err != nil {
		return errs.Wrap(err, "write tick output")
	}
	return nil
}

func init() {
	heartbeatRunCmd.Flags().BoolVar(&heartbeatOnce, "once", false, "Run a single tick and exit")
	heartbeatRunCmd.Flags().DurationVar(&heartbeatInterval, "interval", 0, "Tick interval (default from heartbeat.interval)")

	heartbeatCmd.AddCommand(heartbeatRunCmd)
	rootCmd.AddCommand(heartbeatCmd)
}
