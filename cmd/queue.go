package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"issueflow/internal/errs"
	"issueflow/internal/usecase/orchestrator"
)

var queueNextFlags struct {
	project  string
	role     string
	level    string
	issue    int
	channels []string
	force    bool
	dryRun   bool
}

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Work with the pickup queues",
}

var queueNextCmd = &cobra.Command{
	Use:   "next",
	Short: "Dispatch the next queued issue for a role",
	RunE: withApp(func(cmd *cobra.Command, svc services) error {
		f := queueNextFlags
		out := cmd.OutOrStdout()

		if f.dryRun {
			candidate, ok, err := svc.Orchestrator.FindNextIssueForRole(cmd.Context(), orchestrator.FindNextInput{
				Project:  f.project,
				Role:     f.role,
				Channels: f.channels,
				Force:    f.force,
			})
			if err != nil {
				return errs.Wrap(err, "find next issue")
			}
			if !ok {
				_, err := fmt.Fprintf(out, "no %s work queued in %s\n", f.role, f.project)
				return errs.Wrap(err, "write queue output")
			}
			_, err = fmt.Fprintf(out, "next: #%d %q in %s (level %s)\n",
				candidate.Issue.ID, candidate.Issue.Title, candidate.StateKey, candidate.Level)
			return errs.Wrap(err, "write queue output")
		}

		res, err := svc.Orchestrator.Dispatch(cmd.Context(), orchestrator.DispatchInput{
			Project:  f.project,
			Role:     f.role,
			Level:    f.level,
			IssueID:  f.issue,
			Force:    f.force,
			Channels: f.channels,
		})
		if errors.Is(err, orchestrator.ErrNoCandidate) {
			_, err := fmt.Fprintf(out, "no %s work queued in %s\n", f.role, f.project)
			return errs.Wrap(err, "write queue output")
		}
		if err != nil {
			return errs.Wrap(err, "dispatch")
		}
		_, err = fmt.Fprintf(out, "dispatched #%d %q: %s -> %s, %s/%s slot %d, session %s\n",
			res.IssueID, res.Title, res.From, res.To, res.Role, res.Level, res.Slot, res.SessionKey)
		return errs.Wrap(err, "write queue output")
	}),
}

func init() {
	flags := queueNextCmd.Flags()
	flags.StringVar(&queueNextFlags.project, "project", "", "Project slug or name")
	flags.StringVar(&queueNextFlags.role, "role", "", "Worker role")
	flags.StringVar(&queueNextFlags.level, "level", "", "Override the level from the issue labels")
	flags.IntVar(&queueNextFlags.issue, "issue", 0, "Pick this queued issue instead of scanning")
	flags.StringSliceVar(&queueNextFlags.channels, "channel", nil, "Only consider issues routed to these channels")
	flags.BoolVar(&queueNextFlags.force, "force", false, "Claim issues owned by another instance")
	flags.BoolVar(&queueNextFlags.dryRun, "dry-run", false, "Show the next issue without dispatching")
	_ = queueNextCmd.MarkFlagRequired("project")
	_ = queueNextCmd.MarkFlagRequired("role")

	queueCmd.AddCommand(queueNextCmd)
	rootCmd.AddCommand(queueCmd)
}
