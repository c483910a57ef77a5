package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"issueflow/internal/errs"
	"issueflow/internal/usecase/orchestrator"
)

var workCmd = &cobra.Command{
	Use:   "work",
	Short: "Report worker results",
}

var workFinishCmd = &cobra.Command{
	Use:   "finish",
	Short: "Complete the work on an issue with a role result",
	RunE: withApp(func(cmd *cobra.Command, svc services) error {
		project, _ := cmd.Flags().GetString("project")
		role, _ := cmd.Flags().GetString("role")
		result, _ := cmd.Flags().GetString("result")
		issueID, _ := cmd.Flags().GetInt("issue")
		summary, _ := cmd.Flags().GetString("summary")

		res, err := svc.Orchestrator.CompleteWork(cmd.Context(), orchestrator.CompleteWorkInput{
			Project: project,
			Role:    role,
			Result:  result,
			IssueID: issueID,
			Summary: summary,
		})
		if err != nil {
			return errs.Wrap(err, "complete work")
		}

		out := cmd.OutOrStdout()
		if _, err := fmt.Fprintf(out, "#%d %s: %s -> %s (slot released: %t)\n",
			res.IssueID, res.Event, res.From, res.To, res.Released); err != nil {
			return errs.Wrap(err, "write work finish output")
		}
		for _, action := range res.Actions {
			if _, err := fmt.Fprintf(out, "  action %s\n", action); err != nil {
				return errs.Wrap(err, "write work finish output")
			}
		}
		if c := res.Chained; c != nil {
			if _, err := fmt.Fprintf(out, "  chained %s/%s slot %d: %s -> %s\n", c.Role, c.Level, c.Slot, c.From, c.To); err != nil {
				return errs.Wrap(err, "write work finish output")
			}
		}
		return nil
	}),
}

func init() {
	workFinishCmd.Flags().String("project", "", "Project slug or name")
	workFinishCmd.Flags().String("role", "", "Worker role")
	workFinishCmd.Flags().String("result", "", "Completion result, e.g. done, pass, approve, blocked")
	workFinishCmd.Flags().Int("issue", 0, "Issue id")
	workFinishCmd.Flags().String("summary", "", "Short summary posted with the completion")
	for _, name := range []string{"project", "role", "result", "issue"} {
		_ = workFinishCmd.MarkFlagRequired(name)
	}

	workCmd.AddCommand(workFinishCmd)
	rootCmd.AddCommand(workCmd)
}
