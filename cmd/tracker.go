package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"issueflow/internal/errs"
	"issueflow/internal/infrastructure/tracker/local"
	"issueflow/internal/ports"
)

var trackerCmd = &cobra.Command{
	Use:   "tracker",
	Short: "Operate on a project's issue tracker directly",
}

var trackerIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Create and label issues",
}

var trackerPRCmd = &cobra.Command{
	Use:   "pr",
	Short: "Record pull request state on the local tracker",
}

var trackerIssueCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an issue",
	RunE: withApp(func(cmd *cobra.Command, svc services) error {
		title, _ := cmd.Flags().GetString("title")
		labels, _ := cmd.Flags().GetStringSlice("label")
		body, err := resolveBody(cmd, false)
		if err != nil {
			return err
		}
		if strings.TrimSpace(title) == "" {
			return errors.New("title is required")
		}

		t, err := projectTracker(cmd.Context(), cmd, svc)
		if err != nil {
			return err
		}
		issue, err := t.CreateIssue(cmd.Context(), ports.IssueCreate{Title: title, Body: body, Labels: labels})
		if err != nil {
			return errs.Wrap(err, "create issue")
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "issue created: #%d %s\n", issue.ID, issue.URL)
		return errs.Wrap(err, "write tracker output")
	}),
}

var trackerIssueLabelCmd = &cobra.Command{
	Use:   "label",
	Short: "Add or remove labels on an issue",
	RunE: withApp(func(cmd *cobra.Command, svc services) error {
		issueID, _ := cmd.Flags().GetInt("issue")
		add, _ := cmd.Flags().GetStringSlice("add")
		remove, _ := cmd.Flags().GetStringSlice("remove")
		if len(add) == 0 && len(remove) == 0 {
			return errors.New("nothing to do: set --add or --remove")
		}

		t, err := projectTracker(cmd.Context(), cmd, svc)
		if err != nil {
			return err
		}
		if len(remove) > 0 {
			if err := t.RemoveLabels(cmd.Context(), issueID, remove...); err != nil {
				return errs.Wrapf(err, "remove labels from #%d", issueID)
			}
		}
		if len(add) > 0 {
			if err := t.AddLabels(cmd.Context(), issueID, add...); err != nil {
				return errs.Wrapf(err, "add labels to #%d", issueID)
			}
		}
		issue, err := t.GetIssue(cmd.Context(), issueID)
		if err != nil {
			return errs.Wrapf(err, "get issue #%d", issueID)
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "#%d labels: %s\n", issue.ID, strings.Join(issue.Labels, ", "))
		return errs.Wrap(err, "write tracker output")
	}),
}

var trackerPRSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Link a pull request to an issue or change its review state",
	RunE: withApp(func(cmd *cobra.Command, svc services) error {
		issueID, _ := cmd.Flags().GetInt("issue")
		state, _ := cmd.Flags().GetString("state")
		mergeable, _ := cmd.Flags().GetString("mergeable")
		branch, _ := cmd.Flags().GetString("branch")
		title, _ := cmd.Flags().GetString("title")

		prState, err := parsePRState(state)
		if err != nil {
			return err
		}
		in := local.PullRequestInput{State: prState, SourceBranch: branch, Title: title}
		if strings.TrimSpace(mergeable) != "" {
			v, err := strconv.ParseBool(mergeable)
			if err != nil {
				return fmt.Errorf("invalid --mergeable %q: %w", mergeable, err)
			}
			in.Mergeable = &v
		}

		p, err := localTracker(cmd.Context(), cmd, svc)
		if err != nil {
			return err
		}
		status, err := p.SetPullRequest(cmd.Context(), issueID, in)
		if err != nil {
			return errs.Wrapf(err, "set pull request of #%d", issueID)
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "#%d pull request %s: %s\n", issueID, status.URL, status.State)
		return errs.Wrap(err, "write tracker output")
	}),
}

var trackerPRCommentCmd = &cobra.Command{
	Use:   "comment",
	Short: "Add a review comment to the linked pull request",
	RunE: withApp(func(cmd *cobra.Command, svc services) error {
		issueID, _ := cmd.Flags().GetInt("issue")
		author, _ := cmd.Flags().GetString("author")
		body, err := resolveBody(cmd, true)
		if err != nil {
			return err
		}

		p, err := localTracker(cmd.Context(), cmd, svc)
		if err != nil {
			return err
		}
		commentID, err := p.AddReviewComment(cmd.Context(), issueID, author, body)
		if err != nil {
			return errs.Wrapf(err, "add review comment to #%d", issueID)
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "#%d review comment %d added\n", issueID, commentID)
		return errs.Wrap(err, "write tracker output")
	}),
}

func projectTracker(ctx context.Context, cmd *cobra.Command, svc services) (ports.IssueTracker, error) {
	ref, _ := cmd.Flags().GetString("project")
	doc, err := svc.Store.Load(ctx)
	if err != nil {
		return nil, errs.Wrap(err, "load slot file")
	}
	project, err := doc.Resolve(ref)
	if err != nil {
		return nil, err
	}
	t, err := svc.Trackers.TrackerFor(ctx, *project)
	if err != nil {
		return nil, errs.Wrapf(err, "open tracker for %s", project.Slug)
	}
	return t, nil
}

func localTracker(ctx context.Context, cmd *cobra.Command, svc services) (*local.Provider, error) {
	t, err := projectTracker(ctx, cmd, svc)
	if err != nil {
		return nil, err
	}
	p, ok := t.(*local.Provider)
	if !ok {
		return nil, errors.New("pull requests can only be recorded on the local tracker")
	}
	return p, nil
}

func parsePRState(raw string) (ports.PRState, error) {
	switch state := ports.PRState(strings.ToLower(strings.TrimSpace(raw))); state {
	case "":
		return ports.PRStateOpen, nil
	case ports.PRStateOpen, ports.PRStateApproved, ports.PRStateChangesRequested, ports.PRStateMerged, ports.PRStateClosed:
		return state, nil
	default:
		return "", fmt.Errorf("unknown pull request state %q", raw)
	}
}

func resolveBody(cmd *cobra.Command, required bool) (string, error) {
	inlineBody, _ := cmd.Flags().GetString("body")
	bodyFile, _ := cmd.Flags().GetString("body-file")

	if strings.TrimSpace(inlineBody) != "" && strings.TrimSpace(bodyFile) != "" {
		return "", errors.New("body and body-file are mutually exclusive")
	}
	if strings.TrimSpace(bodyFile) != "" {
		raw, err := os.ReadFile(bodyFile)
		if err != nil {
			return "", errs.Wrapf(err, "read body file %q", bodyFile)
		}
		inlineBody = string(raw)
	}
	if required && strings.TrimSpace(inlineBody) == "" {
		return "", errors.New("body is required (set --body or --body-file)")
	}
	return inlineBody, nil
}

func init() {
	trackerCmd.PersistentFlags().String("project", "", "Project slug or name")
	_ = trackerCmd.MarkPersistentFlagRequired("project")

	trackerIssueCreateCmd.Flags().String("title", "", "Issue title")
	trackerIssueCreateCmd.Flags().String("body", "", "Issue body")
	trackerIssueCreateCmd.Flags().String("body-file", "", "Read the issue body from a file")
	trackerIssueCreateCmd.Flags().StringSlice("label", nil, "Label to set, repeatable")

	trackerIssueLabelCmd.Flags().Int("issue", 0, "Issue id")
	trackerIssueLabelCmd.Flags().StringSlice("add", nil, "Labels to add")
	trackerIssueLabelCmd.Flags().StringSlice("remove", nil, "Labels to remove")
	_ = trackerIssueLabelCmd.MarkFlagRequired("issue")

	trackerPRSetCmd.Flags().Int("issue", 0, "Issue id")
	trackerPRSetCmd.Flags().String("state", "open", "open|approved|changes_requested|merged|closed")
	trackerPRSetCmd.Flags().String("mergeable", "", "true or false; empty leaves it unknown")
	trackerPRSetCmd.Flags().String("branch", "", "Source branch")
	trackerPRSetCmd.Flags().String("title", "", "Pull request title")
	_ = trackerPRSetCmd.MarkFlagRequired("issue")

	trackerPRCommentCmd.Flags().Int("issue", 0, "Issue id")
	trackerPRCommentCmd.Flags().String("author", "reviewer", "Comment author")
	trackerPRCommentCmd.Flags().String("body", "", "Comment body")
	trackerPRCommentCmd.Flags().String("body-file", "", "Read the comment body from a file")
	_ = trackerPRCommentCmd.MarkFlagRequired("issue")

	trackerIssueCmd.AddCommand(trackerIssueCreateCmd, trackerIssueLabelCmd)
	trackerPRCmd.AddCommand(trackerPRSetCmd, trackerPRCommentCmd)
	trackerCmd.AddCommand(trackerIssueCmd, trackerPRCmd)
	rootCmd.AddCommand(trackerCmd)
}
