package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"issueflow/internal/domain/slots"
	"issueflow/internal/errs"
	"issueflow/internal/usecase/orchestrator"
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage registered projects",
}

var projectAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register a project or update its record",
	RunE: withApp(func(cmd *cobra.Command, svc services) error {
		slug, _ := cmd.Flags().GetString("slug")
		name, _ := cmd.Flags().GetString("name")
		repo, _ := cmd.Flags().GetString("repo")
		provider, _ := cmd.Flags().GetString("provider")
		baseBranch, _ := cmd.Flags().GetString("base-branch")
		rawChannels, _ := cmd.Flags().GetStringSlice("channel")

		channels, err := parseChannels(rawChannels)
		if err != nil {
			return err
		}
		if slug == "" {
			slug = slots.Slugify(name)
		}
		if err := svc.Orchestrator.RegisterProject(cmd.Context(), orchestrator.RegisterProjectInput{
			Slug:       slug,
			Name:       name,
			Repo:       repo,
			Provider:   provider,
			BaseBranch: baseBranch,
			Channels:   channels,
		}); err != nil {
			return errs.Wrap(err, "register project")
		}

		_, err = fmt.Fprintf(cmd.OutOrStdout(), "project registered: %s\n", slug)
		return errs.Wrap(err, "write project output")
	}),
}

// parseChannels reads type:id[:name] values.
func parseChannels(raw []string) ([]slots.Channel, error) {
	out := make([]slots.Channel, 0, len(raw))
	for _, value := range raw {
		parts := strings.SplitN(strings.TrimSpace(value), ":", 3)
		if len(parts) < 2 || strings.TrimSpace(parts[0]) == "" || strings.TrimSpace(parts[1]) == "" {
			return nil, fmt.Errorf("invalid channel %q, expected type:id[:name]", value)
		}
		ch := slots.Channel{Type: strings.TrimSpace(parts[0]), ID: strings.TrimSpace(parts[1])}
		if len(parts) == 3 {
			ch.Name = strings.TrimSpace(parts[2])
		}
		out = append(out, ch)
	}
	return out, nil
}

func init() {
	projectAddCmd.Flags().String("slug", "", "Project slug (default: derived from --name)")
	projectAddCmd.Flags().String("name", "", "Display name")
	projectAddCmd.Flags().String("repo", "", "owner/repo for github, any key for local")
	projectAddCmd.Flags().String("provider", "", "Tracker provider: local|github (default from tracker.provider)")
	projectAddCmd.Flags().String("base-branch", "", "Branch pull requests merge into")
	projectAddCmd.Flags().StringSlice("channel", nil, "Notification channel type:id[:name], repeatable")
	_ = projectAddCmd.MarkFlagRequired("channel")

	projectCmd.AddCommand(projectAddCmd)
	rootCmd.AddCommand(projectCmd)
}
