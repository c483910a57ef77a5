package cmd

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"issueflow/internal/errs"
	"issueflow/internal/usecase/orchestrator"
)

var (
	slotsHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	slotsActiveStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	slotsIdleStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

var slotsCmd = &cobra.Command{
	Use:   "slots",
	Short: "Inspect and maintain the worker slot file",
}

var slotsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List projects and their worker slots",
	RunE: withApp(func(cmd *cobra.Command, svc services) error {
		projects, err := svc.Orchestrator.Projects(cmd.Context())
		if err != nil {
			return errs.Wrap(err, "list projects")
		}
		if len(projects) == 0 {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "no projects registered")
			return errs.Wrap(err, "write slots output")
		}
		_, err = fmt.Fprint(cmd.OutOrStdout(), renderSlots(projects))
		return errs.Wrap(err, "write slots output")
	}),
}

var slotsMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Rewrite a legacy slot file in the current format",
	RunE: withApp(func(cmd *cobra.Command, svc services) error {
		migrated, err := svc.Store.Migrate(cmd.Context())
		if err != nil {
			return errs.Wrap(err, "migrate slot file")
		}
		msg := "slot file already current: %s\n"
		if migrated {
			msg = "slot file migrated: %s\n"
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), msg, svc.Store.Path())
		return errs.Wrap(err, "write slots output")
	}),
}

func renderSlots(projects []orchestrator.ProjectView) string {
	var b strings.Builder
	for _, p := range projects {
		provider := p.Provider
		if provider == "" {
			provider = "default"
		}
		b.WriteString(slotsHeaderStyle.Render(fmt.Sprintf("%s (%s)", p.Slug, p.Name)))
		b.WriteString(fmt.Sprintf("  repo=%s provider=%s\n", p.Repo, provider))
		if len(p.Slots) == 0 {
			b.WriteString(slotsIdleStyle.Render("  no slots yet"))
			b.WriteString("\n")
			continue
		}
		for _, s := range p.Slots {
			line := fmt.Sprintf("  %-10s %-8s #%-2d idle", s.Role, s.Level, s.Index)
			style := slotsIdleStyle
			if s.Active {
				line = fmt.Sprintf("  %-10s %-8s #%-2d issue #%d since %s", s.Role, s.Level, s.Index, s.IssueID, s.Started)
				style = slotsActiveStyle
			}
			b.WriteString(style.Render(line))
			b.WriteString("\n")
		}
	}
	return b.String()
}

func init() {
	slotsCmd.AddCommand(slotsListCmd, slotsMigrateCmd)
	rootCmd.AddCommand(slotsCmd)
}
