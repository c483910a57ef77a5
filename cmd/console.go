package cmd

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"issueflow/internal/errs"
	"issueflow/internal/usecase/console"
)

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Interactive slot console",
	RunE: withApp(func(cmd *cobra.Command, svc services) error {
		refreshInterval, _ := cmd.Flags().GetDuration("refresh-interval")
		if refreshInterval <= 0 {
			refreshInterval = 5 * time.Second
		}

		model := console.NewSlotModel(cmd.Context(), svc.Orchestrator, console.Options{
			Instance:        svc.App.Config.App.Instance,
			RefreshInterval: refreshInterval,
		})

		program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(cmd.Context()))
		if _, err := program.Run(); err != nil {
			return errs.Wrap(err, "run slot console")
		}
		return nil
	}),
}

func init() {
	consoleCmd.Flags().Duration("refresh-interval", 5*time.Second, "Auto refresh interval")
	rootCmd.AddCommand(consoleCmd)
}
