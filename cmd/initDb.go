/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"issueflow/internal/bootstrap/logging"
	"issueflow/internal/errs"
)

// initDbCmd creates the tracker, audit and cache tables.
var initDbCmd = &cobra.Command{
	Use:   "init-db",
	Short: "Initialize database schema",
	RunE: withApp(func(cmd *cobra.Command, svc services) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))
		logging.Info(ctx, "start init-db")

		report, err := svc.App.InitSchema(ctx)
		if err != nil {
			logging.Error(ctx, "initialize schema failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "initialize schema")
		}

		logging.Info(ctx, "init-db finished", slog.String("database_dsn", svc.App.Config.Database.DSN))
		out := cmd.OutOrStdout()
		if _, err := fmt.Fprintf(out, "database schema initialized: %s\n", svc.App.Config.Database.DSN); err != nil {
			return errs.Wrap(err, "write init-db output")
		}
		if len(report.Created) > 0 {
			if _, err := fmt.Fprintf(out, "created tables: %s\n", strings.Join(report.Created, ", ")); err != nil {
				return errs.Wrap(err, "write init-db output")
			}
		}
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(initDbCmd)
}
