package cmd

import (
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"issueflow/internal/errs"
	"issueflow/internal/httpapi"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the heartbeat together with the status server",
	RunE: withApp(func(cmd *cobra.Command, svc services) error {
		cfg := svc.App.Config
		addr := serveAddr
		if addr == "" {
			addr = cfg.HTTP.Addr
		}

		wake := make(chan struct{}, 1)
		handler := httpapi.NewHandler(svc.Orchestrator, httpapi.Options{
			Addr:         addr,
			GitHubSecret: cfg.Tracker.GitHub.WebhookSecret,
			Metrics:      svc.Metrics.Handler(),
			Wake:         func() { nudge(wake) },
		})

		g, ctx := errgroup.WithContext(cmd.Context())
		if err := watchWorkflow(ctx, svc, wake); err != nil {
			return err
		}
		g.Go(func() error {
			return svc.Orchestrator.Run(ctx, heartbeatIntervalFor(svc), wake)
		})
		g.Go(func() error {
			return httpapi.Serve(ctx, addr, handler)
		})
		if err := g.Wait(); err != nil {
			return errs.Wrap(err, "serve")
		}
		return nil
	}),
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default from http.addr)")
	serveCmd.Flags().DurationVar(&heartbeatInterval, "interval", 0, "Tick interval (default from heartbeat.interval)")
	rootCmd.AddCommand(serveCmd)
}
