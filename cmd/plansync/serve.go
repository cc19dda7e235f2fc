package main

import (
	"context"

	"github.com/cohenjo/plansync/pkg/config"
	"github.com/cohenjo/plansync/pkg/service"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the sync API until interrupted",
	Long: `Start the HTTP API:

  GET|POST /api/sync-event-properties[?resume=true]
  GET|POST /api/sync-tracking-plans
  GET|POST /api/sync[?resume=true]
  GET      /health
  GET      /metrics

The server stops gracefully on SIGINT, SIGTERM or SIGQUIT. Changes to
logging.level in the config file apply without a restart.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, loader, logger, closer, err := loadConfig()
		if err != nil {
			return err
		}
		defer closer.Close()

		loader.Watch(func(updated *config.Config) {
			if err := config.SetLogLevel(logger, updated.Logging.Level); err != nil {
				logger.WithError(err).Warn("Ignoring log level change")
				return
			}
			logger.WithField("level", updated.Logging.Level).Info("Log level updated")
		})

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		svc, err := service.New(ctx, service.Options{Config: cfg, Logger: logger})
		if err != nil {
			return err
		}
		if err := svc.Start(ctx); err != nil {
			_ = svc.Close()
			return err
		}

		serveErr := make(chan error, 1)
		go func() {
			select {
			case err := <-svc.Errors():
				serveErr <- err
				cancel()
			case <-ctx.Done():
			}
		}()

		if err := svc.NewShutdownHandler().Wait(ctx); err != nil {
			return err
		}
		select {
		case err := <-serveErr:
			return err
		default:
			return nil
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
