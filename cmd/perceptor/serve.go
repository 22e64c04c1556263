package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"perceptor/internal/app"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd(opts *options) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve perception streams over WebSocket and the REST API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if port > 0 {
				opts.cfg.HTTP.Port = port
			}
			ctx := cmd.Context()

			application, err := app.NewApplication(ctx, opts.cfg, opts.logger)
			if err != nil {
				return fmt.Errorf("failed to create application: %w", err)
			}
			if err := application.Start(ctx); err != nil {
				stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				_ = application.Stop(stopCtx)
				return fmt.Errorf("failed to start application: %w", err)
			}

			<-ctx.Done()

			// the signal context is already cancelled; shutdown gets its own
			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return application.Stop(stopCtx)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "override the configured HTTP port")
	return cmd
}
