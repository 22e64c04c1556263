package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"perceptor/internal/app"
	"perceptor/internal/framestore"
)

func newPurgeCmd(opts *options) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Remove open alert sessions without frames left behind by a crash",
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return errors.New("--older-than must be positive")
			}
			ctx := cmd.Context()

			frames, err := framestore.New(opts.cfg.Engine.AlertDir)
			if err != nil {
				return err
			}
			store, err := app.OpenStore(ctx, opts.cfg.Database, frames, opts.logger)
			if err != nil {
				return err
			}
			defer store.Close()

			cutoff := time.Now().Add(-olderThan)
			removed, err := store.PurgeStale(ctx, cutoff)
			if err != nil {
				return err
			}
			opts.logger.Info("Purged stale alert sessions", "removed", removed, "cutoff", cutoff)
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d stale alert session(s)\n", removed)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 24*time.Hour, "only purge sessions created before now minus this duration")
	return cmd
}
