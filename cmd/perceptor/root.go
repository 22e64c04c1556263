package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"perceptor/internal/config"
	"perceptor/internal/logging"
)

// Version is the application version
const Version = "0.1.0"

// options holds state shared by every subcommand
type options struct {
	configPath string
	logLevel   string

	cfg    *config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "perceptor",
		Short:         "Real-time perception stream server",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfigWithPrecedence(opts.configPath)
			if err != nil {
				return err
			}
			if opts.logLevel != "" {
				cfg.Log.Level = opts.logLevel
				if err := cfg.Validate(); err != nil {
					return fmt.Errorf("invalid --log-level: %w", err)
				}
			}
			opts.cfg = cfg
			opts.logger = logging.New(cfg.Log, cmd.ErrOrStderr())
			slog.SetDefault(opts.logger)
			return nil
		},
	}
	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to a JSON or YAML config file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override the configured log level (debug, info, warn, error)")

	root.AddCommand(newServeCmd(opts), newMigrateCmd(opts), newPurgeCmd(opts))
	return root
}
