package main

import (
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	dbconfig "perceptor/pkg/database"
)

func newMigrateCmd(opts *options) *cobra.Command {
	var statusOnly bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending alert store migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			db, err := openMigrationDB(opts.cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()

			migrator, err := dbconfig.NewMigrator(db, opts.cfg.Database.Driver)
			if err != nil {
				return err
			}

			if !statusOnly {
				applied, err := migrator.Up(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s)\n", applied)
			}

			version, err := migrator.Version(ctx)
			if err != nil {
				return fmt.Errorf("failed to read schema version: %w", err)
			}
			pending, err := migrator.Pending(ctx)
			if err != nil {
				return fmt.Errorf("failed to check pending migrations: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (pending: %t)\n", version, pending)
			return nil
		},
	}
	cmd.Flags().BoolVar(&statusOnly, "status", false, "report the schema version without migrating")
	return cmd
}

func openMigrationDB(cfg *dbconfig.Config) (*sql.DB, error) {
	switch cfg.Driver {
	case dbconfig.DriverSQLite:
		return dbconfig.OpenSQLite(cfg)
	case dbconfig.DriverPostgres:
		db, err := sql.Open("pgx", cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}
