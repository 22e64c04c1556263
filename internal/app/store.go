package app

import (
	"context"
	"fmt"
	"log/slog"

	"perceptor/internal/database"
	"perceptor/internal/framestore"
	"perceptor/internal/postgres"
	dbconfig "perceptor/pkg/database"
	"perceptor/pkg/interfaces"
)

// OpenStore opens the configured alert store with migrations applied
func OpenStore(ctx context.Context, cfg *dbconfig.Config, frames *framestore.Store, logger *slog.Logger) (interfaces.Store, error) {
	switch cfg.Driver {
	case dbconfig.DriverPostgres:
		return postgres.New(ctx, cfg, frames, logger)
	case dbconfig.DriverSQLite:
		return database.NewStore(ctx, cfg, frames, logger)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}
