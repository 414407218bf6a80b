// Package bootstrap holds the small amount of wiring shared by the
// orchestrator, broker, and authority binaries: picking a persistence
// plugin from configuration/flags.
package bootstrap

import (
	"context"
	"strings"

	"github.com/meridianfed/fedres/internal/database"
	"github.com/meridianfed/fedres/internal/database/memdb"
	"github.com/meridianfed/fedres/internal/database/postgres"
	"github.com/meridianfed/fedres/pkg/config"
)

// OpenDatabase selects and opens the persistence plugin named by
// flagDSN (if set), else cfg.Database.DSN, else cfg.Database.Driver.
// An empty DSN with driver "memdb" (the default) returns an in-memory
// store; any DSN, or driver "postgres", opens a PostgreSQL connection.
func OpenDatabase(ctx context.Context, flagDSN string, cfg *config.Config) (database.Plugin, error) {
	dsn := strings.TrimSpace(flagDSN)
	if dsn == "" {
		dsn = strings.TrimSpace(cfg.Database.DSN)
	}

	if dsn == "" && cfg.Database.Driver != "postgres" {
		return memdb.New(), nil
	}
	if dsn == "" {
		dsn = cfg.Database.ConnectionString()
	}
	return postgres.Open(ctx, dsn)
}
