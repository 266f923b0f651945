// Package migrations embeds the schema of the sqlite key/value backend.
package migrations

import (
	"database/sql"
	_ "embed"

	"github.com/goran-ethernal/EntityIndexor/internal/db"
	"github.com/goran-ethernal/EntityIndexor/internal/logger"
)

//go:embed 001_kv_store.sql
var mig001 string

// RunMigrations brings the key/value schema of sqlDB up to date.
func RunMigrations(log *logger.Logger, sqlDB *sql.DB) error {
	return db.RunMigrations(log, sqlDB, []db.Migration{
		{ID: "001_kv_store.sql", SQL: mig001},
	})
}
