package db

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/goran-ethernal/EntityIndexor/internal/logger"
	migrate "github.com/rubenv/sql-migrate"
)

const (
	upMarker   = "-- +migrate Up"
	downMarker = "-- +migrate Down"
)

// Migration is one embedded SQL file. The file carries an optional Down
// section followed by the Up section.
type Migration struct {
	ID  string
	SQL string
}

// RunMigrations applies every pending migration in order.
func RunMigrations(log *logger.Logger, db *sql.DB, migrations []Migration) error {
	source := &migrate.MemoryMigrationSource{}

	ids := make([]string, 0, len(migrations))
	for _, m := range migrations {
		parsed, err := parseMigration(m)
		if err != nil {
			return err
		}
		source.Migrations = append(source.Migrations, parsed)
		ids = append(ids, m.ID)
	}

	log.Debugf("running migrations: %s", strings.Join(ids, ", "))

	n, err := migrate.Exec(db, "sqlite3", source, migrate.Up)
	if err != nil {
		return fmt.Errorf("error executing migrations %s: %w", strings.Join(ids, ", "), err)
	}

	log.Infof("applied %d of %d migrations", n, len(migrations))
	return nil
}

func parseMigration(m Migration) (*migrate.Migration, error) {
	down, up, found := strings.Cut(m.SQL, upMarker)
	if !found {
		return nil, fmt.Errorf("migration %s missing '%s' separator", m.ID, upMarker)
	}

	if _, after, ok := strings.Cut(down, downMarker); ok {
		down = after
	}

	parsed := &migrate.Migration{
		Id: m.ID,
		Up: []string{strings.TrimSpace(up)},
	}
	if down = strings.TrimSpace(down); down != "" {
		parsed.Down = []string{down}
	}

	return parsed, nil
}
