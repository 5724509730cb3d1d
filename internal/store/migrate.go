package store

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// SchemaVersion is the newest schema this build understands.
const SchemaVersion = 1

const migrationsTable = "schema_migrations"

// ErrSchemaVersion rejects databases written by a newer build or left dirty
// by an interrupted migration.
var ErrSchemaVersion = errors.New("unsupported schema version")

func Migrate(db *sql.DB) error {
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("migrations source: %w", err)
	}
	drv, err := sqlite.WithInstance(db, &sqlite.Config{MigrationsTable: migrationsTable})
	if err != nil {
		return fmt.Errorf("migrations driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", drv)
	if err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	// m.Close would close db as well; the source needs no cleanup.

	v, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
	case err != nil:
		return fmt.Errorf("schema version: %w", err)
	case dirty:
		return fmt.Errorf("%w: version %d is dirty", ErrSchemaVersion, v)
	case v > SchemaVersion:
		return fmt.Errorf("%w: database is at %d, this build supports up to %d", ErrSchemaVersion, v, SchemaVersion)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// CheckVersion validates the schema version without writing, for read-only opens.
func CheckVersion(db *sql.DB) error {
	var (
		v     int64
		dirty bool
	)
	err := db.QueryRow(`SELECT version, dirty FROM `+migrationsTable+` LIMIT 1;`).Scan(&v, &dirty)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSchemaVersion, err)
	}
	if dirty || v > SchemaVersion || v < 1 {
		return fmt.Errorf("%w: database is at %d (dirty=%t), this build supports up to %d", ErrSchemaVersion, v, dirty, SchemaVersion)
	}
	return nil
}
