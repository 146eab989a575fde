package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/datajoint/workflow-deeplabcut/internal/monitoring"
)

// MigrationSet identifies one migration history. Several modules may share
// a namespace; each keeps its own history table.
type MigrationSet struct {
	Namespace string
	Module    string
}

func (s MigrationSet) String() string {
	return s.Namespace + "/" + s.Module
}

// historyTable is the unquoted name of the migrations table inside the
// namespace.
func (s MigrationSet) historyTable() string {
	return "migrations_" + s.Module
}

// MigrateUp applies all pending migrations from src. It reports whether
// anything was applied.
func (db *DB) MigrateUp(set MigrationSet, src fs.FS) (bool, error) {
	m, closeFn, err := db.newMigrate(set, src)
	if err != nil {
		return false, err
	}
	defer closeFn()

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			return false, nil
		}
		return false, fmt.Errorf("migration up failed for %s: %w", set, err)
	}
	return true, nil
}

// MigrateDown rolls back every migration in src.
func (db *DB) MigrateDown(set MigrationSet, src fs.FS) error {
	m, closeFn, err := db.newMigrate(set, src)
	if err != nil {
		return err
	}
	defer closeFn()

	if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration down failed for %s: %w", set, err)
	}
	return nil
}

// MigrateVersion returns the current version and dirty state. Returns
// 0, false, nil if nothing has been applied yet.
func (db *DB) MigrateVersion(set MigrationSet, src fs.FS) (version uint, dirty bool, err error) {
	m, closeFn, err := db.newMigrate(set, src)
	if err != nil {
		return 0, false, err
	}
	defer closeFn()

	version, dirty, err = m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

// HistoryVersion reads the migration history table directly, without a
// migration source. ok is false when the set has never been applied.
func (db *DB) HistoryVersion(ctx context.Context, set MigrationSet) (version uint, dirty bool, ok bool, err error) {
	exists, err := db.TableExists(ctx, set.Namespace, set.historyTable())
	if err != nil || !exists {
		return 0, false, false, err
	}

	var v int64
	err = db.QueryRowContext(ctx,
		"SELECT version, dirty FROM "+db.Dialect.Table(set.Namespace, set.historyTable())+" LIMIT 1",
	).Scan(&v, &dirty)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, false, nil
	}
	if err != nil {
		return 0, false, false, err
	}
	if v < 0 {
		return 0, dirty, false, nil
	}
	return uint(v), dirty, true, nil
}

// newMigrate builds a migrate instance for set. The returned close function
// must be called when done; for SQLite it leaves the shared connection
// open.
func (db *DB) newMigrate(set MigrationSet, src fs.FS) (*migrate.Migrate, func(), error) {
	source, err := iofs.New(src, ".")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read migrations for %s: %w", set, err)
	}

	var (
		driver   database.Driver
		name     string
		closeFn  = func() {}
		dedicate *sql.DB
	)
	switch db.Dialect {
	case Postgres:
		if err := db.EnsureNamespace(context.Background(), set.Namespace); err != nil {
			return nil, nil, fmt.Errorf("failed to create schema %s: %w", set.Namespace, err)
		}
		// The pgx driver pins a connection and closes its *sql.DB on Close,
		// so it gets a pool of its own.
		dedicate, err = sql.Open("pgx", db.dsn)
		if err != nil {
			return nil, nil, err
		}
		driver, err = migratepgx.WithInstance(dedicate, &migratepgx.Config{
			MigrationsTable: set.historyTable(),
			SchemaName:      set.Namespace,
		})
		name = "pgx5"
	default:
		// golang-migrate interpolates the table name unquoted.
		driver, err = sqlite.WithInstance(db.DB, &sqlite.Config{
			MigrationsTable: flatName(set.Namespace, set.historyTable()),
		})
		name = "sqlite"
	}
	if err != nil {
		if dedicate != nil {
			dedicate.Close()
		}
		return nil, nil, fmt.Errorf("failed to create %s migration driver: %w", db.Dialect, err)
	}

	m, err := migrate.NewWithInstance("iofs", source, name, driver)
	if err != nil {
		if dedicate != nil {
			dedicate.Close()
		}
		return nil, nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = &migrateLogger{set: set}

	if dedicate != nil {
		closeFn = func() {
			if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
				monitoring.Logf("[migrate] close %s: source=%v db=%v", set, srcErr, dbErr)
			}
		}
	}
	return m, closeFn, nil
}

// migrateLogger implements migrate.Logger.
type migrateLogger struct {
	set MigrationSet
}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	monitoring.Logf("[migrate %s] "+format, append([]interface{}{l.set}, v...)...)
}

func (l *migrateLogger) Verbose() bool {
	return false
}
