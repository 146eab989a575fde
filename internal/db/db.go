package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/datajoint/workflow-deeplabcut/internal/config"
)

// Dialect selects identifier and placeholder syntax for the backing store.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

// Table returns the quoted identifier for table name inside namespace.
// PostgreSQL namespaces are real schemas; SQLite has a single namespace so
// the schema name is folded into the table name.
func (d Dialect) Table(namespace, name string) string {
	if d == Postgres {
		return QuoteIdent(namespace) + "." + QuoteIdent(name)
	}
	return QuoteIdent(flatName(namespace, name))
}

// Placeholder returns the n-th (1-based) bind parameter marker.
func (d Dialect) Placeholder(n int) string {
	if d == Postgres {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// QuoteIdent quotes an SQL identifier.
func QuoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func flatName(namespace, name string) string {
	return namespace + "__" + name
}

// DB wraps a pipeline database connection.
type DB struct {
	*sql.DB
	Dialect Dialect

	// dsn is kept so migration runners can open dedicated connections.
	dsn string
}

// Open connects to the backend described by cfg and prepares the
// activation log.
func Open(cfg config.Database) (*DB, error) {
	switch cfg.Backend {
	case "", "sqlite":
		return OpenSQLite(cfg.Path)
	case "postgres":
		return OpenPostgres(PostgresDSN(cfg))
	default:
		return nil, fmt.Errorf("unsupported backend %q", cfg.Backend)
	}
}

// OpenSQLite opens (creating if needed) a SQLite database file.
func OpenSQLite(path string) (*DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return initDB(&DB{DB: sqlDB, Dialect: SQLite, dsn: dsn})
}

// OpenPostgres connects through the pgx stdlib driver.
func OpenPostgres(dsn string) (*DB, error) {
	sqlDB, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return initDB(&DB{DB: sqlDB, Dialect: Postgres, dsn: dsn})
}

// PostgresDSN builds a connection URL from cfg.
func PostgresDSN(cfg config.Database) string {
	u := url.URL{
		Scheme:   "postgres",
		Host:     cfg.Host + ":" + strconv.Itoa(cfg.Port),
		Path:     "/" + cfg.Name,
		RawQuery: "sslmode=disable",
	}
	if cfg.Password != "" {
		u.User = url.UserPassword(cfg.User, cfg.Password)
	} else if cfg.User != "" {
		u.User = url.User(cfg.User)
	}
	return u.String()
}

func initDB(db *DB) (*DB, error) {
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to %s database: %w", db.Dialect, err)
	}
	if err := db.ensureActivationLog(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create activation log: %w", err)
	}
	return db, nil
}

// EnsureNamespace creates the PostgreSQL schema for namespace. SQLite
// namespaces need no setup.
func (db *DB) EnsureNamespace(ctx context.Context, namespace string) error {
	if db.Dialect != Postgres {
		return nil
	}
	_, err := db.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+QuoteIdent(namespace))
	return err
}

// TableExists reports whether table name exists inside namespace.
func (db *DB) TableExists(ctx context.Context, namespace, name string) (bool, error) {
	var count int
	var err error
	if db.Dialect == Postgres {
		err = db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = $1 AND table_name = $2`,
			namespace, name).Scan(&count)
	} else {
		err = db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`,
			flatName(namespace, name)).Scan(&count)
	}
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Namespaces lists the namespaces that start with prefix and hold at least
// one table.
func (db *DB) Namespaces(ctx context.Context, prefix string) ([]string, error) {
	var rows *sql.Rows
	var err error
	if db.Dialect == Postgres {
		rows, err = db.QueryContext(ctx,
			`SELECT DISTINCT table_schema FROM information_schema.tables
			 WHERE table_schema LIKE $1
			   AND table_schema NOT IN ('pg_catalog', 'information_schema', 'public')
			 ORDER BY table_schema`, likePrefix(prefix)+"%")
	} else {
		rows, err = db.QueryContext(ctx,
			`SELECT name FROM sqlite_master WHERE type = 'table' AND name LIKE ? ESCAPE '\' ORDER BY name`,
			likePrefix(prefix)+"%\\_\\_%")
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	seen := map[string]bool{}
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		if db.Dialect != Postgres {
			i := strings.Index(name[len(prefix):], "__")
			if i < 0 {
				continue
			}
			name = name[:len(prefix)+i]
		}
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out, rows.Err()
}

func likePrefix(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix)
}
