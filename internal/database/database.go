// Package database opens the SQL handle shared by the ledger and the
// conversation store. Four drivers are supported: sqlite3 (cgo,
// default), sqlite (pure Go), postgres and mysql. Queries are written
// with ? placeholders and rebound for postgres.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// Dialect identifies the SQL flavor behind a [DB].
type Dialect string

// Supported dialects.
const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
	MySQL    Dialect = "mysql"
)

// DB wraps *sql.DB with the dialect needed to write portable queries.
type DB struct {
	*sql.DB
	Dialect Dialect
	Driver  string
}

// Open opens and pings a database. For the SQLite drivers dsn is a file
// path (parent directories are created) or ":memory:".
func Open(ctx context.Context, driver, dsn string) (*DB, error) {
	var dialect Dialect
	switch driver {
	case "sqlite3", "sqlite":
		dialect = SQLite
		if dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") {
			if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
	case "postgres":
		dialect = Postgres
	case "mysql":
		dialect = MySQL
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dialect == SQLite {
		// SQLite serializes writers; one connection also keeps a
		// :memory: database shared across callers.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &DB{DB: db, Dialect: dialect, Driver: driver}, nil
}

// Rebind rewrites ? placeholders to $1, $2, ... for postgres. Other
// dialects get the query unchanged.
func (d *DB) Rebind(query string) string {
	if d.Dialect != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// Types returns the column types used in DDL for this dialect.
func (d *DB) Types() ColumnTypes {
	switch d.Dialect {
	case Postgres:
		return ColumnTypes{Key: "TEXT", Text: "TEXT", LongText: "TEXT", Float: "DOUBLE PRECISION", Int: "BIGINT"}
	case MySQL:
		return ColumnTypes{Key: "VARCHAR(191)", Text: "VARCHAR(255)", LongText: "MEDIUMTEXT", Float: "DOUBLE", Int: "BIGINT"}
	default:
		return ColumnTypes{Key: "TEXT", Text: "TEXT", LongText: "TEXT", Float: "REAL", Int: "INTEGER"}
	}
}

// ColumnTypes names the per-dialect column types. Key is usable in
// primary keys and indexes.
type ColumnTypes struct {
	Key      string
	Text     string
	LongText string
	Float    string
	Int      string
}

// ExecAll runs DDL statements in order.
func (d *DB) ExecAll(ctx context.Context, stmts ...string) error {
	for _, s := range stmts {
		if _, err := d.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

// CreateIndex creates an index if it does not exist. MySQL has no
// IF NOT EXISTS for indexes, so a duplicate-key error is ignored there.
func (d *DB) CreateIndex(ctx context.Context, name, table, columns string) error {
	if d.Dialect != MySQL {
		_, err := d.ExecContext(ctx, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s(%s)", name, table, columns))
		return err
	}
	var count int
	err := d.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM information_schema.statistics
		 WHERE table_schema = DATABASE() AND table_name = ? AND index_name = ?`,
		table, name,
	).Scan(&count)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	_, err = d.ExecContext(ctx, fmt.Sprintf("CREATE INDEX %s ON %s(%s)", name, table, columns))
	return err
}
