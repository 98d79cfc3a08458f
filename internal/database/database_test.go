package database

import (
	"context"
	"path/filepath"
	"testing"
)

func TestRebind(t *testing.T) {
	tests := []struct {
		dialect Dialect
		in      string
		want    string
	}{
		{Postgres, "SELECT * FROM t WHERE a = ? AND b = ?", "SELECT * FROM t WHERE a = $1 AND b = $2"},
		{Postgres, "SELECT 1", "SELECT 1"},
		{SQLite, "SELECT * FROM t WHERE a = ?", "SELECT * FROM t WHERE a = ?"},
		{MySQL, "UPDATE t SET a = ? WHERE id = ?", "UPDATE t SET a = ? WHERE id = ?"},
	}
	for _, tt := range tests {
		d := &DB{Dialect: tt.dialect}
		if got := d.Rebind(tt.in); got != tt.want {
			t.Errorf("%s Rebind(%q) = %q, want %q", tt.dialect, tt.in, got, tt.want)
		}
	}
}

func TestOpen_SQLiteDrivers(t *testing.T) {
	for _, driver := range []string{"sqlite3", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", "ledger.db")
			db, err := Open(context.Background(), driver, path)
			if err != nil {
				t.Fatalf("Open(%s) error = %v", driver, err)
			}
			defer db.Close()

			if db.Dialect != SQLite {
				t.Errorf("Dialect = %q, want sqlite", db.Dialect)
			}
			if err := db.ExecAll(context.Background(),
				"CREATE TABLE t (id TEXT PRIMARY KEY, v INTEGER)",
			); err != nil {
				t.Fatalf("ExecAll: %v", err)
			}
			if err := db.CreateIndex(context.Background(), "idx_t_v", "t", "v"); err != nil {
				t.Fatalf("CreateIndex: %v", err)
			}
			// Second call must be a no-op.
			if err := db.CreateIndex(context.Background(), "idx_t_v", "t", "v"); err != nil {
				t.Fatalf("CreateIndex again: %v", err)
			}
		})
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), "oracle", "x"); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestTypes(t *testing.T) {
	if got := (&DB{Dialect: MySQL}).Types().Key; got != "VARCHAR(191)" {
		t.Errorf("mysql key type = %q", got)
	}
	if got := (&DB{Dialect: Postgres}).Types().Float; got != "DOUBLE PRECISION" {
		t.Errorf("postgres float type = %q", got)
	}
	if got := (&DB{Dialect: SQLite}).Types().Int; got != "INTEGER" {
		t.Errorf("sqlite int type = %q", got)
	}
}
