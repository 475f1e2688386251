// Package sqlite provides a SQLite backing store for the session core's
// cache layer.
package sqlite

import (
	"database/sql"
	"fmt"

	"github.com/veilcore/sessioncore/storage/sqlkv"

	_ "github.com/mattn/go-sqlite3"
)

type dialect struct{}

func (d dialect) Name() string             { return "sqlite" }
func (d dialect) Placeholder(_ int) string { return "?" }

func (d dialect) UpsertSuffix() string {
	return "ON CONFLICT (bucket, id) DO UPDATE SET value = excluded.value"
}

func (d dialect) CreateTableStatements() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS kv (
			bucket TEXT NOT NULL,
			id TEXT NOT NULL,
			value BLOB NOT NULL,
			PRIMARY KEY (bucket, id)
		)`,
	}
}

// New opens a SQLite-backed store at dsn (":memory:" for an ephemeral
// store) with WAL journaling. Callers must call Init before use.
func New(dsn string) (*sqlkv.Store, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: set WAL: %w", err)
	}

	store := sqlkv.New(db, dialect{})
	return store, nil
}
