// Package postgres provides a PostgreSQL backing store for the session
// core's cache layer.
package postgres

import (
	"database/sql"
	"fmt"

	"github.com/veilcore/sessioncore/storage/sqlkv"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type dialect struct{}

func (d dialect) Name() string { return "postgres" }

func (d dialect) Placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

func (d dialect) UpsertSuffix() string {
	return "ON CONFLICT (bucket, id) DO UPDATE SET value = excluded.value"
}

func (d dialect) CreateTableStatements() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS kv (
			bucket TEXT NOT NULL,
			id TEXT NOT NULL,
			value BYTEA NOT NULL,
			PRIMARY KEY (bucket, id)
		)`,
	}
}

// New opens a PostgreSQL-backed store using connString. Callers must call
// Init before use.
func New(connString string) (*sqlkv.Store, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	return sqlkv.New(db, dialect{}), nil
}
