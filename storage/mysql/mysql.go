// Package mysql provides a MySQL backing store for the session core's
// cache layer.
package mysql

import (
	"database/sql"
	"fmt"

	"github.com/veilcore/sessioncore/storage/sqlkv"

	_ "github.com/go-sql-driver/mysql"
)

type dialect struct{}

func (d dialect) Name() string             { return "mysql" }
func (d dialect) Placeholder(_ int) string { return "?" }

func (d dialect) UpsertSuffix() string {
	return "ON DUPLICATE KEY UPDATE value = VALUES(value)"
}

func (d dialect) CreateTableStatements() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS kv (
			bucket VARCHAR(64) NOT NULL,
			id VARCHAR(191) NOT NULL,
			value LONGBLOB NOT NULL,
			PRIMARY KEY (bucket, id)
		)`,
	}
}

// New opens a MySQL-backed store using dsn. Callers must call Init before
// use.
func New(dsn string) (*sqlkv.Store, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("mysql: open: %w", err)
	}
	return sqlkv.New(db, dialect{}), nil
}
