package database

import (
	"database/sql"
	"fmt"

	"approval-notify/internal/common/config"

	_ "modernc.org/sqlite"
)

// NewSQLite opens an embedded database. ":memory:" is accepted for tests; it is pinned to a
// single connection so every statement sees the same database.
func NewSQLite(cfg config.SQLiteConfig) (*SQLClient, error) {
	dsn := cfg.GetDSN()
	if cfg.Path == ":memory:" {
		dsn = ":memory:"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	return &SQLClient{DB: db, Dialect: DialectSQLite}, nil
}
