// Package sqliteutil opens local sqlite databases and applies idempotent schemas.
package sqliteutil

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const Memory = ":memory:"

func wrapOpenDB(err error) error {
	return fmt.Errorf("open db: %w", err)
}

// OpenDB opens the sqlite file at path, creating its directory when needed.
func OpenDB(path string) (*sql.DB, error) {
	if path == "" {
		return nil, wrapOpenDB(fmt.Errorf("a path was not specified"))
	}
	if path != Memory {
		err := os.MkdirAll(filepath.Dir(path), 0755)
		if err != nil {
			return nil, wrapOpenDB(err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, wrapOpenDB(err)
	}

	// see this stackoverflow post for information on why the following
	// lines exist: https://stackoverflow.com/questions/35804884/sqlite-concurrent-writing-performance
	db.SetMaxOpenConns(1)
	if path == Memory {
		return db, nil
	}
	_, err = db.Exec("PRAGMA journal_mode=WAL")
	if err != nil {
		db.Close()
		return nil, wrapOpenDB(err)
	}
	return db, nil
}

// Migrate runs schema, which must only contain "create ... if not exists"
// statements so it can run on every start.
func Migrate(ctx context.Context, db *sql.DB, schema string) error {
	_, err := db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("migrate db: %w", err)
	}
	return nil
}
