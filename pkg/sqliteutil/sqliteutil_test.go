package sqliteutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const schema = `create table if not exists note (
    id integer primary key,
    body text not null
);`

func TestOpenAndMigrate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "test.db")
	db, err := OpenDB(path)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, Migrate(context.Background(), db, schema))
	require.NoError(t, Migrate(context.Background(), db, schema))

	_, err = db.Exec("insert into note (body) values (?)", "hallo")
	require.NoError(t, err)

	var mode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	require.Equal(t, "wal", mode)
}

func TestOpenMemory(t *testing.T) {
	db, err := OpenDB(Memory)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, Migrate(context.Background(), db, schema))
}

func TestOpenNoPath(t *testing.T) {
	_, err := OpenDB("")
	require.Error(t, err)
}
