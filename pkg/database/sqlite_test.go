package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenSQLite_AppliesSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "guest.db")
	db, err := OpenSQLite(context.Background(), path, `CREATE TABLE IF NOT EXISTS slots (id TEXT PRIMARY KEY)`)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`INSERT INTO slots (id) VALUES ('local')`)
	require.NoError(t, err)

	var mode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)
}

func TestOpenSQLite_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "guest.db")
	schema := `CREATE TABLE IF NOT EXISTS slots (id TEXT PRIMARY KEY)`

	db, err := OpenSQLite(context.Background(), path, schema)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO slots (id) VALUES ('local')`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = OpenSQLite(context.Background(), path, schema)
	require.NoError(t, err)
	defer db.Close()

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM slots`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestOpenSQLite_BadSchema(t *testing.T) {
	_, err := OpenSQLite(context.Background(), ":memory:", "CREATE TABLE (")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema")
}
