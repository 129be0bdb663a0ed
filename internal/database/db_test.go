package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemoryDB(t *testing.T, name string) *DB {
	t.Helper()
	db, err := New(Config{
		Path: fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()),
		Name: name,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestNew_FileDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "runs.db")

	db, err := New(Config{Path: path, Name: "runs"})
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, path, db.Path())
	assert.Equal(t, "runs", db.Name())
	require.NoError(t, db.Migrate())
	assert.NoError(t, db.HealthCheck(context.Background()))
}

func TestMigrate_Idempotent(t *testing.T) {
	db := newMemoryDB(t, "runs")

	require.NoError(t, db.Migrate())
	require.NoError(t, db.Migrate())

	var count int
	err := db.Conn().QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name IN ('runs', 'run_strategies')`).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestMigrate_UnknownSchema(t *testing.T) {
	db := newMemoryDB(t, "ledger")
	assert.Error(t, db.Migrate())
}

func TestBuildConnectionString(t *testing.T) {
	assert.Contains(t, buildConnectionString("/data/runs.db", ProfileStandard), "/data/runs.db?_pragma=journal_mode(WAL)")
	assert.Contains(t, buildConnectionString("file:x?mode=memory", ProfileStandard), "file:x?mode=memory&_pragma=")
	assert.Contains(t, buildConnectionString("/data/runs.db", ProfileStandard), "synchronous(NORMAL)")
}

func TestWithTransaction(t *testing.T) {
	db := newMemoryDB(t, "runs")
	_, err := db.Conn().Exec(`CREATE TABLE items (v INTEGER)`)
	require.NoError(t, err)

	count := func() int {
		var n int
		require.NoError(t, db.Conn().QueryRow(`SELECT COUNT(*) FROM items`).Scan(&n))
		return n
	}

	err = WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO items (v) VALUES (1)`)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 1, count())

	boom := errors.New("boom")
	err = WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		if _, err := tx.Exec(`INSERT INTO items (v) VALUES (2)`); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, count(), "failed transaction is rolled back")

	err = WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		panic("bad")
	})
	assert.ErrorContains(t, err, "panic in transaction")

	assert.Error(t, WithTransaction(nil, func(tx *sql.Tx) error { return nil }))
}
