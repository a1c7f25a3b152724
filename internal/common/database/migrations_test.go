package database

import (
	"context"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/002_second.sql": {Data: []byte("CREATE TABLE b (id INTEGER);")},
		"migrations/001_first.sql":  {Data: []byte("CREATE TABLE a (id INTEGER);")},
		"migrations/README.md":      {Data: []byte("ignored")},
	}

	migrations, err := ReadMigrations(fsys, "migrations")
	require.NoError(t, err)
	require.Len(t, migrations, 2)
	assert.Equal(t, 1, migrations[0].id)
	assert.Equal(t, "001_first.sql", migrations[0].name)
	assert.Equal(t, 2, migrations[1].id)
}

func TestReadMigrations_BadName(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/first.sql": {Data: []byte("SELECT 1;")},
	}
	_, err := ReadMigrations(fsys, "migrations")
	assert.Error(t, err)
}

func TestUpdateDatabase(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, DialectSqlite, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer db.Close()

	migrations := []Migration{
		NewMigration(1, "001_a.sql", "CREATE TABLE a (id INTEGER); CREATE TABLE b (id INTEGER);"),
		NewMigration(2, "002_c.sql", "CREATE TABLE c (id INTEGER);"),
	}
	require.NoError(t, UpdateDatabase(ctx, db, migrations))

	version, err := readVersion(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, 2, version)

	// Re-running is a no-op; a second CREATE TABLE would fail.
	require.NoError(t, UpdateDatabase(ctx, db, migrations))

	_, err = db.ExecContext(ctx, "INSERT INTO c (id) VALUES (1)")
	assert.NoError(t, err)
}

func TestUpdateDatabase_FailedMigrationRollsBack(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, DialectSqlite, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer db.Close()

	err = UpdateDatabase(ctx, db, []Migration{
		NewMigration(1, "001_bad.sql", "CREATE TABLE a (id INTEGER); NOT SQL"),
	})
	assert.Error(t, err)

	version, err := readVersion(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, 0, version)
}

func TestCreateConnectionString(t *testing.T) {
	s := CreateConnectionString(map[string]string{
		"host":     "localhost",
		"password": `it's`,
		"dbname":   "redistrict",
	})
	assert.Equal(t, `dbname='redistrict' host='localhost' password='it\'s'`, s)
}

func TestOpen_UnknownDialect(t *testing.T) {
	_, err := Open(context.Background(), "oracle", "")
	assert.Error(t, err)
}
