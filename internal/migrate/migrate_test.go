package migrate_test

import (
	"context"
	"database/sql"
	"io"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CaviraOSS/openmemory-go/internal/config"
	"github.com/CaviraOSS/openmemory-go/internal/migrate"
	"github.com/CaviraOSS/openmemory-go/internal/store"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := store.OpenSQLite(config.SQLiteConfig{
		Path: filepath.Join(t.TempDir(), "migrate.sqlite"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newRunner(db *sql.DB) *migrate.Runner {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return migrate.NewRunner(db, store.DialectSQLite, &config.Config{VectorDim: 4}, logger)
}

func columnExists(t *testing.T, db *sql.DB, table, column string) bool {
	t.Helper()
	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	require.NoError(t, err)
	defer rows.Close()
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull int
		var dflt any
		var pk int
		require.NoError(t, rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk))
		if name == column {
			return true
		}
	}
	return false
}

func TestRunCreatesSchema(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, newRunner(db).Run(context.Background()))

	for _, table := range []string{"memories", "vectors", "waypoints", "users", "schema_version"} {
		var name string
		err := db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		require.NoError(t, err, "table %s missing", table)
	}

	// Multi-user columns from 1.2.0 are present.
	assert.True(t, columnExists(t, db, "memories", "user_id"))
	assert.True(t, columnExists(t, db, "memories", "version"))
	assert.True(t, columnExists(t, db, "waypoints", "user_id"))
}

func TestRunRecordsVersions(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, newRunner(db).Run(context.Background()))

	rows, err := db.Query("SELECT version FROM schema_version ORDER BY version")
	require.NoError(t, err)
	defer rows.Close()

	var versions []string
	for rows.Next() {
		var v string
		require.NoError(t, rows.Scan(&v))
		versions = append(versions, v)
	}
	// 1.3.0 is pgvector-only; it must not be recorded on sqlite.
	assert.Equal(t, []string{"1.0.0", "1.2.0"}, versions)
}

func TestRunIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, newRunner(db).Run(ctx))
	// A second full run must be a no-op, not an error.
	require.NoError(t, newRunner(db).Run(ctx))
	require.NoError(t, newRunner(db).Run(ctx))

	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_version").Scan(&n))
	assert.Equal(t, 2, n)

	// Data written between runs survives.
	_, err := db.Exec(`INSERT INTO memories
		(id, tenant_id, user_id, primary_sector, content, tags, meta,
		 salience, decay_lambda, version, created_at, updated_at, last_seen_at)
		VALUES ('m1', 'default', 'u1', 'semantic', 'hello', '[]', '{}', 0.4, 0.005, 1, 1, 1, 1)`)
	require.NoError(t, err)
	require.NoError(t, newRunner(db).Run(ctx))

	var content string
	require.NoError(t, db.QueryRow("SELECT content FROM memories WHERE id='m1'").Scan(&content))
	assert.Equal(t, "hello", content)
}

func TestGuardSkipsAppliedMigration(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	runner := newRunner(db)
	require.NoError(t, runner.Run(ctx))

	// Wipe the version bookkeeping to simulate an out-of-band upgrade; the
	// user_id guard must keep 1.2.0 from re-running its ALTERs.
	_, err := db.Exec("DELETE FROM schema_version WHERE version = '1.2.0'")
	require.NoError(t, err)

	require.NoError(t, newRunner(db).Run(ctx))

	var n int
	require.NoError(t, db.QueryRow(
		"SELECT COUNT(*) FROM schema_version WHERE version = '1.2.0'").Scan(&n))
	assert.Equal(t, 1, n)
}

func TestMigrationOrdering(t *testing.T) {
	versions := migrate.Migrations()
	require.NotEmpty(t, versions)
	for i := 1; i < len(versions); i++ {
		assert.Less(t, versions[i-1].Version, versions[i].Version,
			"migrations must be sorted by version")
	}
}
