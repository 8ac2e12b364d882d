package migrations

import (
	"context"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"solana-swap-watch/internal/storage/postgres"
)

func TestLoad_SortsAndSkipsEmpty(t *testing.T) {
	fsys := fstest.MapFS{
		"pg/002_b.sql": {Data: []byte("CREATE TABLE b ();")},
		"pg/001_a.sql": {Data: []byte("CREATE TABLE a ();")},
		"pg/003_c.sql": {Data: []byte("  \n")},
		"pg/README.md": {Data: []byte("notes")},
		"pg/sub/x.sql": {Data: []byte("SELECT 1;")},
	}

	got, err := load(fsys, "pg")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "001_a", got[0].Version)
	assert.Equal(t, "002_b", got[1].Version)
}

func TestEmbeddedMigrationsPresent(t *testing.T) {
	pg, err := load(postgresFiles, "postgres")
	require.NoError(t, err)
	require.Len(t, pg, 2)
	assert.Equal(t, "001_alerts", pg[0].Version)
	assert.Equal(t, "002_collected_transactions", pg[1].Version)

	ch, err := load(clickhouseFiles, "clickhouse")
	require.NoError(t, err)
	for _, m := range ch {
		stmts, err := statements(m.SQL)
		require.NoError(t, err, m.Version)
		assert.NotEmpty(t, stmts, m.Version)
	}
}

func TestStatements(t *testing.T) {
	stmts, err := statements(`
-- header comment
CREATE TABLE a (x Int32) ENGINE = Memory;

CREATE TABLE b (y String DEFAULT 'it''s') ENGINE = Memory;
`)
	require.NoError(t, err)
	require.Len(t, stmts, 2)
	assert.Equal(t, "CREATE TABLE a (x Int32) ENGINE = Memory", stmts[0])
	assert.Equal(t, "CREATE TABLE b (y String DEFAULT 'it''s') ENGINE = Memory", stmts[1])

	_, err = statements(`SELECT 'a;b';`)
	assert.Error(t, err)
}

func TestDatabaseFromDSN(t *testing.T) {
	db, err := databaseFromDSN("clickhouse://default:@localhost:9000/swapwatch")
	require.NoError(t, err)
	assert.Equal(t, "swapwatch", db)

	_, err = databaseFromDSN("clickhouse://localhost:9000")
	assert.Error(t, err)
}

func TestRunPostgresMigrations_TracksVersions(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:15-alpine",
		tcpostgres.WithDatabase("testdb"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	pool, err := postgres.NewPool(ctx, dsn)
	require.NoError(t, err)
	defer pool.Close()

	applied, err := RunPostgresMigrations(ctx, pool)
	require.NoError(t, err)
	assert.Equal(t, []string{"001_alerts", "002_collected_transactions"}, applied)

	applied, err = RunPostgresMigrations(ctx, pool)
	require.NoError(t, err)
	assert.Empty(t, applied)

	var tables int
	err = pool.QueryRow(ctx, `
		SELECT count(*) FROM information_schema.tables
		WHERE table_name IN ('swap_alerts', 'collected_transactions')`).Scan(&tables)
	require.NoError(t, err)
	assert.Equal(t, 2, tables)
}
