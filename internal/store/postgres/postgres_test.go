package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/loykin/sessionkeeper/internal/store"
	"github.com/loykin/sessionkeeper/internal/store/storetest"
)

// startPostgresContainer starts a PostgreSQL container for tests
// and returns a DSN suitable for pgx stdlib. It skips the test if Docker is unavailable.
func startPostgresContainer(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	t.Cleanup(cancel)

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Skipf("Failed to start PostgreSQL container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	if err != nil {
		t.Skipf("Failed to get host info: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Skipf("Failed to get mapped port: %v", err)
	}
	return fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port())
}

func TestPostgresRepository(t *testing.T) {
	dsn := startPostgresContainer(t)
	storetest.Run(t, func(t *testing.T) store.Repository {
		db, err := New(dsn)
		require.NoError(t, err)
		require.NoError(t, db.EnsureSchema(context.Background()))
		resetTables(t, db.DB())
		t.Cleanup(func() { _ = db.Close() })
		return db
	})
}

// resetTables gives every subtest an empty database with ids starting at 1.
func resetTables(t *testing.T, db *sql.DB) {
	t.Helper()
	_, err := db.Exec(`TRUNCATE browser_sessions, browser_instances RESTART IDENTITY CASCADE;`)
	require.NoError(t, err)
}

func TestNewEmptyDSN(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}
