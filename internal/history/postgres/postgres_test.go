package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/loykin/sessionkeeper/internal/history"
	"github.com/loykin/sessionkeeper/internal/store"
)

func TestPostgresSink_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	ctx := context.Background()

	c, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	defer func() { _ = c.Terminate(ctx) }()

	dsn, err := c.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	sink, err := New(dsn)
	require.NoError(t, err)
	defer func() { _ = sink.Close() }()

	now := time.Now().UTC()
	require.NoError(t, sink.Send(ctx, history.Event{
		Type: history.EventOpened, OccurredAt: now, InstanceID: 11,
		URL: "https://example.com", Trigger: history.TriggerCreate,
	}))
	require.NoError(t, sink.Send(ctx, history.Event{
		Type: history.EventClosed, OccurredAt: now, InstanceID: 11, URL: "https://example.com",
		Session: &store.SessionRecord{RuntimeMinutes: 2, SessionType: store.SessionShutdown},
	}))

	var count int
	require.NoError(t, sink.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM session_history WHERE instance_id = $1`, 11).Scan(&count))
	assert.Equal(t, 2, count)
}

func TestPostgresSink_EmptyDSN(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}
