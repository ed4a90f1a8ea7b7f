package sessionkeeper

import (
	"context"
	"database/sql"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/sessionkeeper/internal/engine/enginetest"
	"github.com/loykin/sessionkeeper/internal/store/sqlite"
)

func writeConfig(t *testing.T, dir, body string) *Config {
	t.Helper()
	p := filepath.Join(dir, "sessionkeeper.toml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	c, err := LoadConfig(p)
	require.NoError(t, err)
	return c
}

func TestOpenCreateShutdown(t *testing.T) {
	dir := t.TempDir()
	c := writeConfig(t, dir, `
[store]
dsn = "sqlite://keeper.db"

[browser]
user_data_dir = "profiles"

[scheduler]
rotation_enabled = false

[history]
enabled = true
sinks = ["sqlite://history.db"]
`)
	ctx := context.Background()
	m, err := Open(ctx, c, enginetest.New())
	require.NoError(t, err)

	id, err := m.Create(ctx, "https://example.com", Metadata{Name: "ex"})
	require.NoError(t, err)
	assert.True(t, m.Status().IsRunning)
	_, err = os.Stat(filepath.Join(dir, "profiles", "instance_"+itoa(id)))
	require.NoError(t, err, "profile directory not created under the configured root")

	require.NoError(t, m.Shutdown(ctx))

	m2, err := Open(ctx, c, enginetest.New())
	require.NoError(t, err)
	defer func() { _ = m2.Shutdown(ctx) }()
	inst, err := m2.GetInstance(ctx, id)
	require.NoError(t, err)
	assert.False(t, inst.Active)
	recs, err := m2.Sessions(ctx, id, 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, CloseShutdown, recs[0].SessionType)

	db, err := sql.Open("sqlite", filepath.Join(dir, "history.db"))
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM session_history WHERE instance_id = ?`, id).Scan(&n))
	assert.Equal(t, 2, n, "opened and closed events")
}

func TestOpenReconcilesStaleInstances(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "keeper.db")
	repo, err := sqlite.New(dbPath)
	require.NoError(t, err)
	require.NoError(t, repo.EnsureSchema(context.Background()))
	id, err := repo.CreateInstance(context.Background(), "https://stale.example", Metadata{}, time.Now())
	require.NoError(t, err)
	require.NoError(t, repo.Close())

	c := writeConfig(t, dir, `
[store]
dsn = "`+dbPath+`"

[scheduler]
rotation_enabled = false
`)
	ctx := context.Background()
	m, err := Open(ctx, c, enginetest.New())
	require.NoError(t, err)
	defer func() { _ = m.Shutdown(ctx) }()

	inst, err := m.GetInstance(ctx, id)
	require.NoError(t, err)
	assert.False(t, inst.Active)
	assert.Empty(t, m.ListRunning())
}

func TestOpenBadStore(t *testing.T) {
	c, err := LoadConfig("")
	require.NoError(t, err)
	c.Store.DSN = "mysql://nope"
	_, err = Open(context.Background(), c, enginetest.New())
	assert.Error(t, err)
}

func TestOpenBadHistorySink(t *testing.T) {
	dir := t.TempDir()
	c := writeConfig(t, dir, `
[store]
dsn = "sqlite://keeper.db"

[history]
enabled = true
sinks = ["kafka://broker:9092/topic"]
`)
	_, err := Open(context.Background(), c, enginetest.New())
	assert.Error(t, err)
}

func TestNewHTTPServerWithMetrics(t *testing.T) {
	dir := t.TempDir()
	c := writeConfig(t, dir, `
[server]
listen = "127.0.0.1:0"

[store]
dsn = "sqlite://keeper.db"

[scheduler]
rotation_enabled = false

[metrics]
enabled = true
`)
	require.NoError(t, RegisterMetricsDefault())
	ctx := context.Background()
	m, err := Open(ctx, c, enginetest.New())
	require.NoError(t, err)
	defer func() { _ = m.Shutdown(ctx) }()

	srv, err := NewHTTPServer(c, m)
	require.NoError(t, err)
	defer func() { _ = srv.Close() }()
	assert.Equal(t, "127.0.0.1:0", srv.Addr)
	assert.Nil(t, srv.TLSConfig)

	rec := httptestGet(t, srv.Handler, "/api/metrics")
	assert.Equal(t, http.StatusOK, rec.StatusCode)
	body, _ := io.ReadAll(rec.Body)
	assert.True(t, strings.Contains(string(body), "sessionkeeper_"), "metrics output missing namespace")
}

func TestNewHTTPServerTLSError(t *testing.T) {
	c, err := LoadConfig("")
	require.NoError(t, err)
	c.Server.TLS = &cfgTLS{Enabled: true}
	_, err = NewHTTPServer(c, nil)
	assert.Error(t, err)
}
