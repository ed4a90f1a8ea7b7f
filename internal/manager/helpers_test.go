package manager

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/loykin/sessionkeeper/internal/broadcast"
	"github.com/loykin/sessionkeeper/internal/engine/enginetest"
	"github.com/loykin/sessionkeeper/internal/store"
	"github.com/loykin/sessionkeeper/internal/store/sqlite"
)

var epoch = time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	m       *Manager
	eng     *enginetest.Engine
	repo    *store.SQL
	clock   *clockwork.FakeClock
	dbPath  string
	dataDir string
}

func newFixture(t *testing.T, mutate ...func(*Options)) *fixture {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "sessionkeeper.db")
	repo, err := sqlite.New(dbPath)
	require.NoError(t, err)
	require.NoError(t, repo.EnsureSchema(context.Background()))

	f := &fixture{
		eng:     enginetest.New(),
		repo:    repo,
		clock:   clockwork.NewFakeClockAt(epoch),
		dbPath:  dbPath,
		dataDir: filepath.Join(dir, "user_data"),
	}
	opts := Options{
		Engine:          f.eng,
		Repo:            repo,
		Clock:           f.clock,
		UserDataDir:     f.dataDir,
		DisableRotation: true,
	}
	for _, fn := range mutate {
		fn(&opts)
	}
	f.m, err = New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.m.Shutdown(context.Background()) })
	return f
}

// reopen returns a second connection to the fixture database, usable after
// the manager has closed its own.
func (f *fixture) reopen(t *testing.T) *store.SQL {
	t.Helper()
	repo, err := sqlite.New(f.dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func (f *fixture) create(t *testing.T, url string) int64 {
	t.Helper()
	id, err := f.m.Create(context.Background(), url, store.Metadata{})
	require.NoError(t, err)
	return id
}

func (f *fixture) blockUntil(t *testing.T, waiters int) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.clock.BlockUntilContext(ctx, waiters))
}

// next reads one event or fails after a short wait.
func next(t *testing.T, o *broadcast.Observer) broadcast.Event {
	t.Helper()
	select {
	case e, ok := <-o.C:
		require.True(t, ok, "observer channel closed")
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return broadcast.Event{}
}

// drain discards buffered events.
func drain(o *broadcast.Observer) {
	for {
		select {
		case _, ok := <-o.C:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

// noEventFor asserts that nothing matching pred arrives within d.
func noEventFor(t *testing.T, o *broadcast.Observer, d time.Duration, pred func(broadcast.Event) bool) {
	t.Helper()
	deadline := time.After(d)
	for {
		select {
		case e, ok := <-o.C:
			if !ok {
				return
			}
			if pred(e) {
				t.Fatalf("unexpected event: %+v", e)
			}
		case <-deadline:
			return
		}
	}
}
