package manager

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/sessionkeeper/internal/engine/enginetest"
	"github.com/loykin/sessionkeeper/internal/store"
)

// closedInstances creates n instances and closes them one minute apart, so
// instance i+1 has the i-th oldest close.
func closedInstances(t *testing.T, f *fixture, n int) []int64 {
	t.Helper()
	ids := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		ids = append(ids, f.create(t, "https://rotate.example"))
	}
	for _, id := range ids {
		f.clock.Advance(time.Minute)
		_, err := f.m.Close(context.Background(), id, store.SessionManual)
		require.NoError(t, err)
	}
	return ids
}

// finishDwell advances past the dwell time and waits until the background
// close has advanced the rotation index to wantIndex.
func finishDwell(t *testing.T, f *fixture, wantIndex int64) {
	t.Helper()
	f.clock.Advance(DefaultDwellTime)
	require.Eventually(t, func() bool { return f.m.RotationStats().Index == wantIndex },
		2*time.Second, 5*time.Millisecond)
	assert.Empty(t, f.m.ListRunning())
}

func TestRotationVisitsOldestClosedFirst(t *testing.T) {
	f := newFixture(t)
	ids := closedInstances(t, f, 3)
	ctx := context.Background()

	var order []int64
	for i := 0; i < 4; i++ {
		id, ok := f.m.rotateOnce(ctx)
		require.True(t, ok, "cycle %d", i)
		order = append(order, id)
		finishDwell(t, f, int64(i+1))
	}
	assert.Equal(t, []int64{ids[0], ids[1], ids[2], ids[0]}, order)

	st := f.m.RotationStats()
	assert.Equal(t, int64(4), st.Index)
	assert.Equal(t, 1, st.Pass)
	assert.Equal(t, ids[0], st.LastInstanceID)
}

func TestRotationDwellClosesInBackground(t *testing.T) {
	f := newFixture(t)
	f.eng.SetCookieCount(1)
	ids := closedInstances(t, f, 2)
	ctx := context.Background()

	id, ok := f.m.rotateOnce(ctx)
	require.True(t, ok)
	assert.Equal(t, ids[0], id)
	assert.Equal(t, id, f.m.RotationStats().CurrentInstanceID)
	require.Len(t, f.m.ListRunning(), 1)

	finishDwell(t, f, 1)
	recs, err := f.m.Sessions(ctx, id, 1)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, store.SessionBackground, recs[0].SessionType)
	assert.Equal(t, 3, recs[0].RuntimeMinutes)
	assert.Equal(t, 1, recs[0].CookiesCount)

	assert.Equal(t, int64(0), f.m.RotationStats().CurrentInstanceID)

	in, err := f.m.GetInstance(ctx, id)
	require.NoError(t, err)
	assert.False(t, in.Active)
	assert.Equal(t, 2, in.TotalOpenCount)
}

func TestRotationSkipsWhenWatchedOrBusy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// nothing closed yet
	_, ok := f.m.rotateOnce(ctx)
	assert.False(t, ok)

	closedInstances(t, f, 1)
	o := f.m.Connect()
	_, ok = f.m.rotateOnce(ctx)
	assert.False(t, ok)
	f.m.Disconnect(o)

	f.create(t, "https://busy.example")
	_, ok = f.m.rotateOnce(ctx)
	assert.False(t, ok)
	assert.Len(t, f.m.ListRunning(), 1)
}

func TestRotationKeepsSessionWhenObserverArrives(t *testing.T) {
	f := newFixture(t)
	closedInstances(t, f, 2)
	ctx := context.Background()

	id, ok := f.m.rotateOnce(ctx)
	require.True(t, ok)

	o := f.m.Connect()
	defer f.m.Disconnect(o)
	f.clock.Advance(DefaultDwellTime)
	require.Eventually(t, func() bool { return f.m.RotationStats().CurrentInstanceID == 0 },
		2*time.Second, 5*time.Millisecond)

	running := f.m.ListRunning()
	require.Len(t, running, 1)
	assert.Equal(t, id, running[0].InstanceID)
	assert.Equal(t, int64(0), f.m.RotationStats().Index)
}

func TestRotationManualCloseDuringDwell(t *testing.T) {
	f := newFixture(t)
	ids := closedInstances(t, f, 2)
	ctx := context.Background()

	id, ok := f.m.rotateOnce(ctx)
	require.True(t, ok)
	_, err := f.m.Close(ctx, id, store.SessionManual)
	require.NoError(t, err)

	next, ok := f.m.rotateOnce(ctx)
	require.True(t, ok)
	assert.Equal(t, ids[1], next)

	// the first dwell was superseded, so only the second one closes a session
	finishDwell(t, f, 1)
}

func TestRotationDwellSparesRestartedSession(t *testing.T) {
	f := newFixture(t)
	closedInstances(t, f, 1)
	ctx := context.Background()

	id, ok := f.m.rotateOnce(ctx)
	require.True(t, ok)
	_, err := f.m.Close(ctx, id, store.SessionManual)
	require.NoError(t, err)
	assert.Equal(t, int64(0), f.m.RotationStats().CurrentInstanceID)

	// the operator reopens the same instance inside the old dwell window
	require.NoError(t, f.m.Restart(ctx, id))
	f.clock.Advance(DefaultDwellTime)
	time.Sleep(50 * time.Millisecond)

	running := f.m.ListRunning()
	require.Len(t, running, 1)
	assert.Equal(t, id, running[0].InstanceID)
	assert.Equal(t, int64(0), f.m.RotationStats().Index)

	recs, err := f.m.Sessions(ctx, id, 0)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	for _, r := range recs {
		assert.Equal(t, store.SessionManual, r.SessionType)
	}
}

func TestRotationStaleDwellIgnored(t *testing.T) {
	f := newFixture(t)
	closedInstances(t, f, 1)
	ctx := context.Background()

	id, ok := f.m.rotateOnce(ctx)
	require.True(t, ok)
	old, err := f.m.reg.Get(id)
	require.NoError(t, err)

	_, err = f.m.Close(ctx, id, store.SessionManual)
	require.NoError(t, err)
	require.NoError(t, f.m.Restart(ctx, id))

	// a timer that fired before it could be stopped still leaves the new session alone
	f.m.rot.mu.Lock()
	cur := f.m.rot.gen
	f.m.rot.mu.Unlock()
	f.m.dwellExpired(old, cur)
	assert.Len(t, f.m.ListRunning(), 1)
}

func TestRotationLaunchFailureMovesOn(t *testing.T) {
	f := newFixture(t)
	ids := closedInstances(t, f, 2)
	ctx := context.Background()

	f.eng.FailLaunch(enginetest.ErrInjected)
	_, ok := f.m.rotateOnce(ctx)
	assert.False(t, ok)

	f.eng.FailLaunch(nil)
	id, ok := f.m.rotateOnce(ctx)
	require.True(t, ok)
	assert.Equal(t, ids[1], id)
}

func TestRotationSchedulerTicks(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.DisableRotation = false })
	ids := closedInstances(t, f, 1)
	ctx := context.Background()

	require.NoError(t, f.m.Start(ctx))
	assert.True(t, f.m.Status().BackgroundTaskActive)
	assert.True(t, f.m.RotationStats().Active)
	f.blockUntil(t, 1)

	f.clock.Advance(DefaultRotationInterval)
	require.Eventually(t, func() bool { return len(f.m.ListRunning()) == 1 },
		2*time.Second, 5*time.Millisecond)
	assert.Equal(t, ids[0], f.m.ListRunning()[0].InstanceID)

	require.NoError(t, f.m.Shutdown(ctx))
	assert.False(t, f.m.Status().BackgroundTaskActive)
	assert.Equal(t, 0, f.eng.OpenPages())

	repo := f.reopen(t)
	recs, err := repo.ListSessions(ctx, ids[0], 1)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, store.SessionShutdown, recs[0].SessionType)
}

func TestRotationPickStartsNewPass(t *testing.T) {
	r := newRotation()
	list := []store.Instance{{ID: 4}, {ID: 9}}
	assert.Equal(t, int64(4), r.pick(list).ID)
	assert.Equal(t, int64(9), r.pick(list).ID)
	assert.Equal(t, int64(4), r.pick(list).ID)
	assert.Equal(t, 1, r.stats().Pass)

	// a newly closed instance joins the current pass
	list = append(list, store.Instance{ID: 12})
	assert.Equal(t, int64(9), r.pick(list).ID)
	assert.Equal(t, int64(12), r.pick(list).ID)
}
