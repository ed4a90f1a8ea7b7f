// Package storetest holds the behavioural suite every store.Repository
// implementation must pass.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/sessionkeeper/internal/store"
)

// Factory returns an empty repository with its schema ensured.
type Factory func(t *testing.T) store.Repository

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// Run executes the suite against repositories produced by newRepo.
func Run(t *testing.T, newRepo Factory) {
	t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGet(t, newRepo(t)) })
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, newRepo(t)) })
	t.Run("RecordSession", func(t *testing.T) { testRecordSession(t, newRepo(t)) })
	t.Run("RotationOrder", func(t *testing.T) { testRotationOrder(t, newRepo(t)) })
	t.Run("UpdateInstance", func(t *testing.T) { testUpdateInstance(t, newRepo(t)) })
	t.Run("MarkOpenedAndInactive", func(t *testing.T) { testMarkOpenedAndInactive(t, newRepo(t)) })
	t.Run("DeleteCascade", func(t *testing.T) { testDeleteCascade(t, newRepo(t)) })
	t.Run("StatisticsAndGroups", func(t *testing.T) { testStatisticsAndGroups(t, newRepo(t)) })
}

func closeSession(t *testing.T, r store.Repository, id int64, opened, closed time.Time, cookies int, typ string) {
	t.Helper()
	_, err := r.RecordSession(context.Background(), store.SessionRecord{
		InstanceID:     id,
		OpenedAt:       opened,
		ClosedAt:       closed,
		RuntimeMinutes: int(closed.Sub(opened).Round(time.Minute) / time.Minute),
		CookiesCount:   cookies,
		SessionType:    typ,
	})
	require.NoError(t, err)
}

func testCreateAndGet(t *testing.T, r store.Repository) {
	ctx := context.Background()
	id, err := r.CreateInstance(ctx, "https://example.com", store.Metadata{Name: "ex", GroupName: "g1", Tags: "a,b"}, base)
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	in, err := r.GetInstance(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", in.URL)
	assert.Equal(t, "ex", in.Name)
	assert.Equal(t, "g1", in.GroupName)
	assert.Equal(t, "a,b", in.Tags)
	assert.Empty(t, in.Description)
	assert.Equal(t, 1, in.Priority)
	assert.Equal(t, 1, in.TotalOpenCount)
	assert.True(t, in.Active)
	assert.True(t, in.CreatedAt.Equal(base))
	require.NotNil(t, in.LastOpenedAt)
	assert.True(t, in.LastOpenedAt.Equal(base))
	assert.Nil(t, in.LastClosedAt)

	id2, err := r.CreateInstance(ctx, "https://example.com", store.Metadata{}, base)
	require.NoError(t, err)
	assert.Equal(t, int64(2), id2, "same url creates a distinct instance")
}

func testGetMissing(t *testing.T, r store.Repository) {
	ctx := context.Background()
	_, err := r.GetInstance(ctx, 42)
	assert.True(t, errors.Is(err, store.ErrNotFound), "got %v", err)
	assert.ErrorIs(t, r.SetInactive(ctx, 42), store.ErrNotFound)
	assert.ErrorIs(t, r.DeleteInstance(ctx, 42), store.ErrNotFound)
	_, err = r.RecordSession(ctx, store.SessionRecord{InstanceID: 42, OpenedAt: base, ClosedAt: base})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testRecordSession(t *testing.T, r store.Repository) {
	ctx := context.Background()
	id, err := r.CreateInstance(ctx, "https://a.test", store.Metadata{}, base)
	require.NoError(t, err)

	closeSession(t, r, id, base, base.Add(3*time.Minute), 2, store.SessionManual)
	in, err := r.GetInstance(ctx, id)
	require.NoError(t, err)
	assert.False(t, in.Active)
	assert.Equal(t, 3, in.TotalRuntimeMinutes)
	require.NotNil(t, in.LastClosedAt)
	assert.True(t, in.LastClosedAt.Equal(base.Add(3*time.Minute)))

	require.NoError(t, r.MarkOpened(ctx, id, base.Add(time.Hour)))
	closeSession(t, r, id, base.Add(time.Hour), base.Add(time.Hour+10*time.Minute), 5, store.SessionBackground)
	in, err = r.GetInstance(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 13, in.TotalRuntimeMinutes)
	assert.Equal(t, 2, in.TotalOpenCount)

	recs, err := r.ListSessions(ctx, id, 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, store.SessionBackground, recs[0].SessionType, "newest first")
	assert.Equal(t, 10, recs[0].RuntimeMinutes)
	assert.Equal(t, 5, recs[0].CookiesCount)
	assert.True(t, recs[1].OpenedAt.Equal(base))
	assert.Equal(t, 2, recs[1].CookiesCount)

	list, err := r.ListInstances(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 2, list[0].SessionCount)
	require.NotNil(t, list[0].LastSessionEnd)
	assert.True(t, list[0].LastSessionEnd.Equal(base.Add(time.Hour+10*time.Minute)))
}

func testRotationOrder(t *testing.T, r store.Repository) {
	ctx := context.Background()
	ids := make([]int64, 0, 4)
	for _, u := range []string{"https://1.test", "https://2.test", "https://3.test", "https://4.test"} {
		id, err := r.CreateInstance(ctx, u, store.Metadata{}, base)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	// close 3 first, then 1, then 2; 4 stays active
	closeSession(t, r, ids[2], base, base.Add(1*time.Minute), 0, store.SessionManual)
	closeSession(t, r, ids[0], base, base.Add(2*time.Minute), 0, store.SessionManual)
	closeSession(t, r, ids[1], base, base.Add(3*time.Minute), 0, store.SessionManual)

	got, err := r.ListClosedForRotation(ctx, 20)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []int64{ids[2], ids[0], ids[1]}, []int64{got[0].ID, got[1].ID, got[2].ID})

	got, err = r.ListClosedForRotation(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	// reopened instances drop out of the rotation list
	require.NoError(t, r.MarkOpened(ctx, ids[2], base.Add(time.Hour)))
	got, err = r.ListClosedForRotation(ctx, 20)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, ids[0], got[0].ID)

	all, err := r.ListInstances(ctx)
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, ids[3], all[3].ID, "never-closed instances list last")
}

func testUpdateInstance(t *testing.T, r store.Repository) {
	ctx := context.Background()
	id, err := r.CreateInstance(ctx, "https://u.test", store.Metadata{Name: "old", Description: "keep"}, base)
	require.NoError(t, err)

	name, prio := "new", 5
	require.NoError(t, r.UpdateInstance(ctx, id, store.InstancePatch{Name: &name, Priority: &prio}))
	require.NoError(t, r.UpdateInstanceURL(ctx, id, "https://u.test/next"))
	in, err := r.GetInstance(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "new", in.Name)
	assert.Equal(t, "keep", in.Description)
	assert.Equal(t, 5, in.Priority)
	assert.Equal(t, "https://u.test/next", in.URL)

	assert.ErrorIs(t, r.UpdateInstance(ctx, 999, store.InstancePatch{Name: &name}), store.ErrNotFound)
}

func testMarkOpenedAndInactive(t *testing.T, r store.Repository) {
	ctx := context.Background()
	a, err := r.CreateInstance(ctx, "https://a.test", store.Metadata{}, base)
	require.NoError(t, err)
	b, err := r.CreateInstance(ctx, "https://b.test", store.Metadata{}, base)
	require.NoError(t, err)

	active, err := r.ListActive(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 2)

	require.NoError(t, r.SetInactive(ctx, a))
	active, err = r.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, b, active[0].ID)

	require.NoError(t, r.MarkOpened(ctx, a, base.Add(time.Minute)))
	in, err := r.GetInstance(ctx, a)
	require.NoError(t, err)
	assert.True(t, in.Active)
	assert.Equal(t, 2, in.TotalOpenCount)
	assert.True(t, in.LastOpenedAt.Equal(base.Add(time.Minute)))
}

func testDeleteCascade(t *testing.T, r store.Repository) {
	ctx := context.Background()
	id, err := r.CreateInstance(ctx, "https://d.test", store.Metadata{}, base)
	require.NoError(t, err)
	closeSession(t, r, id, base, base.Add(time.Minute), 1, store.SessionManual)

	require.NoError(t, r.DeleteInstance(ctx, id))
	_, err = r.GetInstance(ctx, id)
	assert.ErrorIs(t, err, store.ErrNotFound)
	recs, err := r.ListSessions(ctx, id, 10)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func testStatisticsAndGroups(t *testing.T, r store.Repository) {
	ctx := context.Background()
	empty, err := r.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, store.Statistics{}, empty)

	a, _ := r.CreateInstance(ctx, "https://a.test", store.Metadata{GroupName: "news"}, base)
	b, _ := r.CreateInstance(ctx, "https://b.test", store.Metadata{GroupName: "news"}, base)
	_, _ = r.CreateInstance(ctx, "https://c.test", store.Metadata{GroupName: "shop"}, base)
	_, _ = r.CreateInstance(ctx, "https://d.test", store.Metadata{}, base)
	closeSession(t, r, a, base, base.Add(4*time.Minute), 0, store.SessionManual)
	closeSession(t, r, b, base, base.Add(6*time.Minute), 0, store.SessionManual)

	st, err := r.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, st.TotalInstances)
	assert.Equal(t, 2, st.ActiveInstances)
	assert.Equal(t, 4, st.TotalSessions)
	assert.Equal(t, 10, st.TotalRuntimeMinutes)
	assert.Equal(t, 2, st.TotalGroups)

	groups, err := r.GroupSummaries(ctx)
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, "news", groups[0].GroupName)
	assert.Equal(t, 2, groups[0].InstanceCount)
	assert.Equal(t, 10, groups[0].TotalRuntimeMinutes)
	require.NotNil(t, groups[0].LastActivity)
	assert.True(t, groups[0].LastActivity.Equal(base.Add(6*time.Minute)))
	assert.Equal(t, "shop", groups[1].GroupName)
	assert.Nil(t, groups[1].LastActivity)
}
