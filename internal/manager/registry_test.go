package manager

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryPutGetRemove(t *testing.T) {
	r := newRegistry()
	s := newSession(1, "https://a.example", nil, time.Now())

	require.NoError(t, r.Put(1, s))
	assert.ErrorIs(t, r.Put(1, s), ErrAlreadyExists)

	got, err := r.Get(1)
	require.NoError(t, err)
	assert.Same(t, s, got)

	_, err = r.Get(2)
	assert.ErrorIs(t, err, ErrNotFound)

	removed, ok := r.Remove(1)
	assert.True(t, ok)
	assert.Same(t, s, removed)

	removed, ok = r.Remove(1)
	assert.False(t, ok)
	assert.Nil(t, removed)
	assert.Equal(t, 0, r.Size())
}

func TestRegistryRemoveSessionOnlyRemovesSameEntry(t *testing.T) {
	r := newRegistry()
	old := newSession(1, "https://a.example", nil, time.Now())
	cur := newSession(1, "https://a.example", nil, time.Now())
	require.NoError(t, r.Put(1, cur))

	assert.False(t, r.RemoveSession(old))
	assert.True(t, r.Has(1))
	assert.True(t, r.RemoveSession(cur))
	assert.False(t, r.Has(1))
}

func TestRegistryListSortedSnapshot(t *testing.T) {
	r := newRegistry()
	for _, id := range []int64{3, 1, 2} {
		require.NoError(t, r.Put(id, newSession(id, "u", nil, time.Now())))
	}
	list := r.List()
	require.Len(t, list, 3)
	assert.Equal(t, []int64{1, 2, 3}, []int64{list[0].ID, list[1].ID, list[2].ID})

	// the snapshot is unaffected by later mutations
	r.Remove(2)
	assert.Len(t, list, 3)
	assert.Equal(t, 2, r.Size())
}

func TestRegistryConcurrentPutSameID(t *testing.T) {
	r := newRegistry()
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.Put(7, newSession(7, "u", nil, time.Now())) == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, r.Size())
}
