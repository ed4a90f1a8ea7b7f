package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRebind(t *testing.T) {
	q := `UPDATE t SET a = ?, b = ? WHERE id = ?;`
	assert.Equal(t, q, SQLite.Rebind(q))
	assert.Equal(t, `UPDATE t SET a = $1, b = $2 WHERE id = $3;`, Postgres.Rebind(q))
}

func TestNullTimeScan(t *testing.T) {
	want := time.Date(2026, 3, 1, 9, 30, 15, 500000000, time.UTC)
	inputs := []any{
		want,
		want.String(),
		"2026-03-01 09:30:15.5+00:00",
		[]byte("2026-03-01T09:30:15.5Z"),
	}
	for _, in := range inputs {
		var n nullTime
		require.NoError(t, n.Scan(in), "scan %v", in)
		assert.True(t, n.Valid, "scan %v", in)
		assert.True(t, n.Time.Equal(want), "scan %v: got %v", in, n.Time)
	}

	var n nullTime
	require.NoError(t, n.Scan(nil))
	assert.False(t, n.Valid)
	assert.Nil(t, n.ptr())
	assert.Error(t, n.Scan(42))
}
