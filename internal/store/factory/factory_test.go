package factory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/sessionkeeper/internal/store"
)

func TestFactoryDSNSelection(t *testing.T) {
	_, err := NewFromDSN("")
	assert.Error(t, err, "empty DSN")
	_, err = NewFromDSN("mysql://u@h/db")
	assert.Error(t, err, "unsupported scheme")

	// sql.Open does not connect, so a postgres DSN resolves without a server
	pg, err := NewFromDSN("postgres://user@localhost/db")
	require.NoError(t, err)
	s, ok := pg.(*store.SQL)
	require.True(t, ok, "got %T", pg)
	assert.Equal(t, "postgres", s.Dialect())
	_ = pg.Close()

	s1, err := NewFromDSN("sqlite://:memory:")
	require.NoError(t, err)
	s, ok = s1.(*store.SQL)
	require.True(t, ok, "got %T", s1)
	assert.Equal(t, "sqlite", s.Dialect())
	_ = s1.Close()

	s2, err := NewFromDSN(":memory:")
	require.NoError(t, err)
	require.NotNil(t, s2)
	_ = s2.Close()
}
