package factory

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/sessionkeeper/internal/history"
	"github.com/loykin/sessionkeeper/internal/history/opensearch"
	"github.com/loykin/sessionkeeper/internal/history/sqlite"
)

func closeSink(s history.Sink) {
	if c, ok := s.(interface{ Close() error }); ok {
		_ = c.Close()
	}
}

func TestFactoryDSNTypes(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name        string
		dsn         string
		expectError bool
		want        string
	}{
		{"Empty DSN", "", true, ""},
		{"Invalid scheme", "invalid://test", true, ""},
		{"OpenSearch DSN", "opensearch://localhost:9200/sessions", false, "opensearch"},
		{"OpenSearch without host", "opensearch:///idx", true, ""},
		{"SQLite file DSN", "sqlite://" + filepath.Join(dir, "a.db"), false, "sqlite"},
		{"SQLite memory DSN", "sqlite://:memory:", false, "sqlite"},
		{"Bare path", filepath.Join(dir, "b.db"), false, "sqlite"},
		{"ClickHouse bad flag", "clickhouse://localhost:9000?create_table=maybe", true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink, err := NewSinkFromDSN(tt.dsn)
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			defer closeSink(sink)
			assert.Equal(t, tt.want, history.SinkName(sink))
		})
	}
}

func TestParseClickHouseDSN(t *testing.T) {
	opts, err := parseClickHouseDSN("clickhouse://bob:secret@ch:9440/analytics?table=sessions&create_table=true")
	require.NoError(t, err)
	assert.Equal(t, "ch:9440", opts.Addr)
	assert.Equal(t, "analytics", opts.Database)
	assert.Equal(t, "sessions", opts.Table)
	assert.Equal(t, "bob", opts.Username)
	assert.Equal(t, "secret", opts.Password)
	assert.True(t, opts.CreateTable)

	opts, err = parseClickHouseDSN("clickhouse://")
	require.NoError(t, err)
	assert.Equal(t, "localhost:9000", opts.Addr)
	assert.Empty(t, opts.Table)
}

func TestParseOpenSearchDSN(t *testing.T) {
	base, index, err := parseOpenSearchDSN("opensearch://search:9200/events")
	require.NoError(t, err)
	assert.Equal(t, "http://search:9200", base)
	assert.Equal(t, "events", index)

	base, index, err = parseOpenSearchDSN("elasticsearch://search:9200?tls=true")
	require.NoError(t, err)
	assert.Equal(t, "https://search:9200", base)
	assert.Equal(t, opensearch.DefaultIndex, index)
}

func TestNewSinks(t *testing.T) {
	dir := t.TempDir()
	sinks, err := NewSinks([]string{filepath.Join(dir, "a.db"), "opensearch://localhost:9200/x"})
	require.NoError(t, err)
	require.Len(t, sinks, 2)
	_, ok := sinks[0].(*sqlite.Sink)
	assert.True(t, ok)
	for _, s := range sinks {
		closeSink(s)
	}

	_, err = NewSinks([]string{filepath.Join(dir, "c.db"), "bogus://"})
	assert.Error(t, err)
}
