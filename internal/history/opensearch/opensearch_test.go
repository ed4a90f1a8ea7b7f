package opensearch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/sessionkeeper/internal/history"
	"github.com/loykin/sessionkeeper/internal/store"
)

func TestOpenSearchSink_Send(t *testing.T) {
	var (
		body   []byte
		path   string
		method string
		ctype  string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		path = r.URL.Path
		ctype = r.Header.Get("Content-Type")
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"result":"created"}`))
	}))
	defer server.Close()

	sink := New(server.URL+"/", "sessions")
	now := time.Now().UTC()
	err := sink.Send(context.Background(), history.Event{
		Type:       history.EventClosed,
		OccurredAt: now,
		InstanceID: 9,
		URL:        "https://example.com",
		Session:    &store.SessionRecord{InstanceID: 9, RuntimeMinutes: 3, CookiesCount: 2, SessionType: store.SessionManual},
	})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, method)
	assert.Equal(t, "/sessions/_doc", path)
	assert.Equal(t, "application/json", ctype)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(body, &doc))
	assert.Equal(t, "closed", doc["type"])
	assert.Equal(t, float64(9), doc["instance_id"])
	sess, ok := doc["session"].(map[string]any)
	require.True(t, ok, "session payload missing: %v", doc)
	assert.Equal(t, float64(3), sess["runtime_minutes"])
	assert.Equal(t, "manual", sess["session_type"])
}

func TestOpenSearchSink_SendError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	sink := New(server.URL, "")
	err := sink.Send(context.Background(), history.Event{Type: history.EventOpened, InstanceID: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
}

func TestOpenSearchSink_Unreachable(t *testing.T) {
	sink := New("http://127.0.0.1:1", "idx")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.Error(t, sink.Send(ctx, history.Event{Type: history.EventOpened}))
}

func TestOpenSearchSink_Defaults(t *testing.T) {
	s := New("http://localhost:9200", "")
	assert.Equal(t, DefaultIndex, s.index)
	assert.Equal(t, "opensearch", s.Name())
}
