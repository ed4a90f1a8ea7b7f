package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type wsEvent struct {
	Type        string          `json:"type"`
	Data        json.RawMessage `json:"data"`
	InstanceID  int64           `json:"instanceId"`
	CookieCount int             `json:"cookieCount"`
}

func readEvent(t *testing.T, conn *websocket.Conn) wsEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	var e wsEvent
	require.NoError(t, json.Unmarshal(msg, &e), string(msg))
	return e
}

func TestWebSocketObserver(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m, _ := newManager(t)
	srv := httptest.NewServer(NewRouter(m, "/api").Handler())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	// current status on connect
	e := readEvent(t, conn)
	assert.Equal(t, "status", e.Type)
	var st struct {
		IsRunning        bool `json:"isRunning"`
		ClientsConnected int  `json:"clientsConnected"`
	}
	require.NoError(t, json.Unmarshal(e.Data, &st))
	assert.False(t, st.IsRunning)
	assert.Equal(t, 1, st.ClientsConnected)

	resp, err := http.Post(srv.URL+"/api/sessions", "application/json", strings.NewReader(`{"url":"https://example.com"}`))
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	e = readEvent(t, conn)
	assert.Equal(t, "status", e.Type)
	require.NoError(t, json.Unmarshal(e.Data, &st))
	assert.True(t, st.IsRunning)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return m.Broadcaster().Count() == 0 },
		2*time.Second, 10*time.Millisecond, "observer not removed after client left")
}

func TestWebSocketClosedOnShutdown(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m, _ := newManager(t)
	srv := httptest.NewServer(NewRouter(m, "").Handler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	_ = readEvent(t, conn)

	require.NoError(t, m.Shutdown(context.Background()))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected error: %v", err)
}

func TestWebSocketRejectsPlainGET(t *testing.T) {
	h, _, _ := setupRouter(t, "/api")
	rec := doReq(t, h, http.MethodGet, "/api/ws", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
