package sessionkeeper

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	cfg "github.com/loykin/sessionkeeper/internal/config"
)

type cfgTLS = cfg.TLSConfig

func itoa(id int64) string { return strconv.FormatInt(id, 10) }

func httptestGet(t *testing.T, h http.Handler, path string) *http.Response {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec.Result()
}
