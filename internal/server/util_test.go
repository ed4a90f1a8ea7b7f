package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestSanitizeBase(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"/", ""},
		{"api", "/api"},
		{"/api", "/api"},
		{"/api/", "/api"},
		{" api ", "/api"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, sanitizeBase(c.in), "sanitizeBase(%q)", c.in)
	}
}

func TestParseID(t *testing.T) {
	valid := map[string]int64{"1": 1, " 42 ": 42, "9007199254740993": 9007199254740993}
	for in, want := range valid {
		got, err := parseID(in)
		if assert.NoError(t, err, "parseID(%q)", in) {
			assert.Equal(t, want, got, "parseID(%q)", in)
		}
	}
	for _, in := range []string{"", "0", "-3", "abc", "1.5", "1e3"} {
		_, err := parseID(in)
		assert.Error(t, err, "parseID(%q)", in)
	}
}

func TestWriteJSON(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	writeJSON(c, http.StatusTeapot, okResp{OK: true, Message: "hi"})
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "{\"ok\":true,\"message\":\"hi\"}\n", rec.Body.String())
}
