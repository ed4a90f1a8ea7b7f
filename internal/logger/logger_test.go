package logger

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lj "gopkg.in/natefinch/lumberjack.v2"
)

func TestFileWriter_Defaults(t *testing.T) {
	assert.Nil(t, (FileConfig{}).Writer(), "expected nil writer without path")

	w := FileConfig{Path: filepath.Join(t.TempDir(), "d.log")}.Writer()
	l, ok := w.(*lj.Logger)
	require.True(t, ok, "writer is not lumberjack.Logger: %T", w)
	assert.Equal(t, 10, l.MaxSize)
	assert.Equal(t, 3, l.MaxBackups)
	assert.Equal(t, 7, l.MaxAge)
	_ = w.Close()
}

func TestFileWriter_Overrides(t *testing.T) {
	w := FileConfig{Path: "x.log", MaxSizeMB: 1, MaxBackups: 9, MaxAgeDays: 11, Compress: true}.Writer()
	l, ok := w.(*lj.Logger)
	require.True(t, ok)
	assert.Equal(t, 1, l.MaxSize)
	assert.Equal(t, 9, l.MaxBackups)
	assert.Equal(t, 11, l.MaxAge)
	assert.True(t, l.Compress)
	_ = w.Close()
}

func TestNew_WritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.log")
	l, closer, err := New(Config{Level: "debug", Format: "json", File: FileConfig{Path: path}})
	require.NoError(t, err)
	l.Debug("session opened", "instance_id", 7)
	require.NoError(t, closer.Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"instance_id":7`)
}

func TestNew_UnknownFormat(t *testing.T) {
	_, _, err := New(Config{Format: "yaml"})
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in), "ParseLevel(%q)", in)
	}
}

func TestColorTextHandler(t *testing.T) {
	var buf bytes.Buffer
	h := NewColorTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}, false)
	slog.New(h).Warn("keep-alive failed", "instance_id", 3)
	out := buf.String()
	assert.Contains(t, out, "\033[33mWARN\033[0m", "expected yellow WARN prefix")
	assert.NotContains(t, out, "time=", "time attribute should be dropped")
	assert.Contains(t, out, "instance_id=3")
	assert.Contains(t, out, `msg="keep-alive failed"`)
}

func TestColorTextHandler_WithAttrs(t *testing.T) {
	var buf bytes.Buffer
	h := NewColorTextHandler(&buf, nil, true)
	slog.New(h).With("component", "rotation").Error("launch failed")
	out := buf.String()
	assert.Contains(t, out, "\033[31mERROR\033[0m  ")
	assert.Contains(t, out, "component=rotation")
	assert.Contains(t, out, "time=")
}
