package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("chatty"))
}

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	log := New("info", "json", &buf)
	log.Debug("hidden")
	Timed(log, "rebuild finished", time.Now(), "rows", 3)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "rebuild finished", rec["msg"])
	assert.EqualValues(t, 3, rec["rows"])
	assert.Contains(t, rec, "duration")
}

func TestNew_Text(t *testing.T) {
	var buf bytes.Buffer
	log := New("debug", "text", &buf)
	log.Debug("walking", "root", 7)
	assert.Contains(t, buf.String(), "walking")
}
