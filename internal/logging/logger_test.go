package logging

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistoryRecordsComponentLogs(t *testing.T) {
	l, err := New(&Config{Level: "debug", MaxHistory: 3})
	require.NoError(t, err)
	defer l.Close()

	log := l.Component("playback")
	log.Info().Str("avatar", "ada").Msg("Clip started")
	log.Warn().Err(errors.New("boom")).Msg("Load failed")

	h := l.History(2)
	require.Len(t, h, 2)
	assert.Equal(t, "playback", h[0].Component)
	assert.Equal(t, "ada", h[0].Avatar)
	assert.Equal(t, "Clip started", h[0].Message)
	assert.Equal(t, "warn", h[1].Level)
	assert.Equal(t, "boom", h[1].Error)

	for i := 0; i < 5; i++ {
		log.Debug().Msg("tick")
	}
	assert.Len(t, l.History(0), 3)
}

func TestLevelFilters(t *testing.T) {
	l, err := New(&Config{Level: "warn"})
	require.NoError(t, err)

	x1 := l.Component("x")
	x1.Info().Msg("quiet")
	x2 := l.Component("x")
	x2.Error().Msg("loud")

	h := l.History(0)
	require.Len(t, h, 1)
	assert.Equal(t, "loud", h[0].Message)

	_, err = New(&Config{Level: "chatty"})
	assert.Error(t, err)
}

func TestFileOutput(t *testing.T) {
	dir := t.TempDir()
	l, err := New(&Config{Dir: dir, File: true, Level: "info"})
	require.NoError(t, err)

	eng := l.Component("engine")
	eng.Info().Msg("Avatar added")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(l.LogPath())
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"Avatar added"`)
	assert.Contains(t, string(data), `"app":"cortexmotion"`)
}

func TestHistoryHandler(t *testing.T) {
	l, err := New(&Config{Level: "info"})
	require.NoError(t, err)
	c1 := l.Component("control")
	c1.Info().Msg("one")
	c2 := l.Component("control")
	c2.Info().Msg("two")

	rec := httptest.NewRecorder()
	l.HistoryHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/logs?limit=1", nil))

	var got []LogEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "two", got[0].Message)

	rec = httptest.NewRecorder()
	l.HistoryHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/logs?limit=x", nil))
	assert.Equal(t, 400, rec.Code)
}

func TestHelpers(t *testing.T) {
	l, err := New(&Config{Level: "debug"})
	require.NoError(t, err)

	l.Info("engine", "Avatar added", map[string]any{"avatar": "ada"})
	l.Error("control", "Write failed", errors.New("broken pipe"), nil)

	h := l.History(2)
	require.Len(t, h, 2)
	assert.Equal(t, LogEntry{Timestamp: h[0].Timestamp, Level: "info", Component: "engine", Avatar: "ada", Message: "Avatar added"}, h[0])
	assert.Equal(t, "error", h[1].Level)
	assert.Equal(t, "broken pipe", h[1].Error)
}
