package stats

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	u := New()
	u.Incr(WSConnections)
	u.Incr(WSConnections)
	u.Decr(WSConnections)
	u.Add(FanoutDelivered, 5)
	u.Incr("custom")

	assert.EqualValues(t, 1, u.Get(WSConnections))
	assert.EqualValues(t, 5, u.Get(FanoutDelivered))
	assert.EqualValues(t, 1, u.Get("custom"))
	assert.EqualValues(t, 0, u.Get("uptime_ms"))
}

func TestHandler(t *testing.T) {
	u := New()
	u.Incr(GamesCreated)
	u.RegisterFunc("games_loaded", func() any { return 3 })

	rr := httptest.NewRecorder()
	u.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/debug/vars", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json; charset=utf-8", rr.Header().Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.EqualValues(t, 1, body[GamesCreated])
	assert.EqualValues(t, 3, body["games_loaded"])
	assert.Contains(t, body, "uptime_ms")
}
