package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/park285/cheese-arena/internal/config"
	"github.com/park285/cheese-arena/internal/stats"
	"github.com/park285/cheese-arena/pkg/chessdto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(driver string) *config.AppConfig {
	return &config.AppConfig{
		HTTPAddr:              "127.0.0.1:0",
		StoreDriver:           driver,
		SQLitePath:            ":memory:",
		SessionTTL:            time.Hour,
		SessionCacheSize:      16,
		SessionCacheTTL:       time.Minute,
		PresenceIdleTimeout:   time.Minute,
		PresenceSweepInterval: time.Second,
		WSSendBuffer:          8,
	}
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	for _, driver := range []string{config.DriverMemory, config.DriverSQLite, config.DriverRedis} {
		t.Run(driver, func(t *testing.T) {
			cfg := testConfig(driver)
			cfg.RedisURL = "redis://" + mr.Addr() + "/0"
			st, err := OpenStore(ctx, cfg)
			require.NoError(t, err)
			defer st.Close()
			assert.NoError(t, st.Ping(ctx))
		})
	}

	_, err := OpenStore(ctx, testConfig("mongo"))
	assert.Error(t, err)
}

func post(t *testing.T, url, token string, body any) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(b))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestWiredOverRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(config.DriverRedis)
	cfg.RedisURL = "redis://" + mr.Addr()

	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	ts := httptest.NewServer(a.HTTP.Handler())
	defer ts.Close()

	resp := post(t, ts.URL+"/register", "", chessdto.Credentials{Username: "alice", Password: "password123"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var auth chessdto.AuthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&auth))

	resp = post(t, ts.URL+"/games", auth.Token, chessdto.CreateGameRequest{Color: "white"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created chessdto.CreateGameResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))

	g, err := a.Store.Game(context.Background(), created.GameID)
	require.NoError(t, err)
	assert.Equal(t, auth.UserID, g.CreatorID)
	assert.Equal(t, 1, a.Games.Loaded())
	assert.Equal(t, int64(1), a.Stats.Get(stats.GamesCreated))
	assert.False(t, a.Presence.Online(auth.UserID))
}

func TestRunStopsOnCancel(t *testing.T) {
	a, err := New(context.Background(), testConfig(config.DriverMemory), nil)
	require.NoError(t, err)
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestNewRejectsBadMessagesDir(t *testing.T) {
	cfg := testConfig(config.DriverMemory)
	cfg.MessagesDir = t.TempDir() + "/missing"
	_, err := New(context.Background(), cfg, nil)
	assert.Error(t, err)
}
