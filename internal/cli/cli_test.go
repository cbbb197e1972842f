package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/park285/cheese-arena/internal/app"
	"github.com/park285/cheese-arena/internal/client"
	"github.com/park285/cheese-arena/internal/config"
	"github.com/park285/cheese-arena/pkg/chessdto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T) string {
	t.Helper()
	cfg := &config.AppConfig{
		HTTPAddr:              "127.0.0.1:0",
		StoreDriver:           config.DriverMemory,
		SessionTTL:            time.Hour,
		SessionCacheSize:      16,
		SessionCacheTTL:       time.Minute,
		PresenceIdleTimeout:   time.Minute,
		PresenceSweepInterval: time.Second,
		WSSendBuffer:          16,
	}
	a, err := app.New(context.Background(), cfg, nil)
	require.NoError(t, err)
	ts := httptest.NewServer(a.HTTP.Handler())
	t.Cleanup(func() {
		ts.Close()
		_ = a.Close()
	})
	return ts.URL
}

type result struct {
	out string
	err error
}

func run(t *testing.T, ctx context.Context, stdin string, args ...string) result {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return result{out: out.String(), err: err}
}

func TestRegisterCreateShow(t *testing.T) {
	ctx := context.Background()
	url := newServer(t)

	r := run(t, ctx, "", "--server", url, "--format", "json", "register", "alice", "--password", "password123")
	require.NoError(t, r.err)
	var auth chessdto.AuthResponse
	require.NoError(t, json.Unmarshal([]byte(r.out), &auth))
	require.NotEmpty(t, auth.Token)

	r = run(t, ctx, "", "--server", url, "--token", auth.Token, "--format", "json", "create", "--color", "black")
	require.NoError(t, r.err)
	var created chessdto.CreateGameResponse
	require.NoError(t, json.Unmarshal([]byte(r.out), &created))
	assert.Equal(t, "black", created.Color)

	r = run(t, ctx, "", "--server", url, "--token", auth.Token, "show", created.GameID)
	require.NoError(t, r.err)
	assert.Contains(t, r.out, "status   waiting")
	assert.Contains(t, r.out, "black    alice")

	r = run(t, ctx, "", "--server", url, "--token", auth.Token, "--format", "json", "online")
	require.NoError(t, r.err)
	assert.JSONEq(t, `{"users":[]}`, r.out)

	dir := t.TempDir()
	out := filepath.Join(dir, "board.png")
	r = run(t, ctx, "", "--server", url, "--token", auth.Token, "board", created.GameID, "-o", out, "--size", "150")
	require.NoError(t, r.err)
	info, err := os.Stat(out)
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	r = run(t, ctx, "", "--server", url, "--token", auth.Token, "logout")
	require.NoError(t, r.err)
	r = run(t, ctx, "", "--server", url, "--token", auth.Token, "online")
	assert.Error(t, r.err)
}

func TestInvalidFormat(t *testing.T) {
	r := run(t, context.Background(), "", "--format", "yaml", "health")
	assert.ErrorContains(t, r.err, "invalid format")
}

func TestPasswordRequired(t *testing.T) {
	t.Setenv("CHESS_PASSWORD", "")
	r := run(t, context.Background(), "", "--server", "http://127.0.0.1:1", "login", "alice")
	assert.ErrorContains(t, r.err, "password")
}

func TestPlayResigns(t *testing.T) {
	ctx := context.Background()
	url := newServer(t)

	alice := client.New(url)
	_, err := alice.Register(ctx, "alice", "password123")
	require.NoError(t, err)
	bob := client.New(url)
	_, err = bob.Register(ctx, "bob", "password123")
	require.NoError(t, err)
	created, err := alice.CreateGame(ctx, "white")
	require.NoError(t, err)

	// bob takes the second seat first
	sb := bob.GameSocket(created.GameID)
	seated := make(chan struct{}, 1)
	sb.OnMessage(func(f client.Frame) {
		if f.Type == chessdto.TypeState {
			seated <- struct{}{}
		}
	})
	require.NoError(t, sb.Connect(ctx))
	defer sb.Close(ctx)
	<-seated

	tctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	r := run(t, tctx, "e2e4\nresign\n", "--server", url, "--token", alice.Token(), "play", created.GameID)
	require.NoError(t, r.err)
	assert.Contains(t, r.out, "attached to "+created.GameID+" as white")
	assert.Contains(t, r.out, "resigned, winner")

	view, err := alice.Game(ctx, created.GameID)
	require.NoError(t, err)
	assert.Equal(t, "resignation", view.Result)
}

func TestWatchStopsWithContext(t *testing.T) {
	url := newServer(t)
	alice := client.New(url)
	_, err := alice.Register(context.Background(), "alice", "password123")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	r := run(t, ctx, "", "--server", url, "--token", alice.Token(), "watch", "--ping", "100ms")
	require.NoError(t, r.err)
	assert.Contains(t, r.out, "online: alice")
}

func TestSchema(t *testing.T) {
	r := run(t, context.Background(), "", "schema")
	require.NoError(t, r.err)
	assert.Contains(t, r.out, "move\n")
	assert.Contains(t, r.out, "inbound\n")

	r = run(t, context.Background(), "", "schema", "move")
	require.NoError(t, r.err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(r.out), &doc))
	props, ok := doc["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "move_number")
	assert.Contains(t, props, "game_status")

	r = run(t, context.Background(), "", "schema", "nope")
	assert.Error(t, r.err)
}
