package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/park285/cheese-arena/internal/account"
	"github.com/park285/cheese-arena/internal/domain"
	"github.com/park285/cheese-arena/internal/fanout"
	"github.com/park285/cheese-arena/internal/game"
	"github.com/park285/cheese-arena/internal/msgcat"
	"github.com/park285/cheese-arena/internal/presence"
	"github.com/park285/cheese-arena/internal/session"
	"github.com/park285/cheese-arena/internal/stats"
	"github.com/park285/cheese-arena/internal/store/memstore"
	"github.com/park285/cheese-arena/internal/wsconn"
	"github.com/park285/cheese-arena/pkg/chessdto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

var fastParams = account.Params{Memory: 8 * 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}

type harness struct {
	ts    *httptest.Server
	store *memstore.Store
	stats *stats.Updater
	hub   *fanout.Hub
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st := memstore.New()
	hub := fanout.New()
	accounts := account.New(st, account.WithParams(fastParams))
	up := stats.New()
	srv := New(Deps{
		Accounts: accounts,
		Sessions: session.New(st, session.Options{}),
		Games:    game.NewRegistry(st, game.WithPublisher(hub), game.WithNames(accounts.Name)),
		Presence: presence.New(hub),
		Hub:      hub,
		Stats:    up,
		Store:    st,
		Messages: msgcat.MustDefault(),
		WS:       wsconn.Options{InsecureSkipVerify: true, SendBuffer: 32},
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &harness{ts: ts, store: st, stats: up, hub: hub}
}

func (h *harness) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, h.ts.URL+path, rd)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := h.ts.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (h *harness) register(t *testing.T, name string) chessdto.AuthResponse {
	t.Helper()
	resp := h.do(t, http.MethodPost, "/register", "", chessdto.Credentials{Username: name, Password: "password123"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decodeBody[chessdto.AuthResponse](t, resp)
}

func (h *harness) createGame(t *testing.T, token, color string) string {
	t.Helper()
	resp := h.do(t, http.MethodPost, "/games", token, chessdto.CreateGameRequest{Color: color})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decodeBody[chessdto.CreateGameResponse](t, resp).GameID
}

func (h *harness) dial(t *testing.T, path, token string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(h.ts.URL, "http") + path
	c, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + token}},
	})
	require.NoError(t, err)
	t.Cleanup(func() { c.CloseNow() })
	return c
}

// frame is a union of every outbound event for decoding in tests.
type frame struct {
	Type        string            `json:"type"`
	Code        string            `json:"code"`
	Message     string            `json:"message"`
	MoveNumber  int               `json:"move_number"`
	UCI         string            `json:"uci"`
	MoveHistory []string          `json:"move_history"`
	GameStatus  string            `json:"game_status"`
	WinnerID    string            `json:"winner_id"`
	Color       string            `json:"color"`
	Username    string            `json:"username"`
	YourColor   string            `json:"your_color"`
	Users       []string          `json:"users"`
	Game        chessdto.GameView `json:"game"`
}

func read(t *testing.T, c *websocket.Conn) frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var f frame
	require.NoError(t, wsjson.Read(ctx, c, &f))
	return f
}

// readType skips frames until one of type typ arrives.
func readType(t *testing.T, c *websocket.Conn, typ string) frame {
	t.Helper()
	for i := 0; i < 20; i++ {
		if f := read(t, c); f.Type == typ {
			return f
		}
	}
	t.Fatalf("no %s frame", typ)
	return frame{}
}

func send(t *testing.T, c *websocket.Conn, in chessdto.Inbound) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, wsjson.Write(ctx, c, in))
}

func TestRegisterLoginLogout(t *testing.T) {
	h := newHarness(t)
	alice := h.register(t, "alice")
	assert.NotEmpty(t, alice.Token)
	assert.Equal(t, "alice", alice.Username)

	resp := h.do(t, http.MethodPost, "/register", "", chessdto.Credentials{Username: "alice", Password: "password123"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "username_taken", decodeBody[ApiError](t, resp).Code)

	resp = h.do(t, http.MethodPost, "/register", "", chessdto.Credentials{Username: "al", Password: "password123"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = h.do(t, http.MethodPost, "/login", "", chessdto.Credentials{Username: "alice", Password: "wrong-password"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = h.do(t, http.MethodPost, "/login", "", chessdto.Credentials{Username: "alice", Password: "password123"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var cookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == sessionCookie {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	login := decodeBody[chessdto.AuthResponse](t, resp)
	assert.Equal(t, login.Token, cookie.Value)

	// logging in alone does not put anyone on the roster
	resp = h.do(t, http.MethodGet, "/online", login.Token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decodeBody[chessdto.OnlineResponse](t, resp).Users)

	ws := h.dial(t, "/ws/presence", alice.Token)
	assert.Equal(t, []string{"alice"}, readType(t, ws, chessdto.TypeOnlineUsers).Users)
	resp = h.do(t, http.MethodGet, "/online", login.Token, nil)
	assert.Equal(t, []string{"alice"}, decodeBody[chessdto.OnlineResponse](t, resp).Users)

	resp = h.do(t, http.MethodPost, "/logout", login.Token, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Empty(t, readType(t, ws, chessdto.TypeOnlineUsers).Users)
	resp = h.do(t, http.MethodGet, "/online", login.Token, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = h.do(t, http.MethodGet, "/online", alice.Token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decodeBody[chessdto.OnlineResponse](t, resp).Users)

	// a new socket brings alice back while the first one is still open
	ws2 := h.dial(t, "/ws/presence", alice.Token)
	assert.Equal(t, []string{"alice"}, readType(t, ws2, chessdto.TypeOnlineUsers).Users)
	require.NoError(t, ws.Close(websocket.StatusNormalClosure, ""))
	require.Eventually(t, func() bool { return h.stats.Get(stats.WSConnections) == 1 }, 2*time.Second, 10*time.Millisecond)
	send(t, ws2, chessdto.Inbound{Type: chessdto.TypePing})
	assert.Equal(t, []string{"alice"}, readType(t, ws2, chessdto.TypeOnlineUsers).Users)
}

func TestGameEndpoints(t *testing.T) {
	h := newHarness(t)
	alice := h.register(t, "alice")

	resp := h.do(t, http.MethodPost, "/games", "", chessdto.CreateGameRequest{})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = h.do(t, http.MethodPost, "/games", alice.Token, chessdto.CreateGameRequest{Color: "purple"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	id := h.createGame(t, alice.Token, "white")
	resp = h.do(t, http.MethodGet, "/games/"+id, alice.Token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	view := decodeBody[chessdto.GameView](t, resp)
	assert.Equal(t, id, view.ID)
	assert.Equal(t, string(domain.StatusWaiting), view.Status)
	require.Len(t, view.Players, 1)
	assert.Equal(t, "alice", view.Players[0].Username)
	assert.Equal(t, "white", view.Players[0].Color)

	resp = h.do(t, http.MethodGet, "/games/nope", alice.Token, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "game_not_found", decodeBody[ApiError](t, resp).Code)

	assert.Equal(t, int64(1), h.stats.Get(stats.GamesCreated))
}

func TestBoardImage(t *testing.T) {
	h := newHarness(t)
	alice := h.register(t, "alice")
	id := h.createGame(t, alice.Token, "black")

	resp := h.do(t, http.MethodGet, "/games/"+id+"/board.png?size=200", alice.Token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	img, err := png.Decode(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, 200, img.Bounds().Dx())

	resp = h.do(t, http.MethodGet, "/games/"+id+"/board.png?size=big", alice.Token, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthAndVars(t *testing.T) {
	h := newHarness(t)
	resp := h.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", decodeBody[chessdto.HealthResponse](t, resp).Store)

	resp = h.do(t, http.MethodGet, "/debug/vars", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	vars := decodeBody[map[string]any](t, resp)
	assert.Contains(t, vars, stats.MovesCommitted)
}

func TestFoolsMateOverWebSocket(t *testing.T) {
	h := newHarness(t)
	alice := h.register(t, "alice")
	bob := h.register(t, "bob")
	id := h.createGame(t, alice.Token, "white")

	wa := h.dial(t, "/ws/games/"+id, alice.Token)
	st := readType(t, wa, chessdto.TypeState)
	assert.Equal(t, "white", st.YourColor)
	assert.Equal(t, "waiting", st.Game.Status)

	wb := h.dial(t, "/ws/games/"+id, bob.Token)
	st = readType(t, wb, chessdto.TypeState)
	assert.Equal(t, "black", st.YourColor)
	assert.Equal(t, "active", st.Game.Status)

	joined := readType(t, wa, chessdto.TypeJoined)
	assert.Equal(t, "black", joined.Color)
	assert.Equal(t, "bob", joined.Username)

	// out of turn: only the sender hears about it
	send(t, wb, chessdto.Inbound{Type: chessdto.TypeMove, Move: "e7e5"})
	e := readType(t, wb, chessdto.TypeError)
	assert.Equal(t, "not_your_turn", e.Code)

	moves := []struct {
		conn *websocket.Conn
		move string
	}{
		{wa, "f2f3"}, {wb, "e7e5"}, {wa, "g2g4"}, {wb, "Qh4#"},
	}
	var last frame
	for i, m := range moves {
		send(t, m.conn, chessdto.Inbound{Type: chessdto.TypeMove, Move: m.move})
		fa := readType(t, wa, chessdto.TypeMove)
		fb := readType(t, wb, chessdto.TypeMove)
		assert.Equal(t, i+1, fa.MoveNumber)
		assert.Equal(t, fa.MoveNumber, fb.MoveNumber)
		assert.Equal(t, fa.MoveHistory, fb.MoveHistory)
		last = fa
	}
	assert.Equal(t, "checkmate", last.GameStatus)
	assert.Equal(t, bob.UserID, last.WinnerID)
	assert.Equal(t, []string{"f3", "e5", "g4", "Qh4#"}, last.MoveHistory)

	send(t, wa, chessdto.Inbound{Type: chessdto.TypeMove, Move: "e2e4"})
	e = readType(t, wa, chessdto.TypeError)
	assert.Equal(t, "game_not_active", e.Code)

	resp := h.do(t, http.MethodGet, "/games/"+id, alice.Token, nil)
	view := decodeBody[chessdto.GameView](t, resp)
	assert.Equal(t, string(domain.StatusCompleted), view.Status)
	assert.Equal(t, string(domain.ResultCheckmate), view.Result)
	assert.Equal(t, bob.UserID, view.WinnerID)

	recs, err := h.store.Moves(context.Background(), id)
	require.NoError(t, err)
	assert.Len(t, recs, 4)

	resp = h.do(t, http.MethodGet, "/games/"+id+"/pgn", alice.Token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "[White \"alice\"]")
	assert.Contains(t, string(body), "2. g4 Qh4# 0-1")

	assert.Equal(t, int64(4), h.stats.Get(stats.MovesCommitted))
	assert.Equal(t, int64(2), h.stats.Get(stats.MovesRejected))
}

func TestThirdPlayerIsTurnedAway(t *testing.T) {
	h := newHarness(t)
	alice := h.register(t, "alice")
	bob := h.register(t, "bob")
	carol := h.register(t, "carol")
	id := h.createGame(t, alice.Token, "random")

	h.dial(t, "/ws/games/"+id, alice.Token)
	wb := h.dial(t, "/ws/games/"+id, bob.Token)
	readType(t, wb, chessdto.TypeState)

	wc := h.dial(t, "/ws/games/"+id, carol.Token)
	f := read(t, wc)
	assert.Equal(t, chessdto.TypeError, f.Type)
	assert.Equal(t, "game_full", f.Code)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err := wc.Read(ctx)
	assert.Equal(t, websocket.StatusPolicyViolation, websocket.CloseStatus(err))
}

func TestUnknownGameRejectedBeforeUpgrade(t *testing.T) {
	h := newHarness(t)
	alice := h.register(t, "alice")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(h.ts.URL, "http") + "/ws/games/missing"
	_, resp, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + alice.Token}},
	})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	_, resp, err = websocket.Dial(ctx, url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestResignOverWebSocket(t *testing.T) {
	h := newHarness(t)
	alice := h.register(t, "alice")
	bob := h.register(t, "bob")
	id := h.createGame(t, alice.Token, "white")

	wa := h.dial(t, "/ws/games/"+id, alice.Token)
	readType(t, wa, chessdto.TypeState)
	wb := h.dial(t, "/ws/games/"+id, bob.Token)
	readType(t, wb, chessdto.TypeState)

	send(t, wa, chessdto.Inbound{Type: chessdto.TypeResign})
	f := readType(t, wb, chessdto.TypeResigned)
	assert.Equal(t, bob.UserID, f.WinnerID)
	assert.Equal(t, "resignation", f.GameStatus)
}

func TestPresenceWebSocket(t *testing.T) {
	h := newHarness(t)
	alice := h.register(t, "alice")

	wa := h.dial(t, "/ws/presence", alice.Token)
	f := readType(t, wa, chessdto.TypeOnlineUsers)
	assert.Equal(t, []string{"alice"}, f.Users)

	bob := h.register(t, "bob")
	h.dial(t, "/ws/presence", bob.Token)
	f = readType(t, wa, chessdto.TypeOnlineUsers)
	assert.Equal(t, []string{"alice", "bob"}, f.Users)

	send(t, wa, chessdto.Inbound{Type: chessdto.TypePing, UserID: "someone-else"})
	f = readType(t, wa, chessdto.TypeOnlineUsers)
	assert.Equal(t, []string{"alice", "bob"}, f.Users)

	send(t, wa, chessdto.Inbound{Type: "bogus"})
	f = readType(t, wa, chessdto.TypeError)
	assert.Equal(t, "bad_request", f.Code)
}

func TestDisconnectCleansUp(t *testing.T) {
	h := newHarness(t)
	alice := h.register(t, "alice")
	bob := h.register(t, "bob")
	id := h.createGame(t, alice.Token, "white")

	wb := h.dial(t, "/ws/presence", bob.Token)
	assert.Equal(t, []string{"bob"}, readType(t, wb, chessdto.TypeOnlineUsers).Users)

	wg := h.dial(t, "/ws/games/"+id, alice.Token)
	readType(t, wg, chessdto.TypeState)
	assert.Equal(t, []string{"alice", "bob"}, readType(t, wb, chessdto.TypeOnlineUsers).Users)
	wp := h.dial(t, "/ws/presence", alice.Token)
	readType(t, wp, chessdto.TypeOnlineUsers)
	assert.Equal(t, 1, h.hub.Subscribers(game.Topic(id)))

	require.NoError(t, wg.Close(websocket.StatusNormalClosure, ""))
	require.Eventually(t, func() bool { return h.hub.Subscribers(game.Topic(id)) == 0 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, wp.Close(websocket.StatusNormalClosure, ""))
	// the next roster bob sees is the one without alice
	assert.Equal(t, []string{"bob"}, readType(t, wb, chessdto.TypeOnlineUsers).Users)

	resp := h.do(t, http.MethodGet, "/online", bob.Token, nil)
	assert.Equal(t, []string{"bob"}, decodeBody[chessdto.OnlineResponse](t, resp).Users)
}

func TestToAPIError(t *testing.T) {
	cat := msgcat.MustDefault()
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{game.ErrGameNotFound, http.StatusNotFound, "game_not_found"},
		{game.ErrGameFull, http.StatusConflict, "game_full"},
		{game.ErrNotYourTurn, http.StatusUnprocessableEntity, "not_your_turn"},
		{game.ErrIllegalMove.WithMessage("pinned"), http.StatusUnprocessableEntity, "illegal_move"},
		{game.ErrMalformedMove, http.StatusBadRequest, "malformed_move"},
		{game.ErrStoreUnavailable, http.StatusServiceUnavailable, "store_unavailable"},
		{account.ErrUsernameTaken, http.StatusConflict, "username_taken"},
		{account.ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials"},
		{errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			ae := toAPIError(tc.err, cat, msgData{GameID: "g1", Move: "e2e5"})
			assert.Equal(t, tc.status, ae.StatusCode)
			assert.Equal(t, tc.code, ae.Code)
			assert.NotEmpty(t, ae.Message)
		})
	}

	ae := toAPIError(game.ErrIllegalMove.WithMessage("pinned"), cat, msgData{Move: "e2e5"})
	assert.Equal(t, "Illegal move e2e5: pinned", ae.Message)
	assert.True(t, toAPIError(game.ErrStoreUnavailable, cat, msgData{}).Retryable)
}
