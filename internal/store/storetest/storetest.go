// Package storetest holds the behavioural suite every store backend must pass.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/park285/cheese-arena/internal/domain"
	"github.com/park285/cheese-arena/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Opener returns a fresh, empty store for one subtest.
type Opener func(t *testing.T) store.Store

func Run(t *testing.T, open Opener) {
	t.Run("Users", func(t *testing.T) { testUsers(t, open(t)) })
	t.Run("GameLifecycle", func(t *testing.T) { testGameLifecycle(t, open(t)) })
	t.Run("JoinConflicts", func(t *testing.T) { testJoinConflicts(t, open(t)) })
	t.Run("MoveNumbering", func(t *testing.T) { testMoveNumbering(t, open(t)) })
	t.Run("ConcurrentAppend", func(t *testing.T) { testConcurrentAppend(t, open(t)) })
	t.Run("Resignation", func(t *testing.T) { testResignation(t, open(t)) })
	t.Run("Sessions", func(t *testing.T) { testSessions(t, open(t)) })
}

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func seedUsers(t *testing.T, s store.Store, ids ...string) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, s.CreateUser(context.Background(), domain.User{
			ID: id, Username: "name-" + id, CredentialHash: "h", Salt: "s", CreatedAt: now,
		}))
	}
}

func seedGame(t *testing.T, s store.Store, id, creator string, color domain.Color) {
	t.Helper()
	g := domain.Game{ID: id, CreatorID: creator, CreatorColor: color, Status: domain.StatusWaiting, CreatedAt: now}
	require.NoError(t, s.CreateGame(context.Background(), g, domain.PlayerSlot{GameID: id, UserID: creator, Color: color, JoinedAt: now}))
}

func move(gameID string, n int, mover, uci string) domain.MoveRecord {
	return domain.MoveRecord{GameID: gameID, Number: n, MoverID: mover, UCI: uci, SAN: uci, FENAfter: "fen", CreatedAt: now}
}

func testUsers(t *testing.T, s store.Store) {
	ctx := context.Background()
	seedUsers(t, s, "u1")

	u, err := s.UserByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "name-u1", u.Username)

	u, err = s.UserByName(ctx, "name-u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", u.ID)

	err = s.CreateUser(ctx, domain.User{ID: "u2", Username: "name-u1", CredentialHash: "h", Salt: "s", CreatedAt: now})
	assert.ErrorIs(t, err, store.ErrConflict)

	_, err = s.UserByName(ctx, "nobody")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testGameLifecycle(t *testing.T, s store.Store) {
	ctx := context.Background()
	seedUsers(t, s, "u1", "u2")
	seedGame(t, s, "g1", "u1", domain.White)

	g, err := s.Game(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusWaiting, g.Status)
	assert.Equal(t, domain.White, g.CreatorColor)
	assert.Empty(t, g.JoinerID)

	dup := domain.Game{ID: "g1", CreatorID: "u2", CreatorColor: domain.Black, Status: domain.StatusWaiting, CreatedAt: now}
	assert.ErrorIs(t, s.CreateGame(ctx, dup, domain.PlayerSlot{GameID: "g1", UserID: "u2", Color: domain.Black, JoinedAt: now}), store.ErrConflict)

	require.NoError(t, s.JoinGame(ctx, "g1", domain.PlayerSlot{GameID: "g1", UserID: "u2", Color: domain.Black, JoinedAt: now}))
	g, err = s.Game(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, g.Status)
	assert.Equal(t, "u2", g.JoinerID)
	assert.Equal(t, "u1", g.CreatorID)

	players, err := s.Players(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, players, 2)
	colors := map[string]domain.Color{}
	for _, p := range players {
		colors[p.UserID] = p.Color
	}
	assert.Equal(t, map[string]domain.Color{"u1": domain.White, "u2": domain.Black}, colors)

	require.NoError(t, s.AppendMove(ctx, move("g1", 1, "u1", "f2f3"), nil))
	require.NoError(t, s.AppendMove(ctx, move("g1", 2, "u2", "e7e5"), nil))
	require.NoError(t, s.AppendMove(ctx, move("g1", 3, "u1", "g2g4"), nil))
	mate := move("g1", 4, "u2", "d8h4")
	mate.IsCheck, mate.IsCheckmate = true, true
	require.NoError(t, s.AppendMove(ctx, mate, &domain.Completion{Result: domain.ResultCheckmate, WinnerID: "u2", At: now.Add(time.Minute)}))

	g, err = s.Game(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, g.Status)
	assert.Equal(t, domain.ResultCheckmate, g.Result)
	assert.Equal(t, "u2", g.WinnerID)
	require.NotNil(t, g.CompletedAt)

	moves, err := s.Moves(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, moves, 4)
	for i, m := range moves {
		assert.Equal(t, i+1, m.Number)
	}
	assert.True(t, moves[3].IsCheckmate)
	assert.Equal(t, "d8h4", moves[3].UCI)

	_, err = s.Game(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testJoinConflicts(t *testing.T, s store.Store) {
	ctx := context.Background()
	seedUsers(t, s, "u1", "u2", "u3")
	seedGame(t, s, "g2", "u1", domain.Black)

	assert.ErrorIs(t, s.JoinGame(ctx, "g2", domain.PlayerSlot{GameID: "g2", UserID: "u2", Color: domain.Black, JoinedAt: now}), store.ErrConflict)
	require.NoError(t, s.JoinGame(ctx, "g2", domain.PlayerSlot{GameID: "g2", UserID: "u2", Color: domain.White, JoinedAt: now}))
	assert.ErrorIs(t, s.JoinGame(ctx, "g2", domain.PlayerSlot{GameID: "g2", UserID: "u3", Color: domain.White, JoinedAt: now}), store.ErrConflict)
	assert.ErrorIs(t, s.JoinGame(ctx, "nope", domain.PlayerSlot{GameID: "nope", UserID: "u3", Color: domain.White, JoinedAt: now}), store.ErrNotFound)
}

func testMoveNumbering(t *testing.T, s store.Store) {
	ctx := context.Background()
	seedUsers(t, s, "u1", "u2")
	seedGame(t, s, "g3", "u1", domain.White)
	require.NoError(t, s.JoinGame(ctx, "g3", domain.PlayerSlot{GameID: "g3", UserID: "u2", Color: domain.Black, JoinedAt: now}))

	assert.ErrorIs(t, s.AppendMove(ctx, move("g3", 2, "u1", "e2e4"), nil), store.ErrConflict)
	require.NoError(t, s.AppendMove(ctx, move("g3", 1, "u1", "e2e4"), nil))
	assert.ErrorIs(t, s.AppendMove(ctx, move("g3", 1, "u2", "e7e5"), nil), store.ErrConflict)

	moves, err := s.Moves(ctx, "g3")
	require.NoError(t, err)
	assert.Len(t, moves, 1)
}

// Racing writers for the same number: exactly one wins.
func testConcurrentAppend(t *testing.T, s store.Store) {
	ctx := context.Background()
	seedUsers(t, s, "u1", "u2")
	seedGame(t, s, "g4", "u1", domain.White)
	require.NoError(t, s.JoinGame(ctx, "g4", domain.PlayerSlot{GameID: "g4", UserID: "u2", Color: domain.Black, JoinedAt: now}))

	var ok atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := s.AppendMove(ctx, move("g4", 1, "u1", fmt.Sprintf("m%d", i)), nil); err == nil {
				ok.Add(1)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), ok.Load())

	moves, err := s.Moves(ctx, "g4")
	require.NoError(t, err)
	assert.Len(t, moves, 1)
}

func testResignation(t *testing.T, s store.Store) {
	ctx := context.Background()
	seedUsers(t, s, "u1", "u2")
	seedGame(t, s, "g5", "u1", domain.White)

	done := domain.Completion{Result: domain.ResultResignation, WinnerID: "u2", At: now}
	assert.ErrorIs(t, s.CompleteGame(ctx, "g5", done), store.ErrConflict)

	require.NoError(t, s.JoinGame(ctx, "g5", domain.PlayerSlot{GameID: "g5", UserID: "u2", Color: domain.Black, JoinedAt: now}))
	require.NoError(t, s.CompleteGame(ctx, "g5", done))
	assert.ErrorIs(t, s.CompleteGame(ctx, "g5", done), store.ErrConflict)

	g, err := s.Game(ctx, "g5")
	require.NoError(t, err)
	assert.Equal(t, domain.ResultResignation, g.Result)
	assert.Equal(t, "u2", g.WinnerID)
}

func testSessions(t *testing.T, s store.Store) {
	ctx := context.Background()
	seedUsers(t, s, "u1")

	sess := domain.Session{Token: "tok-1", UserID: "u1", CreatedAt: now, ExpiresAt: now.Add(7 * 24 * time.Hour), IsActive: true}
	require.NoError(t, s.CreateSession(ctx, sess))
	assert.ErrorIs(t, s.CreateSession(ctx, sess), store.ErrConflict)

	got, err := s.ActiveSession(ctx, "tok-1", now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)

	_, err = s.ActiveSession(ctx, "tok-1", now.Add(8*24*time.Hour))
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.DeactivateSession(ctx, "tok-1"))
	_, err = s.ActiveSession(ctx, "tok-1", now.Add(time.Hour))
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.ActiveSession(ctx, "unknown", now)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.NoError(t, s.DeactivateSession(ctx, "unknown"))
}
