package sqlstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/park285/cheese-arena/internal/domain"
	"github.com/park285/cheese-arena/internal/store"
	"github.com/park285/cheese-arena/internal/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openMemory(t *testing.T) store.Store {
	t.Helper()
	s, err := OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStoreContract(t *testing.T) {
	storetest.Run(t, openMemory)
}

func TestSQLiteReopenKeepsRecords(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "chess.db")

	s, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.CreateUser(ctx, domain.User{ID: "u1", Username: "alice", CredentialHash: "h", Salt: "s", CreatedAt: now}))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer s.Close()
	u, err := s.UserByName(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "u1", u.ID)
	assert.True(t, u.CreatedAt.Equal(now))
}

func TestForeignKeysEnforced(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()
	g := domain.Game{ID: "g1", CreatorID: "ghost", CreatorColor: domain.White, Status: domain.StatusWaiting, CreatedAt: time.Now()}
	err := s.CreateGame(ctx, g, domain.PlayerSlot{GameID: "g1", UserID: "ghost", Color: domain.White, JoinedAt: time.Now()})
	assert.Error(t, err)

	_, err = s.Game(ctx, "g1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
