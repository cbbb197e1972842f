package account

import (
	"context"
	"strings"
	"testing"

	"github.com/park285/cheese-arena/internal/store/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var cheap = Params{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}

func TestRegisterAndVerify(t *testing.T) {
	svc := New(memstore.New(), WithParams(cheap))
	ctx := context.Background()

	u, err := svc.Register(ctx, "  alice ", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)
	assert.NotEmpty(t, u.ID)
	assert.NotEmpty(t, u.Salt)
	assert.True(t, strings.HasPrefix(u.CredentialHash, "$argon2id$v=19$m=1024,t=1,p=1$"+u.Salt+"$"))

	got, err := svc.Verify(ctx, "alice", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = svc.Verify(ctx, "alice", "wrong horse")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.Verify(ctx, "nobody", "correct horse")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	assert.Equal(t, "alice", svc.Name(ctx, u.ID))
	assert.Equal(t, "ghost", svc.Name(ctx, "ghost"))
}

func TestRegisterRejects(t *testing.T) {
	svc := New(memstore.New(), WithParams(cheap))
	ctx := context.Background()

	_, err := svc.Register(ctx, "bob", "password1")
	require.NoError(t, err)
	_, err = svc.Register(ctx, "bob", "password2")
	assert.ErrorIs(t, err, ErrUsernameTaken)

	_, err = svc.Register(ctx, "ab", "password1")
	assert.ErrorIs(t, err, ErrInvalidUsername)
	_, err = svc.Register(ctx, "has space", "password1")
	assert.ErrorIs(t, err, ErrInvalidUsername)
	_, err = svc.Register(ctx, "carol", "short")
	assert.ErrorIs(t, err, ErrInvalidPassword)
}

func TestNormalizeUsername(t *testing.T) {
	// fullwidth letters fold to ASCII under NFKC
	name, err := NormalizeUsername("ｄａｖｅ")
	require.NoError(t, err)
	assert.Equal(t, "dave", name)

	name, err = NormalizeUsername("치즈_bot")
	require.NoError(t, err)
	assert.Equal(t, "치즈_bot", name)

	_, err = NormalizeUsername(strings.Repeat("x", 33))
	assert.ErrorIs(t, err, ErrInvalidUsername)
}

func TestVerifyPasswordRejectsGarbage(t *testing.T) {
	_, err := verifyPassword("x", "plain")
	assert.ErrorIs(t, err, ErrInvalidHash)
	_, err = verifyPassword("x", "$bcrypt$a$b$c$d")
	assert.ErrorIs(t, err, ErrInvalidHash)
}
