// Package store defines the durable record layout shared by the memory, SQL and Redis backends.
package store

import (
	"context"
	"time"

	"github.com/park285/cheese-arena/internal/domain"
)

// Errors
var (
	ErrNotFound = errf("record not found")
	// ErrConflict covers duplicate keys, a full game, a taken color and out-of-order move numbers.
	ErrConflict = errf("record conflict")
)

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }

type Users interface {
	CreateUser(ctx context.Context, u domain.User) error
	UserByID(ctx context.Context, id string) (*domain.User, error)
	UserByName(ctx context.Context, username string) (*domain.User, error)
}

type Games interface {
	// CreateGame writes the game row and the creator's slot atomically.
	CreateGame(ctx context.Context, g domain.Game, creator domain.PlayerSlot) error
	// JoinGame adds the second slot and flips the game to active atomically.
	JoinGame(ctx context.Context, gameID string, slot domain.PlayerSlot) error
	// AppendMove writes a move and, when done is non-nil, the completion in one transaction.
	// rec.Number must equal the stored move count + 1.
	AppendMove(ctx context.Context, rec domain.MoveRecord, done *domain.Completion) error
	// CompleteGame finishes an active game without a move (resignation).
	CompleteGame(ctx context.Context, gameID string, done domain.Completion) error
	Game(ctx context.Context, id string) (*domain.Game, error)
	Players(ctx context.Context, gameID string) ([]domain.PlayerSlot, error)
	Moves(ctx context.Context, gameID string) ([]domain.MoveRecord, error)
}

type Sessions interface {
	CreateSession(ctx context.Context, s domain.Session) error
	// ActiveSession returns ErrNotFound for unknown, revoked or expired tokens.
	ActiveSession(ctx context.Context, token string, now time.Time) (*domain.Session, error)
	DeactivateSession(ctx context.Context, token string) error
}

type Store interface {
	Users
	Games
	Sessions
	Ping(ctx context.Context) error
	Close() error
}
