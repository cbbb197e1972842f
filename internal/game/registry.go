// Package game owns live game sessions: creation, seating and the move pipeline.
package game

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/park285/cheese-arena/internal/domain"
	"github.com/park285/cheese-arena/internal/obslog"
	"github.com/park285/cheese-arena/internal/rules"
	"github.com/park285/cheese-arena/internal/store"
	"github.com/park285/cheese-arena/pkg/chessdto"
	"github.com/teris-io/shortid"
	"go.uber.org/zap"
)

// Publisher delivers an event to every subscriber of a topic and reports how many received it.
type Publisher interface {
	Publish(ctx context.Context, topic string, msg any) int
}

// Topic is the fan-out topic carrying events for one game.
func Topic(gameID string) string { return "game:" + gameID }

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, string, any) int { return 0 }

// Player is a seated participant.
type Player struct {
	UserID   string       `json:"user_id"`
	Color    domain.Color `json:"color"`
	JoinedAt time.Time    `json:"joined_at"`
}

// Snapshot is an immutable view of one game. Slices are never mutated after publication.
type Snapshot struct {
	Game    domain.Game
	Players []Player // join order
	FEN     string
	Turn    domain.Color
	SAN     []string
	UCI     []string

	pos rules.Position
}

// Moves is the number of committed plies.
func (s *Snapshot) Moves() int { return len(s.UCI) }

// ColorOf reports the color seated by userID.
func (s *Snapshot) ColorOf(userID string) (domain.Color, bool) {
	for _, p := range s.Players {
		if p.UserID == userID {
			return p.Color, true
		}
	}
	return "", false
}

// PlayerFor returns the user seated at color, or "".
func (s *Snapshot) PlayerFor(c domain.Color) string {
	for _, p := range s.Players {
		if p.Color == c {
			return p.UserID
		}
	}
	return ""
}

// Position exposes the rule-engine position for rendering.
func (s *Snapshot) Position() rules.Position { return s.pos }

// session is one live game. mu serializes writers; readers load state without locking.
type session struct {
	mu    sync.Mutex
	state atomic.Pointer[Snapshot]
}

type Registry struct {
	store store.Games
	pub   Publisher
	log   *zap.Logger
	now   func() time.Time
	newID func() (string, error)
	names func(ctx context.Context, userID string) string

	mu    sync.RWMutex
	games map[string]*session
}

type Option func(*Registry)

func WithPublisher(p Publisher) Option {
	return func(r *Registry) {
		if p != nil {
			r.pub = p
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// WithIDGenerator overrides the game id source.
func WithIDGenerator(fn func() (string, error)) Option {
	return func(r *Registry) {
		if fn != nil {
			r.newID = fn
		}
	}
}

// WithNames resolves display names for join events.
func WithNames(fn func(ctx context.Context, userID string) string) Option {
	return func(r *Registry) { r.names = fn }
}

func NewRegistry(gs store.Games, opts ...Option) *Registry {
	r := &Registry{
		store: gs,
		pub:   nopPublisher{},
		log:   obslog.Named("game"),
		now:   func() time.Time { return time.Now().UTC() },
		newID: shortid.Generate,
		games: make(map[string]*session),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// ParseColor accepts white, black, random or empty (random).
func ParseColor(s string) (domain.Color, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "white", "w":
		return domain.White, nil
	case "black", "b":
		return domain.Black, nil
	case "", "random":
		if n, err := rand.Int(rand.Reader, big.NewInt(2)); err == nil && n.Int64() == 1 {
			return domain.Black, nil
		}
		return domain.White, nil
	default:
		return "", ErrInvalidColor
	}
}

const createAttempts = 3

// Create opens a waiting game with the creator seated at color.
func (r *Registry) Create(ctx context.Context, creatorID string, color domain.Color) (*Snapshot, error) {
	if !color.Valid() {
		return nil, ErrInvalidColor
	}
	now := r.now()
	for attempt := 0; attempt < createAttempts; attempt++ {
		id, err := r.newID()
		if err != nil {
			return nil, fmt.Errorf("generate game id: %w", err)
		}
		g := domain.Game{
			ID:           id,
			CreatorID:    creatorID,
			CreatorColor: color,
			Status:       domain.StatusWaiting,
			CreatedAt:    now,
		}
		slot := domain.PlayerSlot{GameID: id, UserID: creatorID, Color: color, JoinedAt: now}
		err = r.store.CreateGame(ctx, g, slot)
		if errors.Is(err, store.ErrConflict) {
			r.log.Warn("game_id_collision", zap.String("game_id", id), zap.Int("attempt", attempt+1))
			continue
		}
		if err != nil {
			r.log.Error("game_create_failed", zap.String("creator_id", creatorID), zap.Error(err))
			return nil, ErrStoreUnavailable.wrap(err)
		}

		snap := &Snapshot{
			Game:    g,
			Players: []Player{{UserID: creatorID, Color: color, JoinedAt: now}},
			pos:     rules.Start(),
			Turn:    domain.White,
			SAN:     []string{},
			UCI:     []string{},
		}
		snap.FEN = rules.Render(snap.pos)
		s := &session{}
		s.state.Store(snap)

		r.mu.Lock()
		r.games[id] = s
		r.mu.Unlock()

		r.log.Info("game_create",
			zap.String("game_id", id),
			zap.String("creator_id", creatorID),
			zap.String("color", string(color)),
		)
		return snap, nil
	}
	return nil, ErrStoreUnavailable.WithMessage("could not allocate a game id")
}

// Join seats joinerID in the free slot. Re-joining an already seated user returns their color.
func (r *Registry) Join(ctx context.Context, gameID, joinerID string) (domain.Color, error) {
	s, err := r.session(ctx, gameID)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.state.Load()
	if c, ok := cur.ColorOf(joinerID); ok {
		return c, nil
	}
	if len(cur.Players) >= 2 {
		return "", ErrGameFull
	}
	if cur.Game.Status != domain.StatusWaiting {
		return "", ErrGameNotActive
	}

	color := cur.Players[0].Color.Opposite()
	now := r.now()
	slot := domain.PlayerSlot{GameID: gameID, UserID: joinerID, Color: color, JoinedAt: now}
	if err := r.store.JoinGame(ctx, gameID, slot); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return "", ErrGameFull
		}
		r.log.Error("game_join_failed", zap.String("game_id", gameID), zap.String("user_id", joinerID), zap.Error(err))
		return "", ErrStoreUnavailable.wrap(err)
	}

	next := *cur
	next.Players = append(append([]Player(nil), cur.Players...), Player{UserID: joinerID, Color: color, JoinedAt: now})
	next.Game.JoinerID = joinerID
	next.Game.Status = domain.StatusActive
	s.state.Store(&next)

	r.log.Info("game_join",
		zap.String("game_id", gameID),
		zap.String("user_id", joinerID),
		zap.String("color", string(color)),
	)
	r.pub.Publish(ctx, Topic(gameID), chessdto.JoinedEvent{
		Type:       chessdto.TypeJoined,
		GameID:     gameID,
		UserID:     joinerID,
		Username:   r.displayName(ctx, joinerID),
		Color:      string(color),
		GameStatus: next.StatusLabel(),
		Position:   next.FEN,
		Turn:       string(next.Turn),
	})
	return color, nil
}

func (r *Registry) displayName(ctx context.Context, userID string) string {
	if r.names == nil {
		return ""
	}
	return r.names(ctx, userID)
}

// Snapshot returns the current state without taking the game lock.
func (r *Registry) Snapshot(ctx context.Context, gameID string) (*Snapshot, error) {
	s, err := r.session(ctx, gameID)
	if err != nil {
		return nil, err
	}
	return s.state.Load(), nil
}

// Position returns the FEN of the current position.
func (r *Registry) Position(ctx context.Context, gameID string) (string, error) {
	snap, err := r.Snapshot(ctx, gameID)
	if err != nil {
		return "", err
	}
	return snap.FEN, nil
}

// Turn returns the side to move.
func (r *Registry) Turn(ctx context.Context, gameID string) (domain.Color, error) {
	snap, err := r.Snapshot(ctx, gameID)
	if err != nil {
		return "", err
	}
	return snap.Turn, nil
}

// Loaded reports how many games are resident.
func (r *Registry) Loaded() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.games)
}

// Color reports the color userID is seated at.
func (r *Registry) Color(ctx context.Context, gameID, userID string) (domain.Color, bool, error) {
	snap, err := r.Snapshot(ctx, gameID)
	if err != nil {
		return "", false, err
	}
	c, ok := snap.ColorOf(userID)
	return c, ok, nil
}

// Forget drops a completed game from memory. It is rebuilt from the store on next access.
func (r *Registry) Forget(gameID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.games[gameID]
	if !ok || s.state.Load().Game.Status != domain.StatusCompleted {
		return false
	}
	delete(r.games, gameID)
	return true
}

func (r *Registry) session(ctx context.Context, gameID string) (*session, error) {
	gameID = strings.TrimSpace(gameID)
	if gameID == "" {
		return nil, ErrGameNotFound
	}
	r.mu.RLock()
	s := r.games[gameID]
	r.mu.RUnlock()
	if s != nil {
		return s, nil
	}
	return r.hydrate(ctx, gameID)
}

// hydrate rebuilds a game that is persisted but not resident (e.g. after restart).
func (r *Registry) hydrate(ctx context.Context, gameID string) (*session, error) {
	g, err := r.store.Game(ctx, gameID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrGameNotFound
	}
	if err != nil {
		return nil, ErrStoreUnavailable.wrap(err)
	}
	slots, err := r.store.Players(ctx, gameID)
	if err != nil {
		return nil, ErrStoreUnavailable.wrap(err)
	}
	recs, err := r.store.Moves(ctx, gameID)
	if err != nil {
		return nil, ErrStoreUnavailable.wrap(err)
	}

	snap := &Snapshot{Game: *g, SAN: make([]string, 0, len(recs)), UCI: make([]string, 0, len(recs))}
	for _, sl := range slots {
		snap.Players = append(snap.Players, Player{UserID: sl.UserID, Color: sl.Color, JoinedAt: sl.JoinedAt})
	}
	for _, rec := range recs {
		snap.UCI = append(snap.UCI, rec.UCI)
		snap.SAN = append(snap.SAN, rec.SAN)
	}
	pos, err := rules.Replay(snap.UCI)
	if err != nil {
		r.log.Error("game_hydrate_failed", zap.String("game_id", gameID), zap.Error(err))
		return nil, fmt.Errorf("hydrate %s: %w", gameID, err)
	}
	snap.pos = pos
	snap.FEN = rules.Render(pos)
	snap.Turn = rules.Turn(pos)

	s := &session{}
	s.state.Store(snap)

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing := r.games[gameID]; existing != nil {
		return existing, nil
	}
	r.games[gameID] = s
	r.log.Debug("game_hydrate", zap.String("game_id", gameID), zap.Int("moves", len(recs)))
	return s, nil
}
