// Package memstore is a development-only in-memory store used when no database is configured.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/park285/cheese-arena/internal/domain"
	"github.com/park285/cheese-arena/internal/store"
)

type Store struct {
	mu sync.RWMutex

	users       map[string]*domain.User
	usersByName map[string]string // username -> id

	games   map[string]*domain.Game
	players map[string][]domain.PlayerSlot // gameID -> slots (join order)
	moves   map[string][]domain.MoveRecord // gameID -> moves (append only)

	sessions map[string]*domain.Session
}

func New() *Store {
	return &Store{
		users:       make(map[string]*domain.User),
		usersByName: make(map[string]string),
		games:       make(map[string]*domain.Game),
		players:     make(map[string][]domain.PlayerSlot),
		moves:       make(map[string][]domain.MoveRecord),
		sessions:    make(map[string]*domain.Session),
	}
}

var _ store.Store = (*Store)(nil)

func (m *Store) CreateUser(ctx context.Context, u domain.User) error {
	name := strings.TrimSpace(u.Username)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.users[u.ID]; exists {
		return store.ErrConflict
	}
	if _, exists := m.usersByName[name]; exists {
		return store.ErrConflict
	}
	copy := u
	m.users[u.ID] = &copy
	m.usersByName[name] = u.ID
	return nil
}

func (m *Store) UserByID(ctx context.Context, id string) (*domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copy := *u
	return &copy, nil
}

func (m *Store) UserByName(ctx context.Context, username string) (*domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.usersByName[strings.TrimSpace(username)]
	if !ok {
		return nil, store.ErrNotFound
	}
	copy := *m.users[id]
	return &copy, nil
}

func (m *Store) CreateGame(ctx context.Context, g domain.Game, creator domain.PlayerSlot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.games[g.ID]; exists {
		return store.ErrConflict
	}
	copy := g
	m.games[g.ID] = &copy
	m.players[g.ID] = []domain.PlayerSlot{creator}
	return nil
}

func (m *Store) JoinGame(ctx context.Context, gameID string, slot domain.PlayerSlot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.games[gameID]
	if !ok {
		return store.ErrNotFound
	}
	slots := m.players[gameID]
	if len(slots) >= 2 {
		return store.ErrConflict
	}
	for _, s := range slots {
		if s.UserID == slot.UserID || s.Color == slot.Color {
			return store.ErrConflict
		}
	}
	m.players[gameID] = append(slots, slot)
	g.JoinerID = slot.UserID
	if g.Status == domain.StatusWaiting {
		g.Status = domain.StatusActive
	}
	return nil
}

func (m *Store) AppendMove(ctx context.Context, rec domain.MoveRecord, done *domain.Completion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.games[rec.GameID]
	if !ok {
		return store.ErrNotFound
	}
	if len(m.moves[rec.GameID]) != rec.Number-1 {
		return store.ErrConflict
	}
	m.moves[rec.GameID] = append(m.moves[rec.GameID], rec)
	if done != nil {
		g.Complete(*done)
	}
	return nil
}

func (m *Store) CompleteGame(ctx context.Context, gameID string, done domain.Completion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.games[gameID]
	if !ok {
		return store.ErrNotFound
	}
	if g.Status != domain.StatusActive {
		return store.ErrConflict
	}
	g.Complete(done)
	return nil
}

func (m *Store) Game(ctx context.Context, id string) (*domain.Game, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.games[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copy := *g
	if g.CompletedAt != nil {
		at := *g.CompletedAt
		copy.CompletedAt = &at
	}
	return &copy, nil
}

func (m *Store) Players(ctx context.Context, gameID string) ([]domain.PlayerSlot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.games[gameID]; !ok {
		return nil, store.ErrNotFound
	}
	return append([]domain.PlayerSlot(nil), m.players[gameID]...), nil
}

func (m *Store) Moves(ctx context.Context, gameID string) ([]domain.MoveRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.games[gameID]; !ok {
		return nil, store.ErrNotFound
	}
	items := append([]domain.MoveRecord(nil), m.moves[gameID]...)
	sort.Slice(items, func(i, j int) bool { return items[i].Number < items[j].Number })
	return items, nil
}

func (m *Store) CreateSession(ctx context.Context, s domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[s.Token]; exists {
		return store.ErrConflict
	}
	copy := s
	m.sessions[s.Token] = &copy
	return nil
}

func (m *Store) ActiveSession(ctx context.Context, token string, now time.Time) (*domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[token]
	if !ok || !s.Valid(now) {
		return nil, store.ErrNotFound
	}
	copy := *s
	return &copy, nil
}

func (m *Store) DeactivateSession(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[token]; ok {
		s.IsActive = false
	}
	return nil
}

func (m *Store) Ping(context.Context) error { return nil }

func (m *Store) Close() error { return nil }
