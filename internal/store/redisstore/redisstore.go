// Package redisstore keeps records as JSON values in Redis. Multi-key writes use WATCH + MULTI.
package redisstore

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/park285/cheese-arena/internal/domain"
	"github.com/park285/cheese-arena/internal/store"
	"github.com/redis/go-redis/v9"
)

type Store struct{ rdb *redis.Client }

var _ store.Store = (*Store)(nil)

// Open dials rawURL (redis:// or rediss://) and pings.
func Open(ctx context.Context, rawURL string) (*Store, error) {
	if strings.TrimSpace(rawURL) == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}
	opts, err := ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Store{rdb: rdb}, nil
}

// New wraps an existing client.
func New(rdb *redis.Client) *Store { return &Store{rdb: rdb} }

func ParseURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			db = n
		}
	}
	pass, _ := u.User.Password()
	opts := &redis.Options{Addr: u.Host, Username: u.User.Username(), Password: pass, DB: db}
	if u.Scheme == "rediss" {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12, ServerName: u.Hostname()}
	}
	return opts, nil
}

func (s *Store) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}

func (s *Store) Ping(ctx context.Context) error { return s.rdb.Ping(ctx).Err() }

func keyUser(id string) string { return "chess:user:" + strings.TrimSpace(id) }
func keyUserName(name string) string { return "chess:user:name:" + strings.TrimSpace(name) }
func keyGame(id string) string { return "chess:game:" + strings.TrimSpace(id) }
func keyPlayers(id string) string { return keyGame(id) + ":players" }
func keyMoves(id string) string { return keyGame(id) + ":moves" }
func keySession(token string) string { return "chess:session:" + strings.TrimSpace(token) }

// watch runs fn under WATCH; a lost race reports ErrConflict.
func (s *Store) watch(ctx context.Context, fn func(tx *redis.Tx) error, keys ...string) error {
	err := s.rdb.Watch(ctx, fn, keys...)
	if errors.Is(err, redis.TxFailedErr) {
		return store.ErrConflict
	}
	return err
}

func getJSON(ctx context.Context, c redis.Cmdable, key string, out any) error {
	raw, err := c.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return store.ErrNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// Users

func (s *Store) CreateUser(ctx context.Context, u domain.User) error {
	raw, err := json.Marshal(u)
	if err != nil {
		return err
	}
	uk, nk := keyUser(u.ID), keyUserName(u.Username)
	return s.watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, uk, nk).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return store.ErrConflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, uk, raw, 0)
			pipe.Set(ctx, nk, u.ID, 0)
			return nil
		})
		return err
	}, uk, nk)
}

func (s *Store) UserByID(ctx context.Context, id string) (*domain.User, error) {
	var u domain.User
	if err := getJSON(ctx, s.rdb, keyUser(id), &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) UserByName(ctx context.Context, username string) (*domain.User, error) {
	id, err := s.rdb.Get(ctx, keyUserName(username)).Result()
	if err == redis.Nil {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.UserByID(ctx, id)
}

// Games

func (s *Store) CreateGame(ctx context.Context, g domain.Game, creator domain.PlayerSlot) error {
	raw, err := json.Marshal(g)
	if err != nil {
		return err
	}
	slot, err := json.Marshal(creator)
	if err != nil {
		return err
	}
	gk := keyGame(g.ID)
	return s.watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, gk).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return store.ErrConflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, gk, raw, 0)
			pipe.HSet(ctx, keyPlayers(g.ID), creator.UserID, slot)
			return nil
		})
		return err
	}, gk)
}

func (s *Store) JoinGame(ctx context.Context, gameID string, slot domain.PlayerSlot) error {
	raw, err := json.Marshal(slot)
	if err != nil {
		return err
	}
	gk, pk := keyGame(gameID), keyPlayers(gameID)
	return s.watch(ctx, func(tx *redis.Tx) error {
		var g domain.Game
		if err := getJSON(ctx, tx, gk, &g); err != nil {
			return err
		}
		slots, err := readSlots(ctx, tx, pk)
		if err != nil {
			return err
		}
		if len(slots) >= 2 {
			return store.ErrConflict
		}
		for _, cur := range slots {
			if cur.UserID == slot.UserID || cur.Color == slot.Color {
				return store.ErrConflict
			}
		}
		g.JoinerID = slot.UserID
		if g.Status == domain.StatusWaiting {
			g.Status = domain.StatusActive
		}
		graw, err := json.Marshal(g)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, pk, slot.UserID, raw)
			pipe.Set(ctx, gk, graw, 0)
			return nil
		})
		return err
	}, gk, pk)
}

func (s *Store) AppendMove(ctx context.Context, rec domain.MoveRecord, done *domain.Completion) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	gk, mk := keyGame(rec.GameID), keyMoves(rec.GameID)
	return s.watch(ctx, func(tx *redis.Tx) error {
		var g domain.Game
		if err := getJSON(ctx, tx, gk, &g); err != nil {
			return err
		}
		n, err := tx.LLen(ctx, mk).Result()
		if err != nil {
			return err
		}
		if int(n) != rec.Number-1 {
			return store.ErrConflict
		}
		var graw []byte
		if done != nil {
			g.Complete(*done)
			if graw, err = json.Marshal(g); err != nil {
				return err
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.RPush(ctx, mk, raw)
			if graw != nil {
				pipe.Set(ctx, gk, graw, 0)
			}
			return nil
		})
		return err
	}, gk, mk)
}

func (s *Store) CompleteGame(ctx context.Context, gameID string, done domain.Completion) error {
	gk := keyGame(gameID)
	return s.watch(ctx, func(tx *redis.Tx) error {
		var g domain.Game
		if err := getJSON(ctx, tx, gk, &g); err != nil {
			return err
		}
		if g.Status != domain.StatusActive {
			return store.ErrConflict
		}
		g.Complete(done)
		raw, err := json.Marshal(g)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, gk, raw, 0)
			return nil
		})
		return err
	}, gk)
}

func (s *Store) Game(ctx context.Context, id string) (*domain.Game, error) {
	var g domain.Game
	if err := getJSON(ctx, s.rdb, keyGame(id), &g); err != nil {
		return nil, err
	}
	return &g, nil
}

func readSlots(ctx context.Context, c redis.Cmdable, key string) ([]domain.PlayerSlot, error) {
	m, err := c.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	slots := make([]domain.PlayerSlot, 0, len(m))
	for _, v := range m {
		var slot domain.PlayerSlot
		if err := json.Unmarshal([]byte(v), &slot); err != nil {
			return nil, err
		}
		slots = append(slots, slot)
	}
	sort.Slice(slots, func(i, j int) bool {
		if !slots[i].JoinedAt.Equal(slots[j].JoinedAt) {
			return slots[i].JoinedAt.Before(slots[j].JoinedAt)
		}
		return slots[i].UserID < slots[j].UserID
	})
	return slots, nil
}

func (s *Store) Players(ctx context.Context, gameID string) ([]domain.PlayerSlot, error) {
	if _, err := s.Game(ctx, gameID); err != nil {
		return nil, err
	}
	return readSlots(ctx, s.rdb, keyPlayers(gameID))
}

func (s *Store) Moves(ctx context.Context, gameID string) ([]domain.MoveRecord, error) {
	if _, err := s.Game(ctx, gameID); err != nil {
		return nil, err
	}
	items, err := s.rdb.LRange(ctx, keyMoves(gameID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	moves := make([]domain.MoveRecord, 0, len(items))
	for _, it := range items {
		var rec domain.MoveRecord
		if err := json.Unmarshal([]byte(it), &rec); err != nil {
			return nil, err
		}
		moves = append(moves, rec)
	}
	return moves, nil
}

// Sessions

func (s *Store) CreateSession(ctx context.Context, sess domain.Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	// TTL is housekeeping only; validity is decided by ExpiresAt.
	var ttl time.Duration
	if d := time.Until(sess.ExpiresAt); d > 0 {
		ttl = d
	}
	ok, err := s.rdb.SetNX(ctx, keySession(sess.Token), raw, ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return store.ErrConflict
	}
	return nil
}

func (s *Store) ActiveSession(ctx context.Context, token string, now time.Time) (*domain.Session, error) {
	var sess domain.Session
	if err := getJSON(ctx, s.rdb, keySession(token), &sess); err != nil {
		return nil, err
	}
	if !sess.Valid(now) {
		return nil, store.ErrNotFound
	}
	return &sess, nil
}

func (s *Store) DeactivateSession(ctx context.Context, token string) error {
	key := keySession(token)
	return s.watch(ctx, func(tx *redis.Tx) error {
		var sess domain.Session
		if err := getJSON(ctx, tx, key, &sess); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}
			return err
		}
		sess.IsActive = false
		raw, err := json.Marshal(sess)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, raw, redis.KeepTTL)
			return nil
		})
		return err
	}, key)
}
