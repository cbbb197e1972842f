// Package session resolves session tokens through an in-process cache backed by the durable store.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/park285/cheese-arena/internal/domain"
	"github.com/park285/cheese-arena/internal/obslog"
	"github.com/park285/cheese-arena/internal/stats"
	"github.com/park285/cheese-arena/internal/store"
	"go.uber.org/zap"
)

const (
	DefaultLifetime  = 7 * 24 * time.Hour
	DefaultCacheSize = 4096
	DefaultCacheTTL  = 15 * time.Minute

	tokenBytes = 32
)

// Token is a freshly issued session.
type Token struct {
	Value     string
	UserID    string
	ExpiresAt time.Time
}

type cached struct {
	userID    string
	expiresAt time.Time
}

type Bridge struct {
	store store.Sessions

	// mu orders cache population against revocation.
	mu      sync.Mutex
	cache   *expirable.LRU[string, cached]
	revoked *expirable.LRU[string, struct{}]

	lifetime time.Duration
	now      func() time.Time
	log      *zap.Logger
	stats    stats.Provider
}

type Options struct {
	Lifetime  time.Duration
	CacheSize int
	CacheTTL  time.Duration
	Now       func() time.Time
	Stats     stats.Provider
}

func New(s store.Sessions, o Options) *Bridge {
	if o.Lifetime <= 0 {
		o.Lifetime = DefaultLifetime
	}
	if o.CacheSize <= 0 {
		o.CacheSize = DefaultCacheSize
	}
	if o.CacheTTL <= 0 {
		o.CacheTTL = DefaultCacheTTL
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Stats == nil {
		o.Stats = stats.Nop{}
	}
	return &Bridge{
		store:    s,
		cache:    expirable.NewLRU[string, cached](o.CacheSize, nil, o.CacheTTL),
		revoked:  expirable.NewLRU[string, struct{}](o.CacheSize, nil, o.CacheTTL),
		lifetime: o.Lifetime,
		now:      o.Now,
		log:      obslog.Named("session"),
		stats:    o.Stats,
	}
}

// Resolve maps token to a user id. ok is false for unknown, expired or revoked tokens.
func (b *Bridge) Resolve(ctx context.Context, token string) (userID string, ok bool, err error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", false, nil
	}
	now := b.now()
	if c, hit := b.cache.Get(token); hit {
		if now.Before(c.expiresAt) {
			b.stats.Incr(stats.SessionCacheHits)
			return c.userID, true, nil
		}
		b.cache.Remove(token)
		return "", false, nil
	}
	b.stats.Incr(stats.SessionCacheMiss)

	sess, err := b.store.ActiveSession(ctx, token, now)
	if errors.Is(err, store.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup session: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.revoked.Contains(token) {
		return "", false, nil
	}
	b.cache.Add(token, cached{userID: sess.UserID, expiresAt: sess.ExpiresAt})
	return sess.UserID, true, nil
}

// Issue mints a token for userID valid for the configured lifetime.
func (b *Bridge) Issue(ctx context.Context, userID string) (Token, error) {
	value, err := newToken()
	if err != nil {
		return Token{}, err
	}
	now := b.now()
	sess := domain.Session{
		Token:     value,
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(b.lifetime),
		IsActive:  true,
	}
	if err := b.store.CreateSession(ctx, sess); err != nil {
		return Token{}, fmt.Errorf("create session: %w", err)
	}
	b.mu.Lock()
	b.cache.Add(value, cached{userID: userID, expiresAt: sess.ExpiresAt})
	b.mu.Unlock()
	b.log.Debug("session_issue", zap.String("user_id", userID))
	return Token{Value: value, UserID: userID, ExpiresAt: sess.ExpiresAt}, nil
}

// Revoke invalidates token. The cache entry is gone before this returns,
// even when the durable update fails.
func (b *Bridge) Revoke(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}
	b.mu.Lock()
	b.revoked.Add(token, struct{}{})
	b.cache.Remove(token)
	b.mu.Unlock()

	if err := b.store.DeactivateSession(ctx, token); err != nil && !errors.Is(err, store.ErrNotFound) {
		b.log.Error("session_revoke_failed", zap.Error(err))
		return fmt.Errorf("deactivate session: %w", err)
	}
	b.stats.Incr(stats.SessionsRevoked)
	return nil
}

// Cached reports how many tokens are held in memory.
func (b *Bridge) Cached() int { return b.cache.Len() }

func newToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
