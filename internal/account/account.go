// Package account registers users and checks their credentials.
package account

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/park285/cheese-arena/internal/domain"
	"github.com/park285/cheese-arena/internal/obslog"
	"github.com/park285/cheese-arena/internal/store"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"
)

type staticErr string

func (e staticErr) Error() string { return string(e) }

const (
	ErrInvalidUsername    staticErr = "username must be 3-32 letters, digits, '_', '-' or '.'"
	ErrInvalidPassword    staticErr = "password must be 8-128 characters"
	ErrUsernameTaken      staticErr = "username already taken"
	ErrInvalidCredentials staticErr = "invalid username or password"
)

// 로그인 실패 시 사용자 존재 여부가 응답 시간으로 드러나지 않도록 비교용 해시를 둔다.
var dummyHash, _, _ = hashPassword("not-a-real-password", Params{Memory: 8 * 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})

type Service struct {
	users  store.Users
	params Params
	now    func() time.Time
}

type Option func(*Service)

// WithParams overrides argon2 cost (tests use cheap settings).
func WithParams(p Params) Option { return func(s *Service) { s.params = p } }

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func New(users store.Users, opts ...Option) *Service {
	s := &Service{users: users, params: DefaultParams, now: func() time.Time { return time.Now().UTC() }}
	for _, o := range opts {
		o(s)
	}
	return s
}

// NormalizeUsername applies NFKC and trims; the result must be 3-32 runes.
func NormalizeUsername(raw string) (string, error) {
	name := norm.NFKC.String(strings.TrimSpace(raw))
	if n := utf8.RuneCountInString(name); n < 3 || n > 32 {
		return "", ErrInvalidUsername
	}
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-' || r == '.' {
			continue
		}
		return "", ErrInvalidUsername
	}
	return name, nil
}

func checkPassword(pw string) error {
	if n := utf8.RuneCountInString(pw); n < 8 || n > 128 {
		return ErrInvalidPassword
	}
	return nil
}

func (s *Service) Register(ctx context.Context, username, password string) (domain.User, error) {
	name, err := NormalizeUsername(username)
	if err != nil {
		return domain.User{}, err
	}
	if err := checkPassword(password); err != nil {
		return domain.User{}, err
	}
	encoded, salt, err := hashPassword(password, s.params)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}
	u := domain.User{
		ID:             uuid.NewString(),
		Username:       name,
		CredentialHash: encoded,
		Salt:           salt,
		CreatedAt:      s.now(),
	}
	if err := s.users.CreateUser(ctx, u); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.User{}, ErrUsernameTaken
		}
		return domain.User{}, fmt.Errorf("create user: %w", err)
	}
	obslog.L().Info("user_register", zap.String("user_id", u.ID), zap.String("username", u.Username))
	return u, nil
}

// Verify returns the user when password matches.
func (s *Service) Verify(ctx context.Context, username, password string) (domain.User, error) {
	name, err := NormalizeUsername(username)
	if err != nil {
		return domain.User{}, ErrInvalidCredentials
	}
	u, err := s.users.UserByName(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		_, _ = verifyPassword(password, dummyHash)
		return domain.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("load user: %w", err)
	}
	ok, err := verifyPassword(password, u.CredentialHash)
	if err != nil {
		obslog.L().Warn("credential_decode_failed", zap.String("user_id", u.ID), zap.Error(err))
		return domain.User{}, ErrInvalidCredentials
	}
	if !ok {
		return domain.User{}, ErrInvalidCredentials
	}
	return *u, nil
}

// Name returns the display name for id, or id itself when unknown.
func (s *Service) Name(ctx context.Context, id string) string {
	u, err := s.users.UserByID(ctx, id)
	if err != nil {
		return id
	}
	return u.Username
}
