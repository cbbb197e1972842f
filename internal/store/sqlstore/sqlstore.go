// Package sqlstore persists records through sqlx on PostgreSQL (lib/pq) or SQLite (mattn/go-sqlite3).
package sqlstore

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/park285/cheese-arena/internal/domain"
	"github.com/park285/cheese-arena/internal/store"
)

//go:embed schema.sql
var schemaSQL string

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

type Store struct {
	db *sqlx.DB
}

var _ store.Store = (*Store)(nil)

// OpenPostgres connects to databaseURL and applies the schema.
func OpenPostgres(ctx context.Context, databaseURL string) (*Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sqlx.Open(DriverPostgres, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	return setup(ctx, db, nil)
}

// OpenSQLite opens (or creates) the database file at path. ":memory:" is accepted for tests.
func OpenSQLite(ctx context.Context, path string) (*Store, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create sqlite dir: %w", err)
			}
		}
	}
	db, err := sqlx.Open(DriverSQLite, path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite has a single writer; one connection also keeps ":memory:" databases alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	return setup(ctx, db, pragmas)
}

func setup(ctx context.Context, db *sqlx.DB, pragmas []string) (*Store, error) {
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", db.DriverName(), err)
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec %q: %w", p, err)
		}
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// q rebinds '?' placeholders for the active driver.
func (s *Store) q(query string) string { return s.db.Rebind(query) }

func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return mapErr(fmt.Errorf("commit: %w", err))
	}
	return nil
}

// Users

func (s *Store) CreateUser(ctx context.Context, u domain.User) error {
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO users (id, username, credential_hash, salt, created_at) VALUES (?, ?, ?, ?, ?)`),
		u.ID, strings.TrimSpace(u.Username), u.CredentialHash, u.Salt, u.CreatedAt.UTC())
	if err != nil {
		return mapErr(fmt.Errorf("insert user: %w", err))
	}
	return nil
}

const userColumns = `id, username, credential_hash, salt, created_at`

func (s *Store) UserByID(ctx context.Context, id string) (*domain.User, error) {
	var u domain.User
	if err := s.db.GetContext(ctx, &u, s.q(`SELECT `+userColumns+` FROM users WHERE id = ?`), id); err != nil {
		return nil, mapErr(fmt.Errorf("select user: %w", err))
	}
	return &u, nil
}

func (s *Store) UserByName(ctx context.Context, username string) (*domain.User, error) {
	var u domain.User
	if err := s.db.GetContext(ctx, &u, s.q(`SELECT `+userColumns+` FROM users WHERE username = ?`), strings.TrimSpace(username)); err != nil {
		return nil, mapErr(fmt.Errorf("select user by name: %w", err))
	}
	return &u, nil
}

// Games

const gameColumns = `id, creator_id, COALESCE(joiner_id, '') AS joiner_id, creator_color, status, result, COALESCE(winner_id, '') AS winner_id, created_at, completed_at`

func (s *Store) CreateGame(ctx context.Context, g domain.Game, creator domain.PlayerSlot) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, s.q(`INSERT INTO games (id, creator_id, creator_color, status, result, created_at) VALUES (?, ?, ?, ?, ?, ?)`),
			g.ID, g.CreatorID, string(g.CreatorColor), string(g.Status), string(g.Result), g.CreatedAt.UTC()); err != nil {
			return mapErr(fmt.Errorf("insert game: %w", err))
		}
		return insertSlot(ctx, tx, s.q, creator)
	})
}

func insertSlot(ctx context.Context, tx *sqlx.Tx, q func(string) string, slot domain.PlayerSlot) error {
	if _, err := tx.ExecContext(ctx, q(`INSERT INTO game_players (game_id, user_id, color, joined_at) VALUES (?, ?, ?, ?)`),
		slot.GameID, slot.UserID, string(slot.Color), slot.JoinedAt.UTC()); err != nil {
		return mapErr(fmt.Errorf("insert player: %w", err))
	}
	return nil
}

func (s *Store) JoinGame(ctx context.Context, gameID string, slot domain.PlayerSlot) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		var status string
		if err := tx.GetContext(ctx, &status, s.q(`SELECT status FROM games WHERE id = ?`), gameID); err != nil {
			return mapErr(fmt.Errorf("select game: %w", err))
		}
		var n int
		if err := tx.GetContext(ctx, &n, s.q(`SELECT COUNT(*) FROM game_players WHERE game_id = ?`), gameID); err != nil {
			return fmt.Errorf("count players: %w", err)
		}
		if n >= 2 {
			return store.ErrConflict
		}
		if err := insertSlot(ctx, tx, s.q, slot); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, s.q(`UPDATE games SET joiner_id = ? WHERE id = ?`), slot.UserID, gameID); err != nil {
			return fmt.Errorf("set joiner: %w", err)
		}
		if _, err := tx.ExecContext(ctx, s.q(`UPDATE games SET status = ? WHERE id = ? AND status = ?`),
			string(domain.StatusActive), gameID, string(domain.StatusWaiting)); err != nil {
			return fmt.Errorf("activate game: %w", err)
		}
		return nil
	})
}

func (s *Store) AppendMove(ctx context.Context, rec domain.MoveRecord, done *domain.Completion) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		var status string
		if err := tx.GetContext(ctx, &status, s.q(`SELECT status FROM games WHERE id = ?`), rec.GameID); err != nil {
			return mapErr(fmt.Errorf("select game: %w", err))
		}
		var n int
		if err := tx.GetContext(ctx, &n, s.q(`SELECT COUNT(*) FROM game_moves WHERE game_id = ?`), rec.GameID); err != nil {
			return fmt.Errorf("count moves: %w", err)
		}
		if n != rec.Number-1 {
			return store.ErrConflict
		}
		if _, err := tx.ExecContext(ctx, s.q(`INSERT INTO game_moves
			(game_id, move_number, mover_id, uci, san, fen_after, is_check, is_checkmate, is_stalemate, is_draw, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			rec.GameID, rec.Number, rec.MoverID, rec.UCI, rec.SAN, rec.FENAfter,
			rec.IsCheck, rec.IsCheckmate, rec.IsStalemate, rec.IsDraw, rec.CreatedAt.UTC()); err != nil {
			return mapErr(fmt.Errorf("insert move: %w", err))
		}
		if done == nil {
			return nil
		}
		_, err := tx.ExecContext(ctx, s.q(`UPDATE games SET status = ?, result = ?, winner_id = ?, completed_at = ? WHERE id = ?`),
			string(domain.StatusCompleted), string(done.Result), nullString(done.WinnerID), done.At.UTC(), rec.GameID)
		if err != nil {
			return fmt.Errorf("complete game: %w", err)
		}
		return nil
	})
}

func (s *Store) CompleteGame(ctx context.Context, gameID string, done domain.Completion) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, s.q(`UPDATE games SET status = ?, result = ?, winner_id = ?, completed_at = ? WHERE id = ? AND status = ?`),
			string(domain.StatusCompleted), string(done.Result), nullString(done.WinnerID), done.At.UTC(), gameID, string(domain.StatusActive))
		if err != nil {
			return fmt.Errorf("complete game: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			return nil
		}
		var exists int
		if err := tx.GetContext(ctx, &exists, s.q(`SELECT COUNT(*) FROM games WHERE id = ?`), gameID); err != nil {
			return fmt.Errorf("select game: %w", err)
		}
		if exists == 0 {
			return store.ErrNotFound
		}
		return store.ErrConflict
	})
}

func (s *Store) Game(ctx context.Context, id string) (*domain.Game, error) {
	var g domain.Game
	if err := s.db.GetContext(ctx, &g, s.q(`SELECT `+gameColumns+` FROM games WHERE id = ?`), id); err != nil {
		return nil, mapErr(fmt.Errorf("select game: %w", err))
	}
	return &g, nil
}

func (s *Store) Players(ctx context.Context, gameID string) ([]domain.PlayerSlot, error) {
	if _, err := s.Game(ctx, gameID); err != nil {
		return nil, err
	}
	var slots []domain.PlayerSlot
	if err := s.db.SelectContext(ctx, &slots, s.q(`SELECT game_id, user_id, color, joined_at FROM game_players WHERE game_id = ? ORDER BY joined_at, user_id`), gameID); err != nil {
		return nil, fmt.Errorf("select players: %w", err)
	}
	return slots, nil
}

func (s *Store) Moves(ctx context.Context, gameID string) ([]domain.MoveRecord, error) {
	if _, err := s.Game(ctx, gameID); err != nil {
		return nil, err
	}
	var moves []domain.MoveRecord
	err := s.db.SelectContext(ctx, &moves, s.q(`SELECT game_id, move_number, mover_id, uci, san, fen_after,
		is_check, is_checkmate, is_stalemate, is_draw, created_at
		FROM game_moves WHERE game_id = ? ORDER BY move_number`), gameID)
	if err != nil {
		return nil, fmt.Errorf("select moves: %w", err)
	}
	return moves, nil
}

// Sessions

func (s *Store) CreateSession(ctx context.Context, sess domain.Session) error {
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO user_sessions (token, user_id, created_at, expires_at, is_active) VALUES (?, ?, ?, ?, ?)`),
		sess.Token, sess.UserID, sess.CreatedAt.UTC(), sess.ExpiresAt.UTC(), sess.IsActive)
	if err != nil {
		return mapErr(fmt.Errorf("insert session: %w", err))
	}
	return nil
}

func (s *Store) ActiveSession(ctx context.Context, token string, now time.Time) (*domain.Session, error) {
	var sess domain.Session
	err := s.db.GetContext(ctx, &sess, s.q(`SELECT token, user_id, created_at, expires_at, is_active
		FROM user_sessions WHERE token = ? AND is_active = ? AND expires_at > ?`), token, true, now.UTC())
	if err != nil {
		return nil, mapErr(fmt.Errorf("select session: %w", err))
	}
	return &sess, nil
}

func (s *Store) DeactivateSession(ctx context.Context, token string) error {
	if _, err := s.db.ExecContext(ctx, s.q(`UPDATE user_sessions SET is_active = ? WHERE token = ?`), false, token); err != nil {
		return fmt.Errorf("deactivate session: %w", err)
	}
	return nil
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

// mapErr folds driver errors into store sentinels while keeping the original in the chain.
func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("%w: %v", store.ErrNotFound, err)
	case isUniqueViolation(err):
		return fmt.Errorf("%w: %v", store.ErrConflict, err)
	default:
		return err
	}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique || liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
