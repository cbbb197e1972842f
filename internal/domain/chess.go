package domain

import "time"

// Color identifies chess side.
type Color string

const (
	White Color = "white"
	Black Color = "black"
)

// Opposite returns the other side. Unknown values map to white.
func (c Color) Opposite() Color {
	if c == White {
		return Black
	}
	return White
}

func (c Color) Valid() bool { return c == White || c == Black }

// GameStatus represents a game lifecycle state.
type GameStatus string

const (
	StatusWaiting   GameStatus = "waiting"
	StatusActive    GameStatus = "active"
	StatusCompleted GameStatus = "completed"
)

// GameResult is the terminal classification of a completed game.
type GameResult string

const (
	ResultNone        GameResult = ""
	ResultCheckmate   GameResult = "checkmate"
	ResultStalemate   GameResult = "stalemate"
	ResultDraw        GameResult = "draw"
	ResultResignation GameResult = "resignation"
)

type User struct {
	ID             string    `db:"id" json:"id"`
	Username       string    `db:"username" json:"username"`
	CredentialHash string    `db:"credential_hash" json:"credential_hash"`
	Salt           string    `db:"salt" json:"salt"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

type Game struct {
	ID           string     `db:"id" json:"id"`
	CreatorID    string     `db:"creator_id" json:"creator_id"`
	JoinerID     string     `db:"joiner_id" json:"joiner_id,omitempty"`
	CreatorColor Color      `db:"creator_color" json:"creator_color"`
	Status       GameStatus `db:"status" json:"status"`
	Result       GameResult `db:"result" json:"result"`
	WinnerID     string     `db:"winner_id" json:"winner_id,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	CompletedAt  *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}

// Complete records the terminal state.
func (g *Game) Complete(c Completion) {
	g.Status = StatusCompleted
	g.Result = c.Result
	g.WinnerID = c.WinnerID
	at := c.At
	g.CompletedAt = &at
}

// PlayerSlot binds a user to a color in one game.
type PlayerSlot struct {
	GameID   string    `db:"game_id" json:"game_id"`
	UserID   string    `db:"user_id" json:"user_id"`
	Color    Color     `db:"color" json:"color"`
	JoinedAt time.Time `db:"joined_at" json:"joined_at"`
}

// MoveRecord is one committed ply. Number is 1-based and gap free per game.
type MoveRecord struct {
	GameID      string    `db:"game_id" json:"game_id"`
	Number      int       `db:"move_number" json:"move_number"`
	MoverID     string    `db:"mover_id" json:"mover_id"`
	UCI         string    `db:"uci" json:"uci"`
	SAN         string    `db:"san" json:"san"`
	FENAfter    string    `db:"fen_after" json:"fen_after"`
	IsCheck     bool      `db:"is_check" json:"is_check"`
	IsCheckmate bool      `db:"is_checkmate" json:"is_checkmate"`
	IsStalemate bool      `db:"is_stalemate" json:"is_stalemate"`
	IsDraw      bool      `db:"is_draw" json:"is_draw"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Completion is written together with the move that ends the game.
type Completion struct {
	Result   GameResult
	WinnerID string
	At       time.Time
}

type Session struct {
	Token     string    `db:"token" json:"token"`
	UserID    string    `db:"user_id" json:"user_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	ExpiresAt time.Time `db:"expires_at" json:"expires_at"`
	IsActive  bool      `db:"is_active" json:"is_active"`
}

// Valid reports whether the session may still authenticate at now.
func (s *Session) Valid(now time.Time) bool {
	return s != nil && s.IsActive && now.Before(s.ExpiresAt)
}
