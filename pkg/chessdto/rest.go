package chessdto

import "time"

type Credentials struct {
	Username string `json:"username" validate:"required,min=3,max=32"`
	Password string `json:"password" validate:"required,min=8,max=128"`
}

type AuthResponse struct {
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type CreateGameRequest struct {
	Color string `json:"color" validate:"omitempty,oneof=white black random"`
}

type CreateGameResponse struct {
	GameID string `json:"game_id"`
	Color  string `json:"color"`
}

type PlayerView struct {
	UserID   string `json:"user_id"`
	Username string `json:"username,omitempty"`
	Color    string `json:"color"`
}

type GameView struct {
	ID          string       `json:"id"`
	CreatorID   string       `json:"creator_id"`
	Status      string       `json:"status"`
	Result      string       `json:"result,omitempty"`
	WinnerID    string       `json:"winner_id,omitempty"`
	Position    string       `json:"position"`
	Turn        string       `json:"turn"`
	MoveHistory []string     `json:"move_history"`
	Players     []PlayerView `json:"players"`
	CreatedAt   time.Time    `json:"created_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
}

type OnlineResponse struct {
	Users []string `json:"users"`
}

type HealthResponse struct {
	Status string `json:"status"`
	Store  string `json:"store"`
}
