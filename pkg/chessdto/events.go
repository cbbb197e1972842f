package chessdto

// WebSocket frame types.
const (
	TypeMove        = "move"
	TypeResign      = "resign"
	TypeState       = "state"
	TypeJoined      = "joined"
	TypeResigned    = "resigned"
	TypeError       = "error"
	TypePing        = "ping"
	TypeOnlineUsers = "online_users"
)

// Inbound is any frame a client sends. Only the fields relevant to Type are read.
type Inbound struct {
	Type   string `json:"type"`
	Move   string `json:"move,omitempty"`
	UserID string `json:"user_id,omitempty"`
}

// MoveEvent is broadcast to both players after a move commits.
type MoveEvent struct {
	Type        string   `json:"type"`
	GameID      string   `json:"game_id"`
	MoveNumber  int      `json:"move_number"`
	MoverID     string   `json:"mover_id"`
	UCI         string   `json:"uci"`
	SAN         string   `json:"san"`
	Position    string   `json:"position"`
	Turn        string   `json:"turn"`
	MoveHistory []string `json:"move_history"`
	GameStatus  string   `json:"game_status"`
	Check       bool     `json:"check,omitempty"`
	Result      string   `json:"result,omitempty"`
	WinnerID    string   `json:"winner_id,omitempty"`
}

// StateEvent is sent once to a connection right after it attaches.
type StateEvent struct {
	Type      string   `json:"type"`
	Game      GameView `json:"game"`
	YourColor string   `json:"your_color,omitempty"`
}

type JoinedEvent struct {
	Type       string `json:"type"`
	GameID     string `json:"game_id"`
	UserID     string `json:"user_id"`
	Username   string `json:"username,omitempty"`
	Color      string `json:"color"`
	GameStatus string `json:"game_status"`
	Position   string `json:"position"`
	Turn       string `json:"turn"`
}

type ResignedEvent struct {
	Type       string `json:"type"`
	GameID     string `json:"game_id"`
	UserID     string `json:"user_id"`
	WinnerID   string `json:"winner_id"`
	Result     string `json:"result"`
	GameStatus string `json:"game_status"`
}

// ErrorEvent goes only to the connection whose request failed.
type ErrorEvent struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

type OnlineUsersEvent struct {
	Type  string   `json:"type"`
	Users []string `json:"users"`
}

func NewError(code, message string) ErrorEvent {
	return ErrorEvent{Type: TypeError, Code: code, Message: message}
}
