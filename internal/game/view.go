package game

import (
	"github.com/park285/cheese-arena/internal/domain"
	"github.com/park285/cheese-arena/pkg/chessdto"
)

// StatusLabel is the wire game_status: "waiting", "ongoing", or the result once completed.
func (s *Snapshot) StatusLabel() string {
	switch s.Game.Status {
	case domain.StatusWaiting:
		return "waiting"
	case domain.StatusCompleted:
		return string(s.Game.Result)
	}
	return "ongoing"
}

// View renders the snapshot for clients. names may be nil.
func (s *Snapshot) View(names func(userID string) string) chessdto.GameView {
	v := chessdto.GameView{
		ID:          s.Game.ID,
		CreatorID:   s.Game.CreatorID,
		Status:      string(s.Game.Status),
		Result:      string(s.Game.Result),
		WinnerID:    s.Game.WinnerID,
		Position:    s.FEN,
		Turn:        string(s.Turn),
		MoveHistory: s.SAN,
		Players:     make([]chessdto.PlayerView, 0, len(s.Players)),
		CreatedAt:   s.Game.CreatedAt,
		CompletedAt: s.Game.CompletedAt,
	}
	for _, p := range s.Players {
		pv := chessdto.PlayerView{UserID: p.UserID, Color: string(p.Color)}
		if names != nil {
			pv.Username = names(p.UserID)
		}
		v.Players = append(v.Players, pv)
	}
	return v
}

func moveEvent(s *Snapshot, moverID string, uci, san string, check bool) chessdto.MoveEvent {
	return chessdto.MoveEvent{
		Type:        chessdto.TypeMove,
		GameID:      s.Game.ID,
		MoveNumber:  s.Moves(),
		MoverID:     moverID,
		UCI:         uci,
		SAN:         san,
		Position:    s.FEN,
		Turn:        string(s.Turn),
		MoveHistory: s.SAN,
		GameStatus:  s.StatusLabel(),
		Check:       check,
		Result:      string(s.Game.Result),
		WinnerID:    s.Game.WinnerID,
	}
}
