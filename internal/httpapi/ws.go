package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/park285/cheese-arena/internal/game"
	"github.com/park285/cheese-arena/internal/stats"
	"github.com/park285/cheese-arena/internal/wsconn"
	"github.com/park285/cheese-arena/pkg/chessdto"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

type subscriberCounter interface {
	Subscribers(topic string) int
}

// serveGameWs attaches a player to a game: join (or re-attach), subscribe, send state, then read moves.
func (s *Server) serveGameWs(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserID(r.Context())
	gameID := r.PathValue("id")
	if _, err := s.games.Snapshot(r.Context(), gameID); err != nil {
		s.writeError(w, r, err, msgData{GameID: gameID})
		return
	}

	c, err := wsconn.Accept(w, r, userID, s.ws)
	if err != nil {
		s.log.Warn("ws_accept_failed", zap.String("game_id", gameID), zap.Error(err))
		return
	}
	ctx := r.Context()
	log := s.log.With(zap.String("game_id", gameID), zap.String("user_id", userID), zap.String("conn_id", c.ID()))

	s.stats.Incr(stats.WSConnections)
	defer s.stats.Decr(stats.WSConnections)

	color, err := s.games.Join(ctx, gameID, userID)
	if err != nil {
		// 관전은 지원하지 않음
		ev := errorEvent(err, s.msgs, msgData{GameID: gameID})
		_ = c.WriteNow(ctx, ev)
		c.Close(websocket.StatusPolicyViolation, ev.Code)
		log.Info("ws_attach_rejected", zap.String("code", ev.Code))
		return
	}

	name := s.accounts.Name(ctx, userID)
	topic := game.Topic(gameID)
	s.presence.Connect(ctx, userID, name)
	s.hub.Subscribe(topic, c)
	defer func() {
		s.hub.Unsubscribe(topic, c)
		s.presence.Disconnect(context.WithoutCancel(ctx), userID)
		c.Close(websocket.StatusNormalClosure, "")
		// finished games with nobody attached are rebuilt from the store on demand
		if n, ok := s.hub.(subscriberCounter); ok && n.Subscribers(topic) == 0 && s.games.Forget(gameID) {
			log.Debug("game_forget")
		}
		log.Debug("ws_detach")
	}()

	snap, err := s.games.Snapshot(ctx, gameID)
	if err != nil {
		_ = c.SendJSON(ctx, errorEvent(err, s.msgs, msgData{GameID: gameID}))
		return
	}
	_ = c.SendJSON(ctx, chessdto.StateEvent{
		Type:      chessdto.TypeState,
		Game:      snap.View(func(id string) string { return s.accounts.Name(ctx, id) }),
		YourColor: string(color),
	})
	log.Info("ws_attach", zap.String("color", string(color)))

	err = c.Run(ctx, func(ctx context.Context, c *wsconn.Conn, raw []byte) {
		s.handleGameFrame(ctx, c, gameID, raw)
	})
	if err != nil {
		log.Debug("ws_read_closed", zap.Error(err))
	}
}

func (s *Server) handleGameFrame(ctx context.Context, c *wsconn.Conn, gameID string, raw []byte) {
	var in chessdto.Inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		_ = c.SendJSON(ctx, chessdto.NewError("bad_request", s.msgs.Text("errors.bad_request", nil, "malformed request")))
		return
	}
	userID := c.UserID()
	switch in.Type {
	case chessdto.TypeMove:
		if _, err := s.games.Submit(ctx, gameID, userID, in.Move); err != nil {
			s.stats.Incr(stats.MovesRejected)
			_ = c.SendJSON(ctx, errorEvent(err, s.msgs, msgData{GameID: gameID, Move: in.Move}))
			return
		}
		s.stats.Incr(stats.MovesCommitted)
	case chessdto.TypeResign:
		if _, err := s.games.Resign(ctx, gameID, userID); err != nil {
			_ = c.SendJSON(ctx, errorEvent(err, s.msgs, msgData{GameID: gameID}))
		}
	case chessdto.TypePing:
		s.presence.Heartbeat(ctx, userID)
	default:
		_ = c.SendJSON(ctx, chessdto.NewError("bad_request", s.msgs.Text("errors.bad_request", nil, "malformed request")))
	}
}

// servePresenceWs streams the online roster. A ping refreshes the caller and returns the roster to it alone.
func (s *Server) servePresenceWs(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserID(r.Context())
	c, err := wsconn.Accept(w, r, userID, s.ws)
	if err != nil {
		s.log.Warn("ws_accept_failed", zap.Error(err))
		return
	}
	ctx := r.Context()
	s.stats.Incr(stats.WSConnections)
	defer s.stats.Decr(stats.WSConnections)

	s.presence.Connect(ctx, userID, s.accounts.Name(ctx, userID))
	s.presence.Subscribe(c)
	defer func() {
		s.presence.Unsubscribe(c)
		s.presence.Disconnect(context.WithoutCancel(ctx), userID)
		c.Close(websocket.StatusNormalClosure, "")
	}()
	_ = c.SendJSON(ctx, s.presence.RosterEvent())

	err = c.Run(ctx, func(ctx context.Context, c *wsconn.Conn, raw []byte) {
		var in chessdto.Inbound
		if err := json.Unmarshal(raw, &in); err != nil || in.Type != chessdto.TypePing {
			_ = c.SendJSON(ctx, chessdto.NewError("bad_request", s.msgs.Text("errors.bad_request", nil, "malformed request")))
			return
		}
		s.presence.Heartbeat(ctx, c.UserID())
		_ = c.SendJSON(ctx, s.presence.RosterEvent())
	})
	if err != nil {
		s.log.Debug("ws_read_closed", zap.String("user_id", userID), zap.Error(err))
	}
}
