package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/park285/cheese-arena/internal/boardimg"
	"github.com/park285/cheese-arena/internal/domain"
	"github.com/park285/cheese-arena/internal/game"
	"github.com/park285/cheese-arena/internal/rules"
	"github.com/park285/cheese-arena/internal/stats"
	"github.com/park285/cheese-arena/pkg/chessdto"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 14

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeJson(w, http.StatusBadRequest, NewBadRequestError(s.msgs.Text("errors.bad_request", nil, "malformed request")))
		return false
	}
	if err := s.validate.Validate(v); err != nil {
		s.writeJson(w, http.StatusBadRequest, NewBadRequestError(err.Error()))
		return false
	}
	return true
}

func (s *Server) setSessionCookie(w http.ResponseWriter, value string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// startSession issues a token and sets the cookie. Roster membership follows open sockets only.
func (s *Server) startSession(w http.ResponseWriter, r *http.Request, u domain.User, status int) {
	tok, err := s.sessions.Issue(r.Context(), u.ID)
	if err != nil {
		s.writeError(w, r, err, msgData{})
		return
	}
	s.setSessionCookie(w, tok.Value, tok.ExpiresAt)
	s.writeJson(w, status, chessdto.AuthResponse{
		UserID:    u.ID,
		Username:  u.Username,
		Token:     tok.Value,
		ExpiresAt: tok.ExpiresAt,
	})
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req chessdto.Credentials
	if !s.decode(w, r, &req) {
		return
	}
	u, err := s.accounts.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		s.writeError(w, r, err, msgData{})
		return
	}
	s.startSession(w, r, u, http.StatusCreated)
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req chessdto.Credentials
	if !s.decode(w, r, &req) {
		return
	}
	u, err := s.accounts.Verify(r.Context(), req.Username, req.Password)
	if err != nil {
		s.writeError(w, r, err, msgData{})
		return
	}
	s.startSession(w, r, u, http.StatusOK)
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserID(r.Context())
	if err := s.sessions.Revoke(r.Context(), tokenFrom(r)); err != nil {
		s.writeError(w, r, err, msgData{})
		return
	}
	s.presence.MarkOffline(r.Context(), userID)
	s.clearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) createGame(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserID(r.Context())
	var req chessdto.CreateGameRequest
	if r.ContentLength != 0 && !s.decode(w, r, &req) {
		return
	}
	color, err := game.ParseColor(req.Color)
	if err != nil {
		s.writeError(w, r, err, msgData{})
		return
	}
	snap, err := s.games.Create(r.Context(), userID, color)
	if err != nil {
		s.writeError(w, r, err, msgData{})
		return
	}
	s.stats.Incr(stats.GamesCreated)
	s.writeJson(w, http.StatusCreated, chessdto.CreateGameResponse{GameID: snap.Game.ID, Color: string(color)})
}

func (s *Server) names(r *http.Request) func(string) string {
	return func(id string) string { return s.accounts.Name(r.Context(), id) }
}

func (s *Server) getGame(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	snap, err := s.games.Snapshot(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err, msgData{GameID: id})
		return
	}
	s.writeJson(w, http.StatusOK, snap.View(s.names(r)))
}

func (s *Server) getPGN(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	snap, err := s.games.Snapshot(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err, msgData{GameID: id})
		return
	}
	names := s.names(r)
	var white, black string
	if uid := snap.PlayerFor(domain.White); uid != "" {
		white = names(uid)
	}
	if uid := snap.PlayerFor(domain.Black); uid != "" {
		black = names(uid)
	}
	w.Header().Set("Content-Type", "application/x-chess-pgn")
	w.Header().Set("Content-Disposition", `attachment; filename="`+snap.Game.ID+`.pgn"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(game.BuildPGN(snap, white, black)))
}

// getBoard renders the position. Without an explicit flip, a black player sees their own side at the bottom.
func (s *Server) getBoard(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	snap, err := s.games.Snapshot(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err, msgData{GameID: id})
		return
	}
	q := r.URL.Query()
	opts := boardimg.Options{}
	if v := q.Get("flip"); v != "" {
		opts.Flip, _ = strconv.ParseBool(v)
	} else if userID, ok := UserID(r.Context()); ok {
		c, seated, _ := s.games.Color(r.Context(), id, userID)
		opts.Flip = seated && c == domain.Black
	}
	if v := q.Get("size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.writeJson(w, http.StatusBadRequest, NewBadRequestError("size must be an integer"))
			return
		}
		opts.Size = boardimg.ClampSize(n)
	}
	if n := len(snap.UCI); n > 0 {
		opts.LastMove = snap.UCI[n-1]
	}
	png, err := boardimg.RenderPNG(r.Context(), rules.Board(snap.Position()), opts)
	if err != nil {
		s.log.Error("board_render_failed", zap.String("game_id", id), zap.Error(err))
		s.writeError(w, r, err, msgData{GameID: id})
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(png)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

func (s *Server) online(w http.ResponseWriter, r *http.Request) {
	s.writeJson(w, http.StatusOK, chessdto.OnlineResponse{Users: s.presence.Roster()})
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeJson(w, http.StatusOK, chessdto.HealthResponse{Status: "ok", Store: "none"})
		return
	}
	if err := s.store.Ping(r.Context()); err != nil {
		s.log.Warn("health_store_down", zap.Error(err))
		s.writeJson(w, http.StatusServiceUnavailable, chessdto.HealthResponse{Status: "degraded", Store: "down"})
		return
	}
	s.writeJson(w, http.StatusOK, chessdto.HealthResponse{Status: "ok", Store: "ok"})
}
