// Package httpapi exposes the REST endpoints and the game and presence WebSockets.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/handlers"
	"github.com/park285/cheese-arena/internal/account"
	"github.com/park285/cheese-arena/internal/fanout"
	"github.com/park285/cheese-arena/internal/game"
	"github.com/park285/cheese-arena/internal/msgcat"
	"github.com/park285/cheese-arena/internal/obslog"
	"github.com/park285/cheese-arena/internal/presence"
	"github.com/park285/cheese-arena/internal/session"
	"github.com/park285/cheese-arena/internal/stats"
	"github.com/park285/cheese-arena/internal/wsconn"
	"go.uber.org/zap"
)

const sessionCookie = "session_id"

// Pinger reports storage health.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Accounts *account.Service
	Sessions *session.Bridge
	Games    *game.Registry
	Presence *presence.Tracker
	Hub      fanout.Broadcaster
	Stats    *stats.Updater
	Store    Pinger
	Messages *msgcat.Catalog

	WS             wsconn.Options
	AllowedOrigins []string
	CookieSecure   bool
	Logger         *zap.Logger
}

type Server struct {
	accounts *account.Service
	sessions *session.Bridge
	games    *game.Registry
	presence *presence.Tracker
	hub      fanout.Broadcaster
	stats    *stats.Updater
	store    Pinger
	msgs     *msgcat.Catalog

	ws             wsconn.Options
	allowedOrigins []string
	cookieSecure   bool
	validate       *requestValidator
	log            *zap.Logger
}

func New(d Deps) *Server {
	s := &Server{
		accounts:       d.Accounts,
		sessions:       d.Sessions,
		games:          d.Games,
		presence:       d.Presence,
		hub:            d.Hub,
		stats:          d.Stats,
		store:          d.Store,
		msgs:           d.Messages,
		ws:             d.WS,
		allowedOrigins: d.AllowedOrigins,
		cookieSecure:   d.CookieSecure,
		validate:       newValidator(),
		log:            d.Logger,
	}
	if s.log == nil {
		s.log = obslog.Named("http")
	}
	if s.stats == nil {
		s.stats = stats.New()
	}
	if s.msgs == nil {
		s.msgs = msgcat.MustDefault()
	}
	if len(s.ws.OriginPatterns) == 0 {
		s.ws.OriginPatterns = originHosts(d.AllowedOrigins)
	}
	return s
}

// Handler builds the routed, CORS-wrapped and panic-safe handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /register", s.register)
	mux.HandleFunc("POST /login", s.login)
	mux.HandleFunc("POST /logout", s.authMiddleware(s.logout))
	mux.HandleFunc("POST /games", s.authMiddleware(s.createGame))
	mux.HandleFunc("GET /games/{id}", s.authMiddleware(s.getGame))
	mux.HandleFunc("GET /games/{id}/pgn", s.authMiddleware(s.getPGN))
	mux.HandleFunc("GET /games/{id}/board.png", s.authMiddleware(s.getBoard))
	mux.HandleFunc("GET /online", s.authMiddleware(s.online))
	mux.HandleFunc("GET /healthz", s.healthCheck)
	mux.Handle("GET /debug/vars", s.stats.Handler())
	mux.HandleFunc("GET /ws/games/{id}", s.authMiddleware(s.serveGameWs))
	mux.HandleFunc("GET /ws/presence", s.authMiddleware(s.servePresenceWs))

	var h http.Handler = mux
	if len(s.allowedOrigins) > 0 {
		h = handlers.CORS(
			handlers.MaxAge(3600),
			handlers.AllowedOrigins(s.allowedOrigins),
			handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
			handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
			handlers.AllowCredentials(),
		)(h)
	}
	return handlers.RecoveryHandler(
		handlers.RecoveryLogger(zap.NewStdLog(s.log)),
		handlers.PrintRecoveryStack(true),
	)(h)
}

func (s *Server) writeJson(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Debug("json_encode_failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error, data msgData) {
	ae := toAPIError(err, s.msgs, data)
	if ae.StatusCode >= http.StatusInternalServerError {
		s.log.Error("http_error",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ae.StatusCode),
			zap.Error(err),
		)
	}
	s.writeJson(w, ae.StatusCode, ae)
}

// originHosts turns "https://host:port" origins into the host patterns websocket.Accept expects.
func originHosts(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if i := strings.Index(o, "://"); i >= 0 {
			o = o[i+3:]
		}
		if o != "" {
			out = append(out, o)
		}
	}
	return out
}
