package httpapi

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

type contextKey string

const userIDKey contextKey = "user-id"

func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

func UserID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	return id, ok && id != ""
}

// tokenFrom prefers the session cookie, then a bearer header.
func tokenFrom(r *http.Request) string {
	if c, err := r.Cookie(sessionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// authMiddleware resolves the session before the handler runs; ws upgrades included.
func (s *Server) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := tokenFrom(r)
		if token == "" {
			s.writeJson(w, http.StatusUnauthorized, s.unauthorized())
			return
		}
		userID, ok, err := s.sessions.Resolve(r.Context(), token)
		if err != nil {
			s.log.Warn("session_resolve_failed", zap.Error(err))
			e := newAPIError(http.StatusServiceUnavailable, "store_unavailable",
				s.msgs.Text("errors.store_unavailable", nil, "storage unavailable"))
			e.Retryable = true
			s.writeJson(w, e.StatusCode, e)
			return
		}
		if !ok {
			s.writeJson(w, http.StatusUnauthorized, s.unauthorized())
			return
		}
		w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")
		next(w, r.WithContext(WithUserID(r.Context(), userID)))
	}
}

func (s *Server) unauthorized() *ApiError {
	e := NewUnauthorizedError()
	e.Message = s.msgs.Text("errors.unauthorized", nil, e.Message)
	return e
}
