package session

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/dateapp/dateapp-admin/internal/platform/httpx"
	"github.com/dateapp/dateapp-admin/internal/rbac"
	"github.com/dateapp/dateapp-admin/internal/shared"
)

// Validator resolves bearer tokens; *Manager satisfies it.
type Validator interface {
	Validate(ctx context.Context, token string) (Session, error)
}

// Middleware authenticates requests carrying "Authorization: Bearer <token>".
type Middleware struct {
	Sessions Validator
	Logger   *slog.Logger
}

// Require rejects requests without a currently valid session and stores the
// session and principal snapshot in the request context.
func (m Middleware) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := httpx.BearerToken(r)
		if token == "" {
			httpx.RespondError(w, shared.ErrSessionNotFound)
			return
		}
		sess, err := m.Sessions.Validate(r.Context(), token)
		if err != nil {
			if !isSessionError(err) && m.Logger != nil {
				m.Logger.Error("validate session", slog.Any("error", err))
			}
			httpx.RespondError(w, err)
			return
		}
		ctx := ContextWithSession(r.Context(), sess, token)
		ctx = rbac.ContextWithPrincipal(ctx, sess.Principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
