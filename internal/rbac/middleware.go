package rbac

import (
	"log/slog"
	"net/http"

	"github.com/dateapp/dateapp-admin/internal/platform/httpx"
	"github.com/dateapp/dateapp-admin/internal/shared"
)

// Middleware wires permission checks for HTTP handlers. It expects the
// session middleware to have stored the principal in the request context.
type Middleware struct {
	Checker Checker
	Logger  *slog.Logger
}

// Require allows the request only when the principal may perform verb on resource.
func (m Middleware) Require(resource string, verb Verb) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := PrincipalFromContext(r.Context())
			if !ok {
				httpx.RespondError(w, shared.ErrSessionNotFound)
				return
			}
			if m.checker().Check(principal, resource, verb) {
				next.ServeHTTP(w, r)
				return
			}
			if m.Logger != nil {
				m.Logger.Warn("rbac denied",
					slog.String("principal", principal.ID),
					slog.String("resource", resource),
					slog.String("verb", string(verb)),
				)
			}
			httpx.RespondError(w, shared.ErrPermissionDenied)
		})
	}
}

func (m Middleware) checker() Checker {
	if m.Checker == nil {
		return Evaluator{}
	}
	return m.Checker
}
