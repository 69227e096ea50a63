package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/dateapp/dateapp-admin/internal/actions"
	audithttp "github.com/dateapp/dateapp-admin/internal/audit/http"
	"github.com/dateapp/dateapp-admin/internal/auth"
	"github.com/dateapp/dateapp-admin/internal/observability"
	"github.com/dateapp/dateapp-admin/internal/rbac"
	"github.com/dateapp/dateapp-admin/internal/reveal"
	"github.com/dateapp/dateapp-admin/internal/session"
	"github.com/dateapp/dateapp-admin/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	Sessions           session.Validator
	Checker            rbac.Checker
	AuthHandler        *auth.Handler
	PermissionsHandler *rbac.PermissionsHandler
	RevealHandler      *reveal.Handler
	ActionsHandler     *actions.Handler
	AuditHandler       *audithttp.Handler
	JobHandler         *jobs.Handler
	Metrics            *observability.Metrics
}

// NewRouter constructs the chi.Router with admin API defaults.
func NewRouter(params RouterParams) http.Handler {
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	guard := rbac.Middleware{Checker: params.Checker, Logger: logger}
	authenticated := session.Middleware{Sessions: params.Sessions, Logger: logger}

	r.Route("/admin", func(r chi.Router) {
		if params.AuthHandler != nil {
			r.Route("/session", params.AuthHandler.MountRoutes)
		}
		r.Group(func(r chi.Router) {
			r.Use(authenticated.Require)
			if params.PermissionsHandler != nil {
				r.Route("/permissions", params.PermissionsHandler.MountRoutes)
			}
			if params.RevealHandler != nil {
				r.Route("/reveal", params.RevealHandler.MountRoutes)
			}
			if params.ActionsHandler != nil {
				r.Route("/actions", params.ActionsHandler.MountRoutes)
				r.Route("/reconciliations", params.ActionsHandler.MountReconciliationRoutes)
			}
			if params.AuditHandler != nil {
				r.Route("/audit-logs", func(r chi.Router) {
					params.AuditHandler.MountRoutes(r, guard)
				})
			}
			if params.JobHandler != nil {
				r.With(guard.Require(rbac.ResourceAuditLog, rbac.VerbRead)).Route("/jobs", params.JobHandler.MountRoutes)
			}
		})
	})

	return r
}
