package rbac

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dateapp/dateapp-admin/internal/platform/httpx"
	"github.com/dateapp/dateapp-admin/internal/shared"
)

// PermissionsHandler reports what the current principal may do.
type PermissionsHandler struct {
	checker Checker
}

// NewPermissionsHandler builds a PermissionsHandler.
func NewPermissionsHandler(checker Checker) *PermissionsHandler {
	if checker == nil {
		checker = Evaluator{}
	}
	return &PermissionsHandler{checker: checker}
}

// MountRoutes registers permission routes.
func (h *PermissionsHandler) MountRoutes(r chi.Router) {
	r.Get("/", h.listEffective)
}

type effectivePermission struct {
	Resource string `json:"resource"`
	Actions  []Verb `json:"actions"`
}

type permissionsResponse struct {
	PrincipalID string                `json:"principalId"`
	Role        Role                  `json:"role"`
	Effective   []effectivePermission `json:"effective"`
}

func (h *PermissionsHandler) listEffective(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrSessionNotFound)
		return
	}
	resp := permissionsResponse{PrincipalID: principal.ID, Role: principal.Role}
	for _, resource := range KnownResources() {
		var verbs []Verb
		for _, v := range []Verb{VerbRead, VerbWrite, VerbDelete} {
			if h.checker.Check(principal, resource, v) {
				verbs = append(verbs, v)
			}
		}
		if len(verbs) > 0 {
			resp.Effective = append(resp.Effective, effectivePermission{Resource: resource, Actions: verbs})
		}
	}
	httpx.JSON(w, http.StatusOK, resp)
}
