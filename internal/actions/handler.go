package actions

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/dateapp/dateapp-admin/internal/audit"
	"github.com/dateapp/dateapp-admin/internal/platform/httpx"
	"github.com/dateapp/dateapp-admin/internal/session"
	"github.com/dateapp/dateapp-admin/internal/shared"
)

// Service is the dispatcher surface used over HTTP; *Dispatcher satisfies it.
type Service interface {
	Dispatch(ctx context.Context, token string, req Request) (Result, error)
	Reconcile(ctx context.Context, token string, req ReconcileRequest) (Result, error)
	Pending(ctx context.Context, token string) ([]Mark, error)
}

// Handler exposes action dispatch and reconciliation. Routes expect
// session.Middleware upstream.
type Handler struct {
	logger    *slog.Logger
	service   Service
	validator *validator.Validate
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers POST /{type}.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/{type}", h.handleDispatch)
}

// MountReconciliationRoutes registers the reconciliation endpoints.
func (h *Handler) MountReconciliationRoutes(r chi.Router) {
	r.Get("/", h.handlePending)
	r.Post("/", h.handleReconcile)
}

type dispatchRequest struct {
	ResourceID string `json:"resourceId" validate:"required,max=128"`
	Reason     string `json:"reason" validate:"max=1000"`
	Amount     *int64 `json:"amount"`
	Tier       string `json:"tier" validate:"max=32"`
}

type reconcileRequest struct {
	ResourceID string `json:"resourceId" validate:"required,max=128"`
	Reason     string `json:"reason" validate:"max=1000"`
	RefSeq     *int64 `json:"refSeq" validate:"omitempty,gt=0"`
}

func (h *Handler) handleDispatch(w http.ResponseWriter, r *http.Request) {
	var body dispatchRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(body); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", shared.ErrValidation, err))
		return
	}
	req := Request{
		Type:           Type(chi.URLParam(r, "type")),
		ResourceID:     body.ResourceID,
		Reason:         body.Reason,
		Amount:         body.Amount,
		Tier:           body.Tier,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	}
	result, err := h.service.Dispatch(r.Context(), session.TokenFromContext(r.Context()), req)
	if err != nil {
		h.respondDispatchError(w, req.Type, result, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

// respondDispatchError carries the audit decision of a failed or
// inconsistent dispatch in the problem document so callers can look it up.
func (h *Handler) respondDispatchError(w http.ResponseWriter, t Type, result Result, err error) {
	problem := httpx.ProblemFor(err)
	switch result.Outcome {
	case audit.OutcomeFailure:
		if problem.Status >= http.StatusInternalServerError {
			problem = httpx.ProblemDetail{
				Title:  "Action Failed",
				Status: http.StatusUnprocessableEntity,
				Detail: err.Error(),
			}
		}
		problem.AuditSeq = result.AuditSeq
		problem.Outcome = string(result.Outcome)
		h.logger.Warn("action failed",
			slog.String("type", string(t)),
			slog.Int64("audit_seq", result.AuditSeq),
			slog.Any("error", err),
		)
	case audit.OutcomeInconsistent:
		problem.Outcome = string(result.Outcome)
		h.logger.Error("dispatch action", slog.String("type", string(t)), slog.Any("error", err))
	default:
		if problem.Status >= http.StatusInternalServerError {
			h.logger.Error("dispatch action", slog.String("type", string(t)), slog.Any("error", err))
		}
	}
	httpx.WriteProblem(w, problem)
}

func (h *Handler) handleReconcile(w http.ResponseWriter, r *http.Request) {
	var body reconcileRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(body); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", shared.ErrValidation, err))
		return
	}
	result, err := h.service.Reconcile(r.Context(), session.TokenFromContext(r.Context()), ReconcileRequest{
		ResourceID: body.ResourceID,
		Reason:     body.Reason,
		RefSeq:     body.RefSeq,
	})
	if err != nil {
		if httpx.StatusFor(err) >= http.StatusInternalServerError {
			h.logger.Error("reconcile", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) handlePending(w http.ResponseWriter, r *http.Request) {
	marks, err := h.service.Pending(r.Context(), session.TokenFromContext(r.Context()))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"pending": marks})
}
