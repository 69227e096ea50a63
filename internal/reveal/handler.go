package reveal

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/dateapp/dateapp-admin/internal/platform/httpx"
	"github.com/dateapp/dateapp-admin/internal/session"
	"github.com/dateapp/dateapp-admin/internal/shared"
)

// Service is the gate surface used over HTTP; *Gate satisfies it.
type Service interface {
	RequestReveal(ctx context.Context, token, resourceID string) (Challenge, error)
	ConfirmReveal(ctx context.Context, token, resourceID, code string) (Revealed, error)
	Masked(ctx context.Context, token, resourceID string) (Field, error)
}

// Handler exposes the reveal flow. Routes expect session.Middleware upstream.
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

// MountRoutes registers reveal routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/{resourceID}", h.handleMasked)
	r.Post("/{resourceID}/request", h.handleRequest)
	r.Post("/{resourceID}/confirm", h.handleConfirm)
}

type confirmRequest struct {
	Code string `json:"code" validate:"required,numeric,min=4,max=10"`
}

type maskedResponse struct {
	ResourceID string    `json:"resourceId"`
	Kind       FieldKind `json:"kind"`
	Value      string    `json:"value"`
	Masked     bool      `json:"masked"`
}

func (h *Handler) handleMasked(w http.ResponseWriter, r *http.Request) {
	field, err := h.service.Masked(r.Context(), session.TokenFromContext(r.Context()), chi.URLParam(r, "resourceID"))
	if err != nil {
		h.respond(w, "masked read", err)
		return
	}
	httpx.JSON(w, http.StatusOK, maskedResponse{ResourceID: field.ResourceID, Kind: field.Kind, Value: field.Value, Masked: true})
}

func (h *Handler) handleRequest(w http.ResponseWriter, r *http.Request) {
	challenge, err := h.service.RequestReveal(r.Context(), session.TokenFromContext(r.Context()), chi.URLParam(r, "resourceID"))
	if err != nil {
		h.respond(w, "request reveal", err)
		return
	}
	httpx.JSON(w, http.StatusAccepted, challenge)
}

func (h *Handler) handleConfirm(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: code must be numeric", shared.ErrValidation))
		return
	}
	revealed, err := h.service.ConfirmReveal(r.Context(), session.TokenFromContext(r.Context()), chi.URLParam(r, "resourceID"), req.Code)
	if err != nil {
		h.respond(w, "confirm reveal", err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	httpx.JSON(w, http.StatusOK, revealed)
}

func (h *Handler) respond(w http.ResponseWriter, op string, err error) {
	if httpx.StatusFor(err) >= http.StatusInternalServerError {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
