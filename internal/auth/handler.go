package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/dateapp/dateapp-admin/internal/platform/httpx"
	"github.com/dateapp/dateapp-admin/internal/rbac"
	"github.com/dateapp/dateapp-admin/internal/session"
	"github.com/dateapp/dateapp-admin/internal/shared"
)

// Authenticator verifies credentials; *Service satisfies it.
type Authenticator interface {
	Authenticate(ctx context.Context, email, password string) (rbac.Principal, error)
}

// Sessions is the subset of the session manager used by the handler.
type Sessions interface {
	SignIn(ctx context.Context, principal rbac.Principal) (session.Session, error)
	Refresh(ctx context.Context, token string) (session.Session, error)
	SignOut(ctx context.Context, token string) error
	Validate(ctx context.Context, token string) (session.Session, error)
}

// Handler wires HTTP endpoints for the admin session lifecycle.
type Handler struct {
	logger    *slog.Logger
	service   Authenticator
	sessions  Sessions
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service Authenticator, sessions Sessions) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:    logger,
		service:   service,
		sessions:  sessions,
		validator: validator.New(),
	}
}

// MountRoutes registers session routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.handleSignIn)
	r.Post("/refresh", h.handleRefresh)
	r.Post("/signout", h.handleSignOut)
	r.With(session.Middleware{Sessions: h.sessions, Logger: h.logger}.Require).Get("/", h.handleCurrent)
}

type signInRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	SessionID string    `json:"sessionId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type currentResponse struct {
	SessionID string         `json:"sessionId"`
	Principal rbac.Principal `json:"principal"`
	StartedAt time.Time      `json:"startedAt"`
	ExpiresAt time.Time      `json:"expiresAt"`
}

func (h *Handler) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %s", shared.ErrValidation, describeValidation(err)))
		return
	}
	principal, err := h.service.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		if !isAuthFailure(err) {
			h.logger.Error("authenticate", slog.Any("error", err))
		} else {
			h.logger.Info("sign-in rejected", slog.String("reason", err.Error()))
		}
		httpx.RespondError(w, err)
		return
	}
	sess, err := h.sessions.SignIn(r.Context(), principal)
	if err != nil {
		h.logger.Error("open session", slog.String("principal", principal.ID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, tokenResponse{Token: sess.Token, SessionID: sess.ID, ExpiresAt: sess.ExpiresAt})
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	token := httpx.BearerToken(r)
	if token == "" {
		httpx.RespondError(w, shared.ErrSessionNotFound)
		return
	}
	sess, err := h.sessions.Refresh(r.Context(), token)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, tokenResponse{Token: sess.Token, SessionID: sess.ID, ExpiresAt: sess.ExpiresAt})
}

func (h *Handler) handleSignOut(w http.ResponseWriter, r *http.Request) {
	if token := httpx.BearerToken(r); token != "" {
		if err := h.sessions.SignOut(r.Context(), token); err != nil {
			h.logger.Error("sign out", slog.Any("error", err))
			httpx.RespondError(w, err)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleCurrent(w http.ResponseWriter, r *http.Request) {
	sess, ok := session.FromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrSessionNotFound)
		return
	}
	httpx.JSON(w, http.StatusOK, currentResponse{
		SessionID: sess.ID,
		Principal: sess.Principal,
		StartedAt: sess.StartedAt,
		ExpiresAt: sess.ExpiresAt,
	})
}

func isAuthFailure(err error) bool {
	return errors.Is(err, shared.ErrInvalidCredentials) || errors.Is(err, shared.ErrPrincipalInactive)
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	return fmt.Sprintf("field %s failed %s", fe.Field(), fe.Tag())
}
