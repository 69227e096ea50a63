// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/dateapp/dateapp-admin/internal/shared"
)

// ProblemTypeAuditInconsistent marks responses whose action committed without an audit record.
const ProblemTypeAuditInconsistent = "urn:dateapp:audit-inconsistent"

type errorMapping struct {
	target error
	status int
	title  string
}

// Order matters: the first match wins, so fatal kinds come first.
var errorTable = []errorMapping{
	{shared.ErrAuditWriteFailed, http.StatusInternalServerError, "Audit Write Failed"},
	{shared.ErrResourceInconsistent, http.StatusLocked, "Resource Awaiting Reconciliation"},
	{shared.ErrInvalidCredentials, http.StatusUnauthorized, "Authentication Failed"},
	{shared.ErrPrincipalInactive, http.StatusUnauthorized, "Authentication Failed"},
	{shared.ErrSessionNotFound, http.StatusUnauthorized, "Session Not Found"},
	{shared.ErrSessionExpired, http.StatusUnauthorized, "Session Expired"},
	{shared.ErrSessionRevoked, http.StatusUnauthorized, "Session Revoked"},
	{shared.ErrPermissionDenied, http.StatusForbidden, "Permission Denied"},
	{shared.ErrMissingReason, http.StatusBadRequest, "Reason Required"},
	{shared.ErrInvalidAmount, http.StatusBadRequest, "Invalid Amount"},
	{shared.ErrValidation, http.StatusBadRequest, "Validation Failed"},
	{shared.ErrInvalidState, http.StatusConflict, "Invalid State"},
	{shared.ErrUnsupportedAction, http.StatusNotFound, "Unsupported Action"},
	{shared.ErrInvalidCode, http.StatusUnprocessableEntity, "Invalid Code"},
	{shared.ErrGrantNotFound, http.StatusNotFound, "Reveal Not Requested"},
	{shared.ErrGrantExpired, http.StatusGone, "Reveal Expired"},
	{shared.ErrGrantAlreadyConsumed, http.StatusConflict, "Reveal Already Used"},
	{shared.ErrTooManyAttempts, http.StatusTooManyRequests, "Too Many Attempts"},
	{shared.ErrRateLimited, http.StatusTooManyRequests, "Rate Limited"},
	{shared.ErrIdempotencyConflict, http.StatusConflict, "Duplicate Request"},
	{shared.ErrNotFound, http.StatusNotFound, "Not Found"},
}

// StatusFor reports the HTTP status RespondError would use for err.
func StatusFor(err error) int {
	return ProblemFor(err).Status
}

// ProblemFor maps err to its problem document. Errors outside the taxonomy
// become an opaque 500.
func ProblemFor(err error) ProblemDetail {
	for _, m := range errorTable {
		if !errors.Is(err, m.target) {
			continue
		}
		p := ProblemDetail{Title: m.title, Status: m.status, Detail: m.target.Error()}
		if errors.Is(err, shared.ErrAuditWriteFailed) {
			p.Type = ProblemTypeAuditInconsistent
		}
		return p
	}
	return ProblemDetail{Title: "Internal Error", Status: http.StatusInternalServerError}
}

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	WriteProblem(w, ProblemFor(err))
}
