package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidCredentials indicates sign-in failure (AuthenticationFailed).
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrPrincipalInactive is returned when a disabled principal tries to open a session.
	ErrPrincipalInactive = errors.New("principal inactive")

	// ErrSessionNotFound indicates an unknown session token.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExpired indicates the session passed its absolute expiry.
	ErrSessionExpired = errors.New("session expired")
	// ErrSessionRevoked indicates the session was signed out or rotated.
	ErrSessionRevoked = errors.New("session revoked")

	// ErrPermissionDenied indicates the principal lacks the required permission.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrMissingReason is returned for destructive or financial actions without a reason.
	ErrMissingReason = errors.New("reason required")
	// ErrInvalidAmount is returned when a financial action carries no positive amount.
	ErrInvalidAmount = errors.New("amount must be greater than zero")
	// ErrValidation wraps malformed input.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidState indicates the target is not in a state the action applies to.
	ErrInvalidState = errors.New("invalid state for action")
	// ErrUnsupportedAction is returned for unknown or non-dispatchable action types.
	ErrUnsupportedAction = errors.New("unsupported action")

	// ErrInvalidCode indicates the reveal challenge code did not match.
	ErrInvalidCode = errors.New("invalid code")
	// ErrGrantNotFound indicates no pending reveal exists for the session and resource.
	ErrGrantNotFound = errors.New("reveal grant not found")
	// ErrGrantExpired indicates the reveal grant passed its TTL.
	ErrGrantExpired = errors.New("reveal grant expired")
	// ErrGrantAlreadyConsumed indicates the reveal grant was used before.
	ErrGrantAlreadyConsumed = errors.New("reveal grant already consumed")
	// ErrTooManyAttempts indicates the pending grant was dropped after repeated wrong codes.
	ErrTooManyAttempts = errors.New("too many attempts")
	// ErrRateLimited indicates the caller exceeded a throttle.
	ErrRateLimited = errors.New("rate limited")

	// ErrAuditWriteFailed is fatal: the audit trail could not be extended.
	ErrAuditWriteFailed = errors.New("audit write failed")
	// ErrResourceInconsistent blocks actions on a resource whose audit trail is incomplete.
	ErrResourceInconsistent = errors.New("resource awaiting reconciliation")
)
