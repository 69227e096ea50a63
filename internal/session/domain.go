package session

import (
	"time"

	"github.com/dateapp/dateapp-admin/internal/rbac"
)

// Session is the caller-facing view of one authenticated admin client.
// Token is only populated when the session is issued or refreshed.
type Session struct {
	ID          string         `json:"id"`
	Token       string         `json:"-"`
	PrincipalID string         `json:"principalId"`
	Principal   rbac.Principal `json:"principal"`
	StartedAt   time.Time      `json:"startedAt"`
	CreatedAt   time.Time      `json:"createdAt"`
	ExpiresAt   time.Time      `json:"expiresAt"`
}

// Record is the persisted row of the session table, keyed by token digest.
// ID is stable across refreshes; CreatedAt is the issuance time of this token.
type Record struct {
	ID         string         `json:"id"`
	Principal  rbac.Principal `json:"principal"`
	StartedAt  time.Time      `json:"started_at"`
	CreatedAt  time.Time      `json:"created_at"`
	ExpiresAt  time.Time      `json:"expires_at"`
	Revoked    bool           `json:"revoked"`
	RevokedAt  *time.Time     `json:"revoked_at,omitempty"`
	Generation int            `json:"generation"`
}

// ValidAt reports whether the record is usable at now: not revoked and strictly before expiry.
func (r Record) ValidAt(now time.Time) bool {
	return !r.Revoked && now.Before(r.ExpiresAt)
}

func (r Record) view(token string) Session {
	return Session{
		ID:          r.ID,
		Token:       token,
		PrincipalID: r.Principal.ID,
		Principal:   r.Principal,
		StartedAt:   r.StartedAt,
		CreatedAt:   r.CreatedAt,
		ExpiresAt:   r.ExpiresAt,
	}
}
