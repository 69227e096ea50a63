package reveal

import "time"

// FieldKind classifies a sensitive value for masking.
type FieldKind string

const (
	KindEmail    FieldKind = "email"
	KindPhone    FieldKind = "phone"
	KindName     FieldKind = "name"
	KindDocument FieldKind = "document"
)

// Field is one sensitive value addressed by resource id.
type Field struct {
	ResourceID string
	Kind       FieldKind
	Value      string
}

// Grant is the pending or consumed reveal permission for one
// (session, resource) pair. Only the HMAC digest of the code is stored.
type Grant struct {
	SessionID   string     `json:"session_id"`
	PrincipalID string     `json:"principal_id"`
	ResourceID  string     `json:"resource_id"`
	ChallengeID string     `json:"challenge_id"`
	CodeDigest  string     `json:"code_digest"`
	Attempts    int        `json:"attempts"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	Consumed    bool       `json:"consumed"`
	ConsumedAt  *time.Time `json:"consumed_at,omitempty"`
}

// Challenge is returned to the caller of RequestReveal; the code itself
// travels out of band.
type Challenge struct {
	ID         string    `json:"challengeId"`
	ResourceID string    `json:"resourceId"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// Revealed carries the unmasked value after its disclosure was audited.
type Revealed struct {
	ResourceID string    `json:"resourceId"`
	Kind       FieldKind `json:"kind"`
	Value      string    `json:"value"`
	AuditSeq   int64     `json:"auditSeq"`
}

// Delivery is the out-of-band message carrying a challenge code.
type Delivery struct {
	ChallengeID string    `json:"challenge_id"`
	PrincipalID string    `json:"principal_id"`
	Email       string    `json:"email"`
	ResourceID  string    `json:"resource_id"`
	Code        string    `json:"code"`
	ExpiresAt   time.Time `json:"expires_at"`
}
