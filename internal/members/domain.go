package members

import "time"

// Status is the account state of a member.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
)

// Member is the slice of a member account the console mutates.
type Member struct {
	ID        string
	Status    Status
	Tier      string
	UpdatedAt time.Time
}

// Change describes one audited mutation of a member row.
type Change struct {
	MemberID    string
	Kind        string
	PrincipalID string
	Reason      string
	From        string
	To          string
	At          time.Time
}
