package audit

import (
	"fmt"
	"strings"
	"time"
)

// Outcome records how the audited action ended.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	// OutcomeInconsistent marks a mutation that committed without its primary audit entry.
	OutcomeInconsistent Outcome = "inconsistent"
)

// Valid reports whether o is a known outcome.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeSuccess, OutcomeFailure, OutcomeInconsistent:
		return true
	}
	return false
}

// Action names written by components other than the action dispatcher.
const (
	ActionRevealPII = "reveal-pii"
	ActionReconcile = "reconcile"
)

// Entry is one immutable audit fact. Seq is assigned by the store on append.
type Entry struct {
	Seq         int64             `json:"seq"`
	PrincipalID string            `json:"principalId"`
	Action      string            `json:"action"`
	ResourceID  string            `json:"resourceId"`
	Reason      string            `json:"reason,omitempty"`
	Amount      *int64            `json:"amount,omitempty"`
	Outcome     Outcome           `json:"outcome"`
	At          time.Time         `json:"at"`
	RefSeq      *int64            `json:"refSeq,omitempty"`
	Meta        map[string]string `json:"meta,omitempty"`
}

// Validate checks the fields every entry must carry.
func (e Entry) Validate() error {
	if strings.TrimSpace(e.PrincipalID) == "" {
		return fmt.Errorf("audit: principal id required")
	}
	if strings.TrimSpace(e.Action) == "" {
		return fmt.Errorf("audit: action required")
	}
	if strings.TrimSpace(e.ResourceID) == "" {
		return fmt.Errorf("audit: resource id required")
	}
	if !e.Outcome.Valid() {
		return fmt.Errorf("audit: unknown outcome %q", e.Outcome)
	}
	return nil
}

// Filter narrows a query. Zero fields match everything; From is inclusive
// and To exclusive. AfterSeq resumes a previous scan.
type Filter struct {
	PrincipalID string
	ResourceID  string
	Action      string
	From        time.Time
	To          time.Time
	AfterSeq    int64
}

// Matches reports whether e satisfies every set field of f except AfterSeq.
func (f Filter) Matches(e Entry) bool {
	if f.PrincipalID != "" && e.PrincipalID != f.PrincipalID {
		return false
	}
	if f.ResourceID != "" && e.ResourceID != f.ResourceID {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if !f.From.IsZero() && e.At.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !e.At.Before(f.To) {
		return false
	}
	return true
}
