package actions

import (
	"fmt"
	"strings"
	"time"

	"github.com/dateapp/dateapp-admin/internal/audit"
	"github.com/dateapp/dateapp-admin/internal/rbac"
	"github.com/dateapp/dateapp-admin/internal/shared"
)

// Type enumerates privileged admin commands.
type Type string

const (
	TypeSuspend    Type = "suspend"
	TypeRestore    Type = "restore"
	TypeRefund     Type = "refund"
	TypeCredit     Type = "credit"
	TypeCancel     Type = "cancel"
	TypeTierChange Type = "tier-change"
	// TypeRevealPII is part of the action vocabulary but is served by the reveal gate.
	TypeRevealPII Type = audit.ActionRevealPII
)

// Policy describes what a dispatch of one action type requires.
type Policy struct {
	Resource      string
	Verb          rbac.Verb
	RequireReason bool
	RequireAmount bool
	RequireTier   bool
}

var policies = map[Type]Policy{
	TypeSuspend:    {Resource: rbac.ResourceMemberAccount, Verb: rbac.VerbWrite, RequireReason: true},
	TypeRestore:    {Resource: rbac.ResourceMemberAccount, Verb: rbac.VerbWrite},
	TypeRefund:     {Resource: rbac.ResourceBillingPayment, Verb: rbac.VerbWrite, RequireReason: true, RequireAmount: true},
	TypeCredit:     {Resource: rbac.ResourceBillingCredit, Verb: rbac.VerbWrite, RequireReason: true, RequireAmount: true},
	TypeCancel:     {Resource: rbac.ResourceBillingInvoice, Verb: rbac.VerbDelete, RequireReason: true},
	TypeTierChange: {Resource: rbac.ResourceMemberSubscription, Verb: rbac.VerbWrite, RequireTier: true},
}

// PolicyFor returns the policy of a dispatchable type.
func PolicyFor(t Type) (Policy, error) {
	if t == TypeRevealPII {
		return Policy{}, fmt.Errorf("%w: %s goes through the reveal flow", shared.ErrUnsupportedAction, t)
	}
	p, ok := policies[t]
	if !ok {
		return Policy{}, fmt.Errorf("%w: %q", shared.ErrUnsupportedAction, string(t))
	}
	return p, nil
}

// Tiers accepted by tier-change.
var Tiers = []string{"free", "plus", "premium", "vip"}

func validTier(tier string) bool {
	for _, t := range Tiers {
		if t == tier {
			return true
		}
	}
	return false
}

// Request is a proposed privileged operation.
type Request struct {
	Type       Type
	ResourceID string
	Reason     string
	// Amount is in minor currency units.
	Amount         *int64
	Tier           string
	IdempotencyKey string
}

// Command is what an executor receives once every check has passed.
type Command struct {
	Type        Type
	ResourceID  string
	PrincipalID string
	Reason      string
	Amount      int64
	Tier        string
}

// Result reports the audited outcome of a dispatch.
type Result struct {
	AuditSeq int64         `json:"auditSeq,omitempty"`
	Outcome  audit.Outcome `json:"outcome"`
}

// Mark records an action that committed without its audit entry.
type Mark struct {
	ResourceID  string    `json:"resourceId"`
	Action      Type      `json:"action"`
	PrincipalID string    `json:"principalId"`
	Reason      string    `json:"reason,omitempty"`
	Amount      *int64    `json:"amount,omitempty"`
	At          time.Time `json:"at"`
	Cause       string    `json:"cause"`
}

func normalize(req Request) Request {
	req.Type = Type(strings.ToLower(strings.TrimSpace(string(req.Type))))
	req.ResourceID = strings.TrimSpace(req.ResourceID)
	req.Reason = strings.TrimSpace(req.Reason)
	req.Tier = strings.ToLower(strings.TrimSpace(req.Tier))
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	return req
}
