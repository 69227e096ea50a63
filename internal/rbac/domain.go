package rbac

import (
	"fmt"
	"strings"
)

// Role is the coarse operator classification carried by a principal.
type Role string

const (
	// RoleAdmin is limited to the permissions explicitly granted.
	RoleAdmin Role = "admin"
	// RoleSuperAdmin satisfies every permission check.
	RoleSuperAdmin Role = "super_admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}

// Verb is an action a permission can allow on a resource category.
type Verb string

const (
	VerbRead   Verb = "read"
	VerbWrite  Verb = "write"
	VerbDelete Verb = "delete"
)

// Valid reports whether v is one of the enumerated verbs.
func (v Verb) Valid() bool {
	switch v {
	case VerbRead, VerbWrite, VerbDelete:
		return true
	}
	return false
}

// Resource categories gated by the console.
const (
	ResourceMemberAccount      = "member.account"
	ResourceMemberSubscription = "member.subscription"
	ResourceBillingPayment     = "billing.payment"
	ResourceBillingCredit      = "billing.credit"
	ResourceBillingInvoice     = "billing.invoice"
	ResourceAuditLog           = "audit.log"
	ResourceAuditReconcile     = "audit.reconcile"
)

// KnownResources lists every resource category checked by the console.
func KnownResources() []string {
	return []string{
		ResourceMemberAccount,
		ResourceMemberSubscription,
		ResourceBillingPayment,
		ResourceBillingCredit,
		ResourceBillingInvoice,
		ResourceAuditLog,
		ResourceAuditReconcile,
	}
}

// Permission grants a set of verbs on one resource category.
type Permission struct {
	Resource string `json:"resource"`
	Actions  []Verb `json:"actions"`
}

// Validate enforces a non-empty resource and a non-empty subset of the known verbs.
func (p Permission) Validate() error {
	if strings.TrimSpace(p.Resource) == "" {
		return fmt.Errorf("rbac: permission resource required")
	}
	if len(p.Actions) == 0 {
		return fmt.Errorf("rbac: permission %s has no actions", p.Resource)
	}
	for _, a := range p.Actions {
		if !a.Valid() {
			return fmt.Errorf("rbac: permission %s has unknown action %q", p.Resource, a)
		}
	}
	return nil
}

// Allows reports whether the permission covers verb on resource. Matching is exact.
func (p Permission) Allows(resource string, verb Verb) bool {
	if p.Resource != resource {
		return false
	}
	for _, a := range p.Actions {
		if a == verb {
			return true
		}
	}
	return false
}

// Principal is a read-only snapshot of an authenticated operator.
type Principal struct {
	ID          string       `json:"id"`
	DisplayName string       `json:"displayName"`
	Email       string       `json:"email"`
	Role        Role         `json:"role"`
	Permissions []Permission `json:"permissions"`
	Active      bool         `json:"active"`
}

// Validate checks the snapshot is usable for opening a session.
func (p Principal) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("rbac: principal id required")
	}
	if !p.Role.Valid() {
		return fmt.Errorf("rbac: principal %s has unknown role %q", p.ID, p.Role)
	}
	for _, perm := range p.Permissions {
		if err := perm.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ParseVerbs converts stored action names into verbs, dropping blanks and duplicates.
func ParseVerbs(raw []string) ([]Verb, error) {
	seen := make(map[Verb]struct{}, len(raw))
	verbs := make([]Verb, 0, len(raw))
	for _, r := range raw {
		v := Verb(strings.TrimSpace(strings.ToLower(r)))
		if v == "" {
			continue
		}
		if !v.Valid() {
			return nil, fmt.Errorf("rbac: unknown action %q", r)
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		verbs = append(verbs, v)
	}
	return verbs, nil
}
