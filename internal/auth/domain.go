package auth

import (
	"time"

	"github.com/dateapp/dateapp-admin/internal/rbac"
)

// Admin is an operator account held by the identity store.
type Admin struct {
	ID           string
	DisplayName  string
	Email        string
	PasswordHash string
	Role         rbac.Role
	Permissions  []rbac.Permission
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Principal snapshots the account for a session.
func (a Admin) Principal() rbac.Principal {
	perms := make([]rbac.Permission, len(a.Permissions))
	copy(perms, a.Permissions)
	return rbac.Principal{
		ID:          a.ID,
		DisplayName: a.DisplayName,
		Email:       a.Email,
		Role:        a.Role,
		Permissions: perms,
		Active:      a.Active,
	}
}
