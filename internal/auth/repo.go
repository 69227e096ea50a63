package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dateapp/dateapp-admin/internal/rbac"
	"github.com/dateapp/dateapp-admin/internal/shared"
)

// Repository defines the identity store lookups used for sign-in.
type Repository interface {
	FindByEmail(ctx context.Context, email string) (*Admin, error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const findAdminByEmail = `
SELECT id, display_name, email, password_hash, role, is_active, created_at, updated_at
FROM admins
WHERE lower(email) = lower($1)`

const listAdminPermissions = `
SELECT resource, actions
FROM admin_permissions
WHERE admin_id = $1
ORDER BY resource`

// FindByEmail fetches an admin and its permission set by email.
func (r *PGRepository) FindByEmail(ctx context.Context, email string) (*Admin, error) {
	var (
		admin              Admin
		role               string
		createdAt, updated pgtype.Timestamptz
	)
	err := r.pool.QueryRow(ctx, findAdminByEmail, strings.TrimSpace(email)).Scan(
		&admin.ID, &admin.DisplayName, &admin.Email, &admin.PasswordHash,
		&role, &admin.Active, &createdAt, &updated,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, fmt.Errorf("auth: find admin: %w", err)
	}
	admin.Role = rbac.Role(role)
	admin.CreatedAt = createdAt.Time
	admin.UpdatedAt = updated.Time

	rows, err := r.pool.Query(ctx, listAdminPermissions, admin.ID)
	if err != nil {
		return nil, fmt.Errorf("auth: list permissions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			resource string
			actions  []string
		)
		if err := rows.Scan(&resource, &actions); err != nil {
			return nil, fmt.Errorf("auth: scan permission: %w", err)
		}
		verbs, err := rbac.ParseVerbs(actions)
		if err != nil {
			return nil, fmt.Errorf("auth: permission %s: %w", resource, err)
		}
		admin.Permissions = append(admin.Permissions, rbac.Permission{Resource: resource, Actions: verbs})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("auth: list permissions: %w", err)
	}
	return &admin, nil
}

var _ Repository = (*PGRepository)(nil)
