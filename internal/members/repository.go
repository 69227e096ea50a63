package members

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dateapp/dateapp-admin/internal/platform/db"
	"github.com/dateapp/dateapp-admin/internal/shared"
)

// Repository persists member account state.
type Repository interface {
	Get(ctx context.Context, id string) (Member, error)
	// Apply writes change if the member is still in state change.From,
	// otherwise it fails with shared.ErrInvalidState.
	Apply(ctx context.Context, change Change) error
}

// PGRepository implements Repository over the members table.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PGRepository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// Get implements Repository.
func (r *PGRepository) Get(ctx context.Context, id string) (Member, error) {
	var (
		m      Member
		status string
	)
	err := r.pool.QueryRow(ctx, `SELECT id, status, tier, updated_at FROM members WHERE id = $1`, id).
		Scan(&m.ID, &status, &m.Tier, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Member{}, shared.ErrNotFound
		}
		return Member{}, fmt.Errorf("members: get %s: %w", id, err)
	}
	m.Status = Status(status)
	return m, nil
}

const applyStatus = `UPDATE members SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2`
const applyTier = `UPDATE members SET tier = $3, updated_at = $4 WHERE id = $1 AND tier = $2`
const insertChange = `
INSERT INTO member_changes (member_id, kind, principal_id, reason, from_value, to_value, changed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

// Apply implements Repository.
func (r *PGRepository) Apply(ctx context.Context, change Change) error {
	stmt := applyStatus
	if change.Kind == KindTier {
		stmt = applyTier
	}
	return db.WithTx(ctx, r.pool, pgx.ReadCommitted, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, stmt, change.MemberID, change.From, change.To, change.At)
		if err != nil {
			return fmt.Errorf("members: apply %s: %w", change.Kind, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: member %s is no longer %s", shared.ErrInvalidState, change.MemberID, change.From)
		}
		if _, err := tx.Exec(ctx, insertChange,
			change.MemberID, change.Kind, change.PrincipalID, change.Reason, change.From, change.To, change.At,
		); err != nil {
			return fmt.Errorf("members: record change: %w", err)
		}
		return nil
	})
}

var _ Repository = (*PGRepository)(nil)
