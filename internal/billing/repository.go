package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dateapp/dateapp-admin/internal/platform/db"
	"github.com/dateapp/dateapp-admin/internal/shared"
)

// Repository persists billing mutations. Each write re-checks its
// precondition under a row lock.
type Repository interface {
	GetInvoice(ctx context.Context, id string) (Invoice, error)
	RecordRefund(ctx context.Context, r Refund) error
	AddCredit(ctx context.Context, c Credit) error
	CancelInvoice(ctx context.Context, c Cancellation) error
}

// PGRepository implements Repository.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PGRepository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const selectInvoice = `SELECT id, member_id, status, amount, refunded_amount FROM invoices WHERE id = $1`

// GetInvoice implements Repository.
func (r *PGRepository) GetInvoice(ctx context.Context, id string) (Invoice, error) {
	return scanInvoice(r.pool.QueryRow(ctx, selectInvoice, id))
}

// RecordRefund implements Repository.
func (r *PGRepository) RecordRefund(ctx context.Context, refund Refund) error {
	return db.WithTx(ctx, r.pool, pgx.ReadCommitted, func(tx pgx.Tx) error {
		inv, err := scanInvoice(tx.QueryRow(ctx, selectInvoice+` FOR UPDATE`, refund.InvoiceID))
		if err != nil {
			return err
		}
		if err := checkRefund(inv, refund.Amount); err != nil {
			return err
		}
		refunded := inv.RefundedAmount + refund.Amount
		status := InvoicePaid
		if refunded == inv.Amount {
			status = InvoiceRefunded
		}
		if _, err := tx.Exec(ctx,
			`UPDATE invoices SET refunded_amount = $2, status = $3, updated_at = $4 WHERE id = $1`,
			inv.ID, refunded, string(status), refund.At,
		); err != nil {
			return fmt.Errorf("billing: update invoice: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO refunds (invoice_id, amount, reason, principal_id, created_at) VALUES ($1, $2, $3, $4, $5)`,
			inv.ID, refund.Amount, refund.Reason, refund.PrincipalID, refund.At,
		); err != nil {
			return fmt.Errorf("billing: insert refund: %w", err)
		}
		return nil
	})
}

// AddCredit implements Repository.
func (r *PGRepository) AddCredit(ctx context.Context, c Credit) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO member_credits (member_id, amount, reason, principal_id, created_at) VALUES ($1, $2, $3, $4, $5)`,
		c.MemberID, c.Amount, c.Reason, c.PrincipalID, c.At,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return fmt.Errorf("%w: member %s", shared.ErrNotFound, c.MemberID)
		}
		return fmt.Errorf("billing: insert credit: %w", err)
	}
	return nil
}

// CancelInvoice implements Repository.
func (r *PGRepository) CancelInvoice(ctx context.Context, c Cancellation) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE invoices SET status = 'cancelled', cancel_reason = $2, cancelled_by = $3, updated_at = $4
		 WHERE id = $1 AND status = 'open'`,
		c.InvoiceID, c.Reason, c.PrincipalID, c.At,
	)
	if err != nil {
		return fmt.Errorf("billing: cancel invoice: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetInvoice(ctx, c.InvoiceID); err != nil {
			return err
		}
		return fmt.Errorf("%w: invoice %s is not open", shared.ErrInvalidState, c.InvoiceID)
	}
	return nil
}

func scanInvoice(row pgx.Row) (Invoice, error) {
	var (
		inv    Invoice
		status string
	)
	if err := row.Scan(&inv.ID, &inv.MemberID, &status, &inv.Amount, &inv.RefundedAmount); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Invoice{}, shared.ErrNotFound
		}
		return Invoice{}, fmt.Errorf("billing: scan invoice: %w", err)
	}
	inv.Status = InvoiceStatus(status)
	return inv, nil
}

var _ Repository = (*PGRepository)(nil)
