package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/dateapp/dateapp-admin/internal/actions"
	"github.com/dateapp/dateapp-admin/internal/shared"
)

// Service executes billing actions.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService constructs a Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Execute implements actions.Executor for refund, credit and cancel.
func (s *Service) Execute(ctx context.Context, cmd actions.Command) error {
	at := s.now().UTC()
	switch cmd.Type {
	case actions.TypeRefund:
		inv, err := s.repo.GetInvoice(ctx, cmd.ResourceID)
		if err != nil {
			return err
		}
		if err := checkRefund(inv, cmd.Amount); err != nil {
			return err
		}
		return s.repo.RecordRefund(ctx, Refund{
			InvoiceID: cmd.ResourceID, Amount: cmd.Amount, Reason: cmd.Reason, PrincipalID: cmd.PrincipalID, At: at,
		})
	case actions.TypeCredit:
		return s.repo.AddCredit(ctx, Credit{
			MemberID: cmd.ResourceID, Amount: cmd.Amount, Reason: cmd.Reason, PrincipalID: cmd.PrincipalID, At: at,
		})
	case actions.TypeCancel:
		return s.repo.CancelInvoice(ctx, Cancellation{
			InvoiceID: cmd.ResourceID, Reason: cmd.Reason, PrincipalID: cmd.PrincipalID, At: at,
		})
	}
	return fmt.Errorf("%w: billing cannot %s", shared.ErrUnsupportedAction, cmd.Type)
}

func checkRefund(inv Invoice, amount int64) error {
	if inv.Status != InvoicePaid {
		return fmt.Errorf("%w: invoice %s is %s", shared.ErrInvalidState, inv.ID, inv.Status)
	}
	if amount <= 0 || amount > inv.Refundable() {
		return fmt.Errorf("%w: at most %d refundable on %s", shared.ErrInvalidAmount, inv.Refundable(), inv.ID)
	}
	return nil
}

var _ actions.Executor = (*Service)(nil)
