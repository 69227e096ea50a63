package members

import (
	"context"
	"fmt"
	"time"

	"github.com/dateapp/dateapp-admin/internal/actions"
	"github.com/dateapp/dateapp-admin/internal/shared"
)

// Change kinds.
const (
	KindStatus = "status"
	KindTier   = "tier"
)

// Service executes member-account actions.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService constructs a Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Execute implements actions.Executor for suspend, restore and tier-change.
func (s *Service) Execute(ctx context.Context, cmd actions.Command) error {
	m, err := s.repo.Get(ctx, cmd.ResourceID)
	if err != nil {
		return err
	}
	change := Change{
		MemberID:    m.ID,
		PrincipalID: cmd.PrincipalID,
		Reason:      cmd.Reason,
		At:          s.now().UTC(),
	}
	switch cmd.Type {
	case actions.TypeSuspend:
		if m.Status != StatusActive {
			return fmt.Errorf("%w: member %s is %s", shared.ErrInvalidState, m.ID, m.Status)
		}
		change.Kind, change.From, change.To = KindStatus, string(StatusActive), string(StatusSuspended)
	case actions.TypeRestore:
		if m.Status != StatusSuspended {
			return fmt.Errorf("%w: member %s is %s", shared.ErrInvalidState, m.ID, m.Status)
		}
		change.Kind, change.From, change.To = KindStatus, string(StatusSuspended), string(StatusActive)
	case actions.TypeTierChange:
		if m.Tier == cmd.Tier {
			return fmt.Errorf("%w: member %s already on %s", shared.ErrInvalidState, m.ID, cmd.Tier)
		}
		change.Kind, change.From, change.To = KindTier, m.Tier, cmd.Tier
	default:
		return fmt.Errorf("%w: members cannot %s", shared.ErrUnsupportedAction, cmd.Type)
	}
	return s.repo.Apply(ctx, change)
}

var _ actions.Executor = (*Service)(nil)
