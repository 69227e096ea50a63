package members

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dateapp/dateapp-admin/internal/actions"
	"github.com/dateapp/dateapp-admin/internal/shared"
)

type stubRepo struct {
	members map[string]Member
	applied []Change
}

func (s *stubRepo) Get(ctx context.Context, id string) (Member, error) {
	m, ok := s.members[id]
	if !ok {
		return Member{}, shared.ErrNotFound
	}
	return m, nil
}

func (s *stubRepo) Apply(ctx context.Context, change Change) error {
	s.applied = append(s.applied, change)
	m := s.members[change.MemberID]
	if change.Kind == KindTier {
		m.Tier = change.To
	} else {
		m.Status = Status(change.To)
	}
	s.members[change.MemberID] = m
	return nil
}

func newStub() *stubRepo {
	return &stubRepo{members: map[string]Member{
		"M004": {ID: "M004", Status: StatusActive, Tier: "free"},
	}}
}

func TestSuspendAndRestore(t *testing.T) {
	repo := newStub()
	svc := NewService(repo)
	ctx := context.Background()

	require.NoError(t, svc.Execute(ctx, actions.Command{Type: actions.TypeSuspend, ResourceID: "M004", PrincipalID: "adm-1", Reason: "policy violation"}))
	require.Len(t, repo.applied, 1)
	assert.Equal(t, Change{
		MemberID: "M004", Kind: KindStatus, PrincipalID: "adm-1", Reason: "policy violation",
		From: "active", To: "suspended", At: repo.applied[0].At,
	}, repo.applied[0])

	err := svc.Execute(ctx, actions.Command{Type: actions.TypeSuspend, ResourceID: "M004", Reason: "again"})
	assert.ErrorIs(t, err, shared.ErrInvalidState)

	require.NoError(t, svc.Execute(ctx, actions.Command{Type: actions.TypeRestore, ResourceID: "M004"}))
	assert.Equal(t, StatusActive, repo.members["M004"].Status)
}

func TestTierChange(t *testing.T) {
	repo := newStub()
	svc := NewService(repo)
	ctx := context.Background()

	require.NoError(t, svc.Execute(ctx, actions.Command{Type: actions.TypeTierChange, ResourceID: "M004", Tier: "premium"}))
	assert.Equal(t, "premium", repo.members["M004"].Tier)
	assert.Equal(t, "free", repo.applied[0].From)

	err := svc.Execute(ctx, actions.Command{Type: actions.TypeTierChange, ResourceID: "M004", Tier: "premium"})
	assert.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestUnknownMemberAndForeignAction(t *testing.T) {
	svc := NewService(newStub())
	err := svc.Execute(context.Background(), actions.Command{Type: actions.TypeSuspend, ResourceID: "M999", Reason: "x"})
	assert.ErrorIs(t, err, shared.ErrNotFound)

	err = svc.Execute(context.Background(), actions.Command{Type: actions.TypeRefund, ResourceID: "M004"})
	assert.ErrorIs(t, err, shared.ErrUnsupportedAction)
}
