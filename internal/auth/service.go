package auth

import (
	"context"
	"errors"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/dateapp/dateapp-admin/internal/rbac"
	"github.com/dateapp/dateapp-admin/internal/shared"
)

var (
	dummyOnce sync.Once
	dummyHash []byte
)

// compareDummy keeps unknown-email sign-ins as slow as a wrong password.
func compareDummy(password string) {
	dummyOnce.Do(func() {
		dummyHash, _ = bcrypt.GenerateFromPassword([]byte("dateapp-admin-placeholder"), bcrypt.DefaultCost)
	})
	_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
}

// Service wraps authentication business rules.
type Service struct {
	repo Repository
}

// NewService constructs a new Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Authenticate validates email/password credentials and returns the
// principal snapshot for a new session.
func (s *Service) Authenticate(ctx context.Context, email, password string) (rbac.Principal, error) {
	admin, err := s.repo.FindByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		compareDummy(password)
		if errors.Is(err, shared.ErrNotFound) {
			return rbac.Principal{}, shared.ErrInvalidCredentials
		}
		return rbac.Principal{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte(password)); err != nil {
		return rbac.Principal{}, shared.ErrInvalidCredentials
	}
	if !admin.Active {
		return rbac.Principal{}, shared.ErrPrincipalInactive
	}
	return admin.Principal(), nil
}
