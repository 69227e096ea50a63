package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dateapp/dateapp-admin/internal/rbac"
	"github.com/dateapp/dateapp-admin/internal/shared"
)

// DefaultTTL is the absolute lifetime of a session token.
const DefaultTTL = 24 * time.Hour

// Config tunes a Manager.
type Config struct {
	TTL    time.Duration
	Logger *slog.Logger
	Now    func() time.Time
}

// Manager issues, validates, refreshes and revokes admin sessions.
type Manager struct {
	store  Store
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewManager constructs a Manager over store.
func NewManager(store Store, cfg Config) *Manager {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Manager{store: store, ttl: cfg.TTL, logger: cfg.Logger, now: cfg.Now}
}

// SignIn opens a session for an active principal.
func (m *Manager) SignIn(ctx context.Context, principal rbac.Principal) (Session, error) {
	if err := principal.Validate(); err != nil {
		return Session{}, fmt.Errorf("%w: %v", shared.ErrValidation, err)
	}
	if !principal.Active {
		return Session{}, shared.ErrPrincipalInactive
	}
	token, err := newToken()
	if err != nil {
		return Session{}, err
	}
	now := m.now().UTC()
	rec := Record{
		ID:        shared.NewID(),
		Principal: principal,
		StartedAt: now,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}
	if err := m.store.Create(ctx, digest(token), rec); err != nil {
		return Session{}, err
	}
	m.logger.Info("session opened",
		slog.String("session_id", rec.ID),
		slog.String("principal", principal.ID),
		slog.Time("expires_at", rec.ExpiresAt),
	)
	return rec.view(token), nil
}

// Validate resolves token to its session. It fails with ErrSessionNotFound,
// ErrSessionRevoked or ErrSessionExpired; validation at the expiry instant fails.
func (m *Manager) Validate(ctx context.Context, token string) (Session, error) {
	rec, err := m.store.Get(ctx, digest(token))
	if err != nil {
		return Session{}, err
	}
	if err := checkRecord(rec, m.now()); err != nil {
		return Session{}, err
	}
	return rec.view(""), nil
}

// Refresh revokes token and issues a replacement with a fresh expiry for the
// same logical session. Only one of several concurrent refreshes succeeds.
func (m *Manager) Refresh(ctx context.Context, token string) (Session, error) {
	next, err := newToken()
	if err != nil {
		return Session{}, err
	}
	now := m.now().UTC()
	rec, err := m.store.Rotate(ctx, digest(token), digest(next), func(old Record) (Record, error) {
		if err := checkRecord(old, now); err != nil {
			return Record{}, err
		}
		return Record{
			ID:         old.ID,
			Principal:  old.Principal,
			StartedAt:  old.StartedAt,
			CreatedAt:  now,
			ExpiresAt:  now.Add(m.ttl),
			Generation: old.Generation + 1,
		}, nil
	})
	if err != nil {
		return Session{}, err
	}
	m.logger.Info("session refreshed",
		slog.String("session_id", rec.ID),
		slog.Int("generation", rec.Generation),
	)
	return rec.view(next), nil
}

// SignOut revokes token. Unknown or already revoked tokens are not an error.
func (m *Manager) SignOut(ctx context.Context, token string) error {
	return m.store.Revoke(ctx, digest(token), m.now().UTC())
}

// Sweep deletes sessions past expiry and retention.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	n, err := m.store.Sweep(ctx, m.now().UTC())
	if err != nil {
		return n, err
	}
	if n > 0 {
		m.logger.Info("sessions swept", slog.Int("count", n))
	}
	return n, nil
}

func checkRecord(rec Record, now time.Time) error {
	if rec.ValidAt(now) {
		return nil
	}
	if rec.Revoked {
		return shared.ErrSessionRevoked
	}
	return shared.ErrSessionExpired
}
