package reveal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/dateapp/dateapp-admin/internal/audit"
	"github.com/dateapp/dateapp-admin/internal/session"
	"github.com/dateapp/dateapp-admin/internal/shared"
)

const (
	DefaultTTL         = 5 * time.Minute
	DefaultDigits      = 6
	DefaultMaxAttempts = 5
	DefaultRequestRate = 5

	limiterIdle = 10 * time.Minute
)

// SessionValidator resolves bearer tokens; *session.Manager satisfies it.
type SessionValidator interface {
	Validate(ctx context.Context, token string) (session.Session, error)
}

// Auditor appends audit entries; *audit.Log satisfies it.
type Auditor interface {
	Append(ctx context.Context, e audit.Entry) (int64, error)
}

// ChallengeSender delivers a challenge code out of band.
type ChallengeSender interface {
	SendChallenge(ctx context.Context, d Delivery) error
}

// Recorder counts reveal outcomes.
type Recorder interface {
	RevealObserved(outcome string)
}

// Config tunes a Gate.
type Config struct {
	TTL         time.Duration
	Digits      int
	MaxAttempts int
	// RequestsPerMinute bounds RequestReveal per session.
	RequestsPerMinute int
	Secret            []byte
	Logger            *slog.Logger
	Now               func() time.Time
	Metrics           Recorder
}

// Gate issues single-use second-factor challenges for masked fields and
// discloses a value only after its reveal-pii entry is in the audit log.
type Gate struct {
	sessions    SessionValidator
	grants      GrantStore
	audit       Auditor
	sender      ChallengeSender
	source      ValueSource
	ttl         time.Duration
	digits      int
	maxAttempts int
	perMinute   int
	secret      []byte
	logger      *slog.Logger
	now         func() time.Time
	metrics     Recorder

	mu       sync.Mutex
	limiters map[string]*sessionLimiter
}

type sessionLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewGate constructs a Gate.
func NewGate(sessions SessionValidator, grants GrantStore, auditor Auditor, sender ChallengeSender, source ValueSource, cfg Config) (*Gate, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("reveal: secret required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Digits <= 0 {
		cfg.Digits = DefaultDigits
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = DefaultRequestRate
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Gate{
		sessions:    sessions,
		grants:      grants,
		audit:       auditor,
		sender:      sender,
		source:      source,
		ttl:         cfg.TTL,
		digits:      cfg.Digits,
		maxAttempts: cfg.MaxAttempts,
		perMinute:   cfg.RequestsPerMinute,
		secret:      cfg.Secret,
		logger:      cfg.Logger,
		now:         cfg.Now,
		metrics:     cfg.Metrics,
		limiters:    make(map[string]*sessionLimiter),
	}, nil
}

// RequestReveal issues a new challenge for resourceID, replacing any earlier
// grant the session held for it.
func (g *Gate) RequestReveal(ctx context.Context, token, resourceID string) (Challenge, error) {
	sess, err := g.sessions.Validate(ctx, token)
	if err != nil {
		return Challenge{}, err
	}
	resourceID = strings.TrimSpace(resourceID)
	if resourceID == "" {
		return Challenge{}, fmt.Errorf("%w: resource id required", shared.ErrValidation)
	}
	if !g.allow(sess.ID) {
		g.observe("rate_limited")
		return Challenge{}, shared.ErrRateLimited
	}
	if _, err := g.source.Lookup(ctx, resourceID); err != nil {
		return Challenge{}, err
	}
	code, err := newCode(g.digits)
	if err != nil {
		return Challenge{}, err
	}
	now := g.now().UTC()
	grant := Grant{
		SessionID:   sess.ID,
		PrincipalID: sess.PrincipalID,
		ResourceID:  resourceID,
		ChallengeID: shared.NewID(),
		CreatedAt:   now,
		ExpiresAt:   now.Add(g.ttl),
	}
	grant.CodeDigest = codeDigest(g.secret, grant.ChallengeID, code)
	if err := g.grants.Put(ctx, grant); err != nil {
		return Challenge{}, err
	}
	delivery := Delivery{
		ChallengeID: grant.ChallengeID,
		PrincipalID: sess.PrincipalID,
		Email:       sess.Principal.Email,
		ResourceID:  resourceID,
		Code:        code,
		ExpiresAt:   grant.ExpiresAt,
	}
	if err := g.sender.SendChallenge(ctx, delivery); err != nil {
		if derr := g.grants.Delete(ctx, sess.ID, resourceID); derr != nil {
			g.logger.Warn("drop undelivered grant", slog.String("challenge_id", grant.ChallengeID), slog.Any("error", derr))
		}
		return Challenge{}, fmt.Errorf("reveal: deliver challenge: %w", err)
	}
	g.observe("challenge_issued")
	g.logger.Info("reveal challenge issued",
		slog.String("challenge_id", grant.ChallengeID),
		slog.String("principal", sess.PrincipalID),
		slog.String("resource", resourceID),
	)
	return Challenge{ID: grant.ChallengeID, ResourceID: resourceID, ExpiresAt: grant.ExpiresAt}, nil
}

// ConfirmReveal checks code against the pending grant, consumes it, appends
// the reveal-pii audit entry and only then returns the unmasked value.
func (g *Gate) ConfirmReveal(ctx context.Context, token, resourceID, code string) (Revealed, error) {
	sess, err := g.sessions.Validate(ctx, token)
	if err != nil {
		return Revealed{}, err
	}
	resourceID = strings.TrimSpace(resourceID)
	field, err := g.source.Lookup(ctx, resourceID)
	if err != nil {
		return Revealed{}, err
	}
	now := g.now().UTC()
	code = strings.TrimSpace(code)
	grant, err := g.grants.Update(ctx, sess.ID, resourceID, func(gr *Grant) (Mutation, error) {
		if gr.Consumed {
			return Keep, shared.ErrGrantAlreadyConsumed
		}
		if !now.Before(gr.ExpiresAt) {
			return Keep, shared.ErrGrantExpired
		}
		if !digestEqual(gr.CodeDigest, codeDigest(g.secret, gr.ChallengeID, code)) {
			gr.Attempts++
			if gr.Attempts >= g.maxAttempts {
				return Delete, shared.ErrTooManyAttempts
			}
			return Write, shared.ErrInvalidCode
		}
		gr.Consumed = true
		gr.ConsumedAt = &now
		return Write, nil
	})
	if err != nil {
		g.observe(outcomeLabel(err))
		g.logger.Info("reveal denied",
			slog.String("principal", sess.PrincipalID),
			slog.String("resource", resourceID),
			slog.String("reason", err.Error()),
		)
		return Revealed{}, err
	}

	seq, err := g.audit.Append(ctx, audit.Entry{
		PrincipalID: sess.PrincipalID,
		Action:      audit.ActionRevealPII,
		ResourceID:  resourceID,
		Outcome:     audit.OutcomeSuccess,
		At:          now,
		Meta: map[string]string{
			"challenge_id": grant.ChallengeID,
			"session_id":   sess.ID,
			"field_kind":   string(field.Kind),
		},
	})
	if err != nil {
		g.observe("audit_failed")
		if !errors.Is(err, shared.ErrAuditWriteFailed) {
			err = fmt.Errorf("%w: %v", shared.ErrAuditWriteFailed, err)
		}
		return Revealed{}, err
	}
	g.observe("revealed")
	return Revealed{ResourceID: resourceID, Kind: field.Kind, Value: field.Value, AuditSeq: seq}, nil
}

// Masked returns the default view of resourceID for a valid session.
func (g *Gate) Masked(ctx context.Context, token, resourceID string) (Field, error) {
	if _, err := g.sessions.Validate(ctx, token); err != nil {
		return Field{}, err
	}
	field, err := g.source.Lookup(ctx, strings.TrimSpace(resourceID))
	if err != nil {
		return Field{}, err
	}
	field.Value = Mask(field.Kind, field.Value)
	return field, nil
}

// Sweep drops grants past retention and idle per-session limiters.
func (g *Gate) Sweep(ctx context.Context) (int, error) {
	now := g.now()
	g.mu.Lock()
	for id, l := range g.limiters {
		if now.Sub(l.lastSeen) > limiterIdle {
			delete(g.limiters, id)
		}
	}
	g.mu.Unlock()
	return g.grants.Sweep(ctx, now.UTC())
}

func (g *Gate) allow(sessionID string) bool {
	now := g.now()
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.limiters[sessionID]
	if !ok {
		l = &sessionLimiter{limiter: rate.NewLimiter(rate.Limit(float64(g.perMinute)/60.0), g.perMinute)}
		g.limiters[sessionID] = l
	}
	l.lastSeen = now
	return l.limiter.AllowN(now, 1)
}

func (g *Gate) observe(outcome string) {
	if g.metrics != nil {
		g.metrics.RevealObserved(outcome)
	}
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, shared.ErrInvalidCode):
		return "invalid_code"
	case errors.Is(err, shared.ErrGrantExpired):
		return "expired"
	case errors.Is(err, shared.ErrGrantAlreadyConsumed):
		return "already_consumed"
	case errors.Is(err, shared.ErrTooManyAttempts):
		return "too_many_attempts"
	case errors.Is(err, shared.ErrGrantNotFound):
		return "not_requested"
	}
	return "error"
}
