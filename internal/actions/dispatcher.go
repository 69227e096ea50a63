package actions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/dateapp/dateapp-admin/internal/audit"
	"github.com/dateapp/dateapp-admin/internal/rbac"
	"github.com/dateapp/dateapp-admin/internal/session"
	"github.com/dateapp/dateapp-admin/internal/shared"
)

// IdempotencyModule scopes dispatch keys in the idempotency store.
const IdempotencyModule = "actions"

// SessionValidator resolves bearer tokens; *session.Manager satisfies it.
type SessionValidator interface {
	Validate(ctx context.Context, token string) (session.Session, error)
}

// Auditor is the write side of the audit log; *audit.Log satisfies it.
type Auditor interface {
	Append(ctx context.Context, e audit.Entry) (int64, error)
	Compensate(ctx context.Context, principalID, resourceID, reason string, refSeq *int64) (int64, error)
}

// Executor performs the domain mutation behind one or more action types.
// A nil error means the mutation committed.
type Executor interface {
	Execute(ctx context.Context, cmd Command) error
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, cmd Command) error

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, cmd Command) error {
	return f(ctx, cmd)
}

// IdempotencyStore claims request keys; *shared.IdempotencyStore satisfies it.
type IdempotencyStore interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Release(ctx context.Context, key, module string) error
}

// Recorder counts dispatch outcomes.
type Recorder interface {
	ActionDispatched(actionType, outcome string)
}

// Config wires optional collaborators of a Dispatcher.
type Config struct {
	Checker     rbac.Checker
	Quarantine  Quarantine
	Idempotency IdempotencyStore
	Metrics     Recorder
	Logger      *slog.Logger
	Now         func() time.Time
}

// Dispatcher is the single choke point for privileged admin commands:
// session, permission, reason and amount checks, then the mutation, then
// its audit entry.
type Dispatcher struct {
	sessions    SessionValidator
	audit       Auditor
	executors   map[Type]Executor
	checker     rbac.Checker
	quarantine  Quarantine
	idempotency IdempotencyStore
	metrics     Recorder
	logger      *slog.Logger
	now         func() time.Time
}

// NewDispatcher constructs a Dispatcher. Every dispatchable type needs an executor.
func NewDispatcher(sessions SessionValidator, auditor Auditor, executors map[Type]Executor, cfg Config) (*Dispatcher, error) {
	for t := range policies {
		if executors[t] == nil {
			return nil, fmt.Errorf("actions: no executor for %s", t)
		}
	}
	if cfg.Checker == nil {
		cfg.Checker = rbac.Evaluator{}
	}
	if cfg.Quarantine == nil {
		cfg.Quarantine = NewMemoryQuarantine()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Dispatcher{
		sessions:    sessions,
		audit:       auditor,
		executors:   executors,
		checker:     cfg.Checker,
		quarantine:  cfg.Quarantine,
		idempotency: cfg.Idempotency,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
		now:         cfg.Now,
	}, nil
}

// Dispatch validates and executes req on behalf of the session behind token.
// Once the mutation starts, caller cancellation no longer stops the dispatch:
// the mutation and its audit entry run to completion.
func (d *Dispatcher) Dispatch(ctx context.Context, token string, req Request) (Result, error) {
	sess, err := d.sessions.Validate(ctx, token)
	if err != nil {
		return Result{}, err
	}
	req = normalize(req)
	policy, err := PolicyFor(req.Type)
	if err != nil {
		return Result{}, err
	}
	if !d.checker.Check(sess.Principal, policy.Resource, policy.Verb) {
		d.logger.Warn("action denied",
			slog.String("principal", sess.PrincipalID),
			slog.String("action", string(req.Type)),
			slog.String("resource", req.ResourceID),
		)
		d.count(req.Type, "denied")
		return Result{}, shared.ErrPermissionDenied
	}
	cmd, err := buildCommand(policy, sess.PrincipalID, req)
	if err != nil {
		return Result{}, err
	}
	if mark, marked, err := d.quarantine.Get(ctx, cmd.ResourceID); err != nil {
		return Result{}, err
	} else if marked {
		return Result{}, fmt.Errorf("%w: %s after %s at %s", shared.ErrResourceInconsistent, cmd.ResourceID, mark.Action, mark.At.Format(time.RFC3339))
	}
	if req.IdempotencyKey != "" && d.idempotency != nil {
		if err := d.idempotency.CheckAndInsert(ctx, d.idempotencyKey(sess.PrincipalID, req.IdempotencyKey), IdempotencyModule); err != nil {
			return Result{}, err
		}
	}

	execCtx := context.WithoutCancel(ctx)
	execErr := d.executors[cmd.Type].Execute(execCtx, cmd)

	entry := audit.Entry{
		PrincipalID: sess.PrincipalID,
		Action:      string(cmd.Type),
		ResourceID:  cmd.ResourceID,
		Reason:      cmd.Reason,
		Amount:      req.Amount,
		Outcome:     audit.OutcomeSuccess,
		At:          d.now().UTC(),
		Meta:        map[string]string{"session_id": sess.ID},
	}
	if cmd.Tier != "" {
		entry.Meta["tier"] = cmd.Tier
	}
	if execErr != nil {
		entry.Outcome = audit.OutcomeFailure
		entry.Meta["error"] = execErr.Error()
	}
	seq, auditErr := d.audit.Append(execCtx, entry)

	if execErr != nil {
		d.release(execCtx, sess.PrincipalID, req.IdempotencyKey)
		if auditErr != nil {
			d.logger.Error("audit failed action",
				slog.String("action", string(cmd.Type)),
				slog.String("resource", cmd.ResourceID),
				slog.Any("error", auditErr),
			)
		}
		d.count(cmd.Type, string(audit.OutcomeFailure))
		return Result{AuditSeq: seq, Outcome: audit.OutcomeFailure}, execErr
	}
	if auditErr != nil {
		d.quarantineResource(execCtx, cmd, req.Amount, auditErr)
		d.count(cmd.Type, string(audit.OutcomeInconsistent))
		if !errors.Is(auditErr, shared.ErrAuditWriteFailed) {
			auditErr = fmt.Errorf("%w: %v", shared.ErrAuditWriteFailed, auditErr)
		}
		return Result{Outcome: audit.OutcomeInconsistent}, auditErr
	}
	d.count(cmd.Type, string(audit.OutcomeSuccess))
	d.logger.Info("action dispatched",
		slog.String("action", string(cmd.Type)),
		slog.String("resource", cmd.ResourceID),
		slog.String("principal", sess.PrincipalID),
		slog.Int64("audit_seq", seq),
	)
	return Result{AuditSeq: seq, Outcome: audit.OutcomeSuccess}, nil
}

// ReconcileRequest closes out an inconsistent resource.
type ReconcileRequest struct {
	ResourceID string
	Reason     string
	RefSeq     *int64
}

// Reconcile appends a compensating entry for an inconsistent resource and
// lifts its quarantine. It requires audit.reconcile write.
func (d *Dispatcher) Reconcile(ctx context.Context, token string, req ReconcileRequest) (Result, error) {
	sess, err := d.sessions.Validate(ctx, token)
	if err != nil {
		return Result{}, err
	}
	if !d.checker.Check(sess.Principal, rbac.ResourceAuditReconcile, rbac.VerbWrite) {
		return Result{}, shared.ErrPermissionDenied
	}
	req.ResourceID = normalize(Request{ResourceID: req.ResourceID}).ResourceID
	if req.ResourceID == "" {
		return Result{}, fmt.Errorf("%w: resource id required", shared.ErrValidation)
	}
	seq, err := d.audit.Compensate(ctx, sess.PrincipalID, req.ResourceID, req.Reason, req.RefSeq)
	if err != nil {
		return Result{}, err
	}
	if err := d.quarantine.Clear(ctx, req.ResourceID); err != nil {
		return Result{AuditSeq: seq, Outcome: audit.OutcomeSuccess}, err
	}
	d.logger.Info("resource reconciled",
		slog.String("resource", req.ResourceID),
		slog.String("principal", sess.PrincipalID),
		slog.Int64("audit_seq", seq),
	)
	return Result{AuditSeq: seq, Outcome: audit.OutcomeSuccess}, nil
}

// Pending lists resources awaiting reconciliation.
func (d *Dispatcher) Pending(ctx context.Context, token string) ([]Mark, error) {
	sess, err := d.sessions.Validate(ctx, token)
	if err != nil {
		return nil, err
	}
	if !d.checker.Check(sess.Principal, rbac.ResourceAuditReconcile, rbac.VerbRead) &&
		!d.checker.Check(sess.Principal, rbac.ResourceAuditReconcile, rbac.VerbWrite) {
		return nil, shared.ErrPermissionDenied
	}
	return d.quarantine.List(ctx)
}

func buildCommand(policy Policy, principalID string, req Request) (Command, error) {
	if req.ResourceID == "" {
		return Command{}, fmt.Errorf("%w: resource id required", shared.ErrValidation)
	}
	if policy.RequireReason && req.Reason == "" {
		return Command{}, shared.ErrMissingReason
	}
	cmd := Command{
		Type:        req.Type,
		ResourceID:  req.ResourceID,
		PrincipalID: principalID,
		Reason:      req.Reason,
	}
	switch {
	case policy.RequireAmount:
		if req.Amount == nil || *req.Amount <= 0 {
			return Command{}, shared.ErrInvalidAmount
		}
		cmd.Amount = *req.Amount
	case req.Amount != nil:
		return Command{}, fmt.Errorf("%w: %s takes no amount", shared.ErrValidation, req.Type)
	}
	if policy.RequireTier {
		if !validTier(req.Tier) {
			return Command{}, fmt.Errorf("%w: unknown tier %q", shared.ErrValidation, req.Tier)
		}
		cmd.Tier = req.Tier
	}
	return cmd, nil
}

func (d *Dispatcher) quarantineResource(ctx context.Context, cmd Command, amount *int64, cause error) {
	mark := Mark{
		ResourceID:  cmd.ResourceID,
		Action:      cmd.Type,
		PrincipalID: cmd.PrincipalID,
		Reason:      cmd.Reason,
		Amount:      amount,
		At:          d.now().UTC(),
		Cause:       cause.Error(),
	}
	attrs := []any{
		slog.String("action", string(cmd.Type)),
		slog.String("resource", cmd.ResourceID),
		slog.String("principal", cmd.PrincipalID),
		slog.Any("error", cause),
	}
	if amount != nil {
		attrs = append(attrs, slog.String("amount", strconv.FormatInt(*amount, 10)))
	}
	d.logger.Error("action committed without audit entry", attrs...)
	if err := d.quarantine.Mark(ctx, mark); err != nil {
		d.logger.Error("quarantine resource", slog.String("resource", cmd.ResourceID), slog.Any("error", err))
	}
}

func (d *Dispatcher) release(ctx context.Context, principalID, key string) {
	if key == "" || d.idempotency == nil {
		return
	}
	if err := d.idempotency.Release(ctx, d.idempotencyKey(principalID, key), IdempotencyModule); err != nil {
		d.logger.Warn("release idempotency key", slog.Any("error", err))
	}
}

func (d *Dispatcher) idempotencyKey(principalID, key string) string {
	return principalID + ":" + key
}

func (d *Dispatcher) count(t Type, outcome string) {
	if d.metrics != nil {
		d.metrics.ActionDispatched(string(t), outcome)
	}
}
