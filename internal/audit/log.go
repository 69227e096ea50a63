package audit

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/dateapp/dateapp-admin/internal/shared"
)

const defaultPageSize = 200

// FailureRecorder is notified whenever an append fails.
type FailureRecorder interface {
	AuditWriteFailed()
}

// Config tunes a Log.
type Config struct {
	Logger   *slog.Logger
	Now      func() time.Time
	PageSize int
	Failures FailureRecorder
}

// Log is the append-only audit trail. It has no update or delete operation;
// corrections are appended as compensating entries.
type Log struct {
	store    Store
	logger   *slog.Logger
	now      func() time.Time
	pageSize int
	failures FailureRecorder
}

// NewLog constructs a Log over store.
func NewLog(store Store, cfg Config) *Log {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	return &Log{store: store, logger: cfg.Logger, now: cfg.Now, pageSize: cfg.PageSize, failures: cfg.Failures}
}

// Append persists e and returns its sequence number. Any persistence failure
// is reported as shared.ErrAuditWriteFailed.
func (l *Log) Append(ctx context.Context, e Entry) (int64, error) {
	if e.At.IsZero() {
		e.At = l.now()
	}
	e.At = e.At.UTC()
	if err := e.Validate(); err != nil {
		return 0, fmt.Errorf("%w: %v", shared.ErrValidation, err)
	}
	stored, err := l.store.Append(ctx, e)
	if err != nil {
		if l.failures != nil {
			l.failures.AuditWriteFailed()
		}
		l.logger.Error("audit append failed",
			slog.String("action", e.Action),
			slog.String("resource", e.ResourceID),
			slog.String("principal", e.PrincipalID),
			slog.Any("error", err),
		)
		return 0, fmt.Errorf("%w: %v", shared.ErrAuditWriteFailed, err)
	}
	return stored.Seq, nil
}

// Query streams entries matching f in ascending sequence order. Each call
// starts a fresh scan from f.AfterSeq; pages are fetched as the caller iterates.
func (l *Log) Query(ctx context.Context, f Filter) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		after := f.AfterSeq
		for {
			page, err := l.store.Page(ctx, f, after, l.pageSize)
			if err != nil {
				yield(Entry{}, fmt.Errorf("audit: query: %w", err))
				return
			}
			for _, e := range page {
				if !yield(e, nil) {
					return
				}
				after = e.Seq
			}
			if len(page) < l.pageSize {
				return
			}
		}
	}
}

// Collect gathers up to limit entries of Query. hasMore reports whether the
// scan stopped early.
func (l *Log) Collect(ctx context.Context, f Filter, limit int) (entries []Entry, hasMore bool, err error) {
	for e, err := range l.Query(ctx, f) {
		if err != nil {
			return nil, false, err
		}
		if len(entries) == limit {
			return entries, true, nil
		}
		entries = append(entries, e)
	}
	return entries, false, nil
}

// Compensate appends a reconcile entry for resourceID, optionally pointing at
// the entry it corrects.
func (l *Log) Compensate(ctx context.Context, principalID, resourceID, reason string, refSeq *int64) (int64, error) {
	if strings.TrimSpace(reason) == "" {
		return 0, shared.ErrMissingReason
	}
	if refSeq != nil {
		ref, err := l.store.Get(ctx, *refSeq)
		if err != nil {
			return 0, fmt.Errorf("audit: referenced entry %d: %w", *refSeq, err)
		}
		if ref.ResourceID != resourceID {
			return 0, fmt.Errorf("%w: entry %d belongs to %s", shared.ErrValidation, *refSeq, ref.ResourceID)
		}
	}
	return l.Append(ctx, Entry{
		PrincipalID: principalID,
		Action:      ActionReconcile,
		ResourceID:  resourceID,
		Reason:      reason,
		Outcome:     OutcomeSuccess,
		RefSeq:      refSeq,
	})
}
