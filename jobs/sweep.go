package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/dateapp/dateapp-admin/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// Sweeper removes records past retention and reports how many went.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// SweeperFunc adapts a function to Sweeper.
type SweeperFunc func(ctx context.Context) (int, error)

// Sweep implements Sweeper.
func (f SweeperFunc) Sweep(ctx context.Context) (int, error) {
	return f(ctx)
}

// KeyCleaner prunes idempotency keys; *shared.IdempotencyStore satisfies it.
type KeyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// SweepJob expires sessions, reveal grants and stale idempotency keys.
type SweepJob struct {
	Sessions     Sweeper
	Grants       Sweeper
	Keys         KeyCleaner
	KeyRetention time.Duration
	Logger       *slog.Logger
	Metrics      *jobmetrics.Metrics
}

// Handle processes TaskSweep. Every store is swept even when an earlier one
// fails; the joined error triggers a retry.
func (j *SweepJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil {
		return errors.New("sweep: handler not configured")
	}
	tracker := j.metrics().Track(TaskSweep)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	var errs []error
	if j.Sessions != nil {
		errs = append(errs, j.sweep(ctx, "sessions", j.Sessions))
	}
	if j.Grants != nil {
		errs = append(errs, j.sweep(ctx, "grants", j.Grants))
	}
	if j.Keys != nil && j.KeyRetention > 0 {
		errs = append(errs, j.sweep(ctx, "idempotency_keys", SweeperFunc(func(ctx context.Context) (int, error) {
			n, err := j.Keys.Cleanup(ctx, j.KeyRetention)
			return int(n), err
		})))
	}
	return errors.Join(errs...)
}

func (j *SweepJob) sweep(ctx context.Context, kind string, s Sweeper) error {
	n, err := s.Sweep(ctx)
	j.metrics().AddSwept(kind, n)
	if err != nil {
		j.logger().Error("sweep", slog.String("kind", kind), slog.Int("removed", n), slog.Any("error", err))
		return err
	}
	if n > 0 {
		j.logger().Info("sweep", slog.String("kind", kind), slog.Int("removed", n))
	}
	return nil
}

func (j *SweepJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

func (j *SweepJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
