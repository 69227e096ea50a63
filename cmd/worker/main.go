package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/dateapp/dateapp-admin/cmd/worker/cli"
	"github.com/dateapp/dateapp-admin/internal/app"
	jobmetrics "github.com/dateapp/dateapp-admin/internal/jobs"
	"github.com/dateapp/dateapp-admin/internal/platform/cache"
	"github.com/dateapp/dateapp-admin/internal/platform/db"
	"github.com/dateapp/dateapp-admin/internal/reveal"
	"github.com/dateapp/dateapp-admin/internal/session"
	"github.com/dateapp/dateapp-admin/internal/shared"
	"github.com/dateapp/dateapp-admin/jobs"
)

func main() {
	if app.SkipStartup("worker") {
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)
	slog.SetDefault(logger)

	if len(os.Args) > 1 && os.Args[1] == "jobs" {
		jobsCLI := cli.NewJobsCLI(cfg.RedisAddr)
		code := jobsCLI.Run(ctx, os.Args[2:], os.Stdout, os.Stderr)
		if err := jobsCLI.Close(); err != nil {
			logger.Warn("jobs cli close", slog.Any("error", err))
		}
		os.Exit(code)
	}

	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := jobmetrics.NewMetrics(nil)
	sessions := session.NewManager(session.NewRedisStore(redisClient, cfg.SessionRetention), session.Config{
		TTL:    cfg.SessionTTL,
		Logger: logger,
	})
	grants := reveal.NewRedisGrantStore(redisClient, cfg.RevealRetention)

	sweepJob := &jobs.SweepJob{
		Sessions: sessions,
		Grants: jobs.SweeperFunc(func(ctx context.Context) (int, error) {
			return grants.Sweep(ctx, time.Now().UTC())
		}),
		Keys:         shared.NewIdempotencyStore(pool),
		KeyRetention: cfg.IdempotencyRetention,
		Logger:       logger,
		Metrics:      metrics,
	}
	mailer := jobs.NewSMTPMailer(jobs.MailerConfig{
		Host:   cfg.SMTPHost,
		Port:   cfg.SMTPPort,
		From:   cfg.SMTPFrom,
		Logger: logger,
	})
	challengeJob := jobs.NewChallengeJob(mailer, logger, metrics)

	sweepTask, err := jobs.NewSweepTask()
	if err != nil {
		logger.Error("build sweep task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskSweep, Handler: sweepJob.Handle},
			{Type: jobs.TaskRevealChallenge, Handler: challengeJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.SweepCron, Task: sweepTask, Options: []asynq.Option{asynq.MaxRetry(1), asynq.Unique(time.Minute)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
