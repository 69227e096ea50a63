package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/dateapp/dateapp-admin/internal/actions"
	"github.com/dateapp/dateapp-admin/internal/app"
	"github.com/dateapp/dateapp-admin/internal/audit"
	audithttp "github.com/dateapp/dateapp-admin/internal/audit/http"
	"github.com/dateapp/dateapp-admin/internal/auth"
	"github.com/dateapp/dateapp-admin/internal/billing"
	"github.com/dateapp/dateapp-admin/internal/members"
	"github.com/dateapp/dateapp-admin/internal/observability"
	"github.com/dateapp/dateapp-admin/internal/platform/cache"
	"github.com/dateapp/dateapp-admin/internal/platform/db"
	"github.com/dateapp/dateapp-admin/internal/rbac"
	"github.com/dateapp/dateapp-admin/internal/reveal"
	"github.com/dateapp/dateapp-admin/internal/session"
	"github.com/dateapp/dateapp-admin/internal/shared"
	"github.com/dateapp/dateapp-admin/jobs"
)

const limiterSweepInterval = 5 * time.Minute

func main() {
	if app.SkipStartup("admin") {
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

	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
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

	jobClient := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("asynq client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		_ = inspector.Close()
	}()

	metrics := observability.NewMetrics()
	checker := rbac.Evaluator{}

	sessions := session.NewManager(session.NewRedisStore(redisClient, cfg.SessionRetention), session.Config{
		TTL:    cfg.SessionTTL,
		Logger: logger,
	})

	auditLog := audit.NewLog(auditStore(cfg, pool, logger), audit.Config{
		Logger:   logger,
		PageSize: cfg.AuditPageSize,
		Failures: metrics,
	})

	gate, err := reveal.NewGate(
		sessions,
		reveal.NewRedisGrantStore(redisClient, cfg.RevealRetention),
		auditLog,
		jobClient,
		reveal.NewPGValueSource(pool),
		reveal.Config{
			TTL:               cfg.RevealTTL,
			Digits:            cfg.RevealCodeDigits,
			MaxAttempts:       cfg.RevealMaxAttempts,
			RequestsPerMinute: cfg.RevealRequestRate,
			Secret:            []byte(cfg.RevealSecret),
			Logger:            logger,
			Metrics:           metrics,
		},
	)
	if err != nil {
		logger.Error("init reveal gate", slog.Any("error", err))
		os.Exit(1)
	}

	dispatcher, err := actions.NewDispatcher(sessions, auditLog, executors(pool), actions.Config{
		Checker:     checker,
		Quarantine:  actions.NewRedisQuarantine(redisClient),
		Idempotency: shared.NewIdempotencyStore(pool),
		Metrics:     metrics,
		Logger:      logger,
	})
	if err != nil {
		logger.Error("init dispatcher", slog.Any("error", err))
		os.Exit(1)
	}

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		Sessions:           sessions,
		Checker:            checker,
		AuthHandler:        auth.NewHandler(logger, auth.NewService(auth.NewRepository(pool)), sessions),
		PermissionsHandler: rbac.NewPermissionsHandler(checker),
		RevealHandler:      reveal.NewHandler(logger, gate),
		ActionsHandler:     actions.NewHandler(logger, dispatcher),
		AuditHandler:       audithttp.NewHandler(logger, auditLog),
		JobHandler:         jobs.NewHandler(inspector, logger),
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		ticker := time.NewTicker(limiterSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if _, err := gate.Sweep(gctx); err != nil {
					logger.Warn("reveal sweep", slog.Any("error", err))
				}
			}
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("admin server", slog.Any("error", err))
		os.Exit(1)
	}
}

func auditStore(cfg *app.Config, pool *pgxpool.Pool, logger *slog.Logger) audit.Store {
	if cfg.AuditDriver == app.AuditDriverMemory {
		logger.Warn("audit log is held in memory and will not survive a restart")
		return audit.NewMemoryStore()
	}
	return audit.NewPGStore(pool)
}

func executors(pool *pgxpool.Pool) map[actions.Type]actions.Executor {
	memberSvc := members.NewService(members.NewRepository(pool))
	billingSvc := billing.NewService(billing.NewRepository(pool))
	return map[actions.Type]actions.Executor{
		actions.TypeSuspend:    memberSvc,
		actions.TypeRestore:    memberSvc,
		actions.TypeTierChange: memberSvc,
		actions.TypeRefund:     billingSvc,
		actions.TypeCredit:     billingSvc,
		actions.TypeCancel:     billingSvc,
	}
}
