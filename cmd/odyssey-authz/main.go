package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-authz/cmd/odyssey-authz/cli"
	"github.com/odyssey-erp/odyssey-authz/internal/app"
	"github.com/odyssey-erp/odyssey-authz/internal/audit"
	audithttp "github.com/odyssey-erp/odyssey-authz/internal/audit/http"
	"github.com/odyssey-erp/odyssey-authz/internal/auth"
	"github.com/odyssey-erp/odyssey-authz/internal/observability"
	"github.com/odyssey-erp/odyssey-authz/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-authz/internal/platform/db"
	"github.com/odyssey-erp/odyssey-authz/internal/rbac"
	"github.com/odyssey-erp/odyssey-authz/internal/users"
	"github.com/odyssey-erp/odyssey-authz/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	if len(os.Args) > 1 {
		if err := cli.Run(ctx, cfg, os.Args[1:], os.Stdout); err != nil {
			logger.Error("command failed", slog.Any("error", err))
			os.Exit(1)
		}
		return
	}

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	dbpool, err := db.New(ctx, db.Options{DSN: cfg.PGDSN, MaxConns: cfg.PGMaxConns})
	if err != nil {
		return err
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		return err
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()

	queueClient := jobs.NewClient(cfg.RedisOpt())
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Warn("queue client close", slog.Any("error", err))
		}
	}()
	auditSink, flushAudit, err := app.NewAuditSink(cfg, app.AuditDeps{
		Writer:    audit.NewWriter(dbpool),
		Enqueuer:  queueClient,
		Logger:    logger,
		OnFailure: metrics.AuditFailed,
	})
	if err != nil {
		return err
	}
	defer flushAudit()

	guards := make([]rbac.Guard, 0, len(cfg.Guards))
	for _, g := range cfg.Guards {
		guards = append(guards, rbac.Guard(g))
	}
	store := rbac.NewStore(rbac.DefaultCatalog(), guards...)

	var syncer *rbac.Syncer
	rbacService := rbac.NewService(rbac.NewRepository(dbpool), store,
		rbac.WithServiceAudit(auditSink),
		rbac.WithServiceLogger(logger),
		rbac.WithReloadHook(metrics.SetStoreVersion),
		rbac.WithPublisher(rbac.PublisherFunc(func(ctx context.Context) error {
			return syncer.Publish(ctx)
		})),
	)
	syncer = rbac.NewSyncer(redisClient, cfg.SyncChannel, cfg.ReloadInterval, rbacService, logger)
	if err := syncer.Reload(ctx); err != nil {
		return fmt.Errorf("load rbac snapshot: %w", err)
	}

	engine := rbac.NewEngine(store, rbac.Guard(cfg.DefaultGuard),
		rbac.WithAuditSink(auditSink),
		rbac.WithObserver(metrics),
	)
	rbacMiddleware := rbac.Middleware{Engine: engine, Logger: logger}

	usersService := users.NewService(users.NewRepository(dbpool), engine, rbacService, store, logger)
	authService := auth.NewService(
		auth.NewRepository(dbpool),
		auth.NewRedisRevocations(redisClient),
		cfg.JWTSecret, cfg.JWTIssuer, cfg.TokenTTL,
	)
	auditService := audit.NewService(audit.NewRepository(dbpool))

	inspector := asynq.NewInspector(cfg.RedisOpt())
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:       logger,
		Config:       cfg,
		Authenticate: auth.Middleware(authService, usersService, logger),
		AuthHandler:  auth.NewHandler(logger, authService),
		RBACHandler:  rbac.NewHandler(logger, rbacService, engine, usersService),
		UsersHandler: users.NewHandler(logger, usersService),
		AuditHandler: audithttp.NewHandler(logger, auditService, rbacMiddleware),
		JobHandler:   jobs.NewHandler(inspector, cfg.AuditQueue, logger),
		Metrics:      metrics,
		Checks: map[string]app.HealthChecker{
			"postgres": func(r *http.Request) error { return dbpool.Ping(r.Context()) },
			"redis":    func(r *http.Request) error { return redisClient.Ping(r.Context()).Err() },
		},
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("guard", cfg.DefaultGuard))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return syncer.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
