package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	httptransport "github.com/ticketdesk/ticket-service/internal/api/http"
	"github.com/ticketdesk/ticket-service/internal/api/http/handlers"
	"github.com/ticketdesk/ticket-service/internal/auth"
	"github.com/ticketdesk/ticket-service/internal/config"
	"github.com/ticketdesk/ticket-service/internal/events"
	"github.com/ticketdesk/ticket-service/internal/notification"
	"github.com/ticketdesk/ticket-service/internal/observability"
	"github.com/ticketdesk/ticket-service/internal/persistence"
	"github.com/ticketdesk/ticket-service/internal/repository"
	"github.com/ticketdesk/ticket-service/internal/service"
	"github.com/ticketdesk/ticket-service/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger, cfg.App.Name, cfg.App.Env)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if pg.Enabled() && cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(pg.PoolHandle(), logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	var (
		userRepo   repository.UserRepository
		ticketRepo repository.TicketRepository
	)
	if pg.Enabled() {
		userRepo = repository.NewUserRepository(pg.PoolHandle())
		ticketRepo = repository.NewTicketRepository(pg.PoolHandle())
	} else {
		userRepo = repository.NewMemoryUserRepository()
		ticketRepo = repository.NewMemoryTicketRepository()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	dispatcher := events.NewBus()
	service.NewNotificationService(dispatcher, logger).RegisterHandlers()

	gateway := notification.NewSMTPGateway(cfg.Notification, logger)
	if !gateway.Configured() {
		logger.Warn("SMTP_HOST not set; L3 escalation emails will not be sent")
	}

	authService := service.NewAuthService(*cfg, service.AuthDependencies{
		UserRepo: userRepo,
		Logger:   logger,
	})
	if err := authService.EnsureAdmin(ctx, cfg.Bootstrap); err != nil {
		logger.Fatal("failed to seed admin account", zap.Error(err))
	}

	ticketService := service.NewTicketService(service.TicketDependencies{
		TicketRepo:    ticketRepo,
		Gateway:       gateway,
		Dispatcher:    dispatcher,
		Metrics:       metrics,
		Logger:        logger,
		NotifyTimeout: cfg.Notification.Timeout(),
	})

	escalations := worker.NewEscalationWorker(ticketService, worker.EscalationWorkerConfig{
		Interval:  cfg.Scheduler.Interval(),
		L2After:   cfg.Scheduler.L2After(),
		L3After:   cfg.Scheduler.L3After(),
		BatchSize: cfg.Scheduler.BatchSize,
	}, metrics, logger)
	if cfg.Scheduler.Enabled {
		escalations.Start(ctx)
		defer escalations.Stop()
	}

	app := fiber.New(fiber.Config{AppName: cfg.App.Name})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health: handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, map[string]handlers.Pinger{
			"postgres": pg,
			"redis":    redis,
		}),
		Auth:           handlers.NewAuthHandler(authService),
		Users:          handlers.NewUsersHandler(authService),
		Tickets:        handlers.NewTicketsHandler(ticketService),
		AuthMiddleware: auth.NewAuthMiddleware(authService.TokenManager(), userRepo),
		LoginLimiter: httptransport.LoginRateLimiter(redis, cfg.RateLimit.LoginMaxAttempts,
			cfg.RateLimit.Window(), logger),
		Gatherer: registry,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	if err := app.Shutdown(); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
