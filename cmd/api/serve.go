package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/helpdesk-service/internal/api/http"
	"github.com/spec-kit/helpdesk-service/internal/api/http/handlers"
	"github.com/spec-kit/helpdesk-service/internal/auth"
	"github.com/spec-kit/helpdesk-service/internal/config"
	"github.com/spec-kit/helpdesk-service/internal/events"
	"github.com/spec-kit/helpdesk-service/internal/messaging"
	"github.com/spec-kit/helpdesk-service/internal/observability"
	"github.com/spec-kit/helpdesk-service/internal/persistence"
	"github.com/spec-kit/helpdesk-service/internal/repository"
	"github.com/spec-kit/helpdesk-service/internal/repository/memory"
	"github.com/spec-kit/helpdesk-service/internal/service"
	"github.com/spec-kit/helpdesk-service/internal/storage"
	"github.com/spec-kit/helpdesk-service/internal/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := observability.NewLogger(cfg.Logger, cfg.App)
	if err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	shutdownTracing := observability.SetupTracing(ctx, cfg.Telemetry, cfg.App.Name, cfg.App.Version, logger)
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer flushCancel()
		_ = shutdownTracing(flushCtx)
	}()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		return fmt.Errorf("failed to connect postgres: %w", err)
	}
	defer pg.Close()

	var store repository.Store
	if pool := pg.PoolHandle(); pool != nil {
		if cfg.Postgres.RunMigrations {
			if err := persistence.RunMigrations(ctx, pool, logger); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
		}
		store = repository.NewPostgresStore(pool)
	} else {
		mem := memory.NewStore()
		if err := seedDevelopmentData(mem, cfg.Auth); err != nil {
			return fmt.Errorf("failed to seed development data: %w", err)
		}
		logger.Warn("running on the in-memory store with demo accounts", zap.Strings("users", devUsernames))
		store = mem
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	blobs, err := storage.NewLocalBlobStore(cfg.Storage.UploadDir, cfg.Storage.PublicPrefix)
	if err != nil {
		return err
	}

	producer := messaging.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	defer producer.Close() //nolint:errcheck

	dispatcher := events.NewInMemoryDispatcher()
	var sink service.EventSink
	var forwarder *worker.EventForwarder
	if producer.Enabled() {
		forwarder = worker.NewEventForwarder(producer, logger, 0)
		sink = forwarder
	}
	notifications := service.NewNotificationService(dispatcher, logger, sink)
	stopNotifications := worker.StartNotificationWorker(ctx, notifications, forwarder)
	defer stopNotifications()

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)
	authService := service.NewAuthService(service.AuthDependencies{Store: store, Tokens: tokens, Logger: logger})
	catalogService := service.NewCatalogService(service.CatalogDependencies{
		Store:    store,
		Cache:    redis,
		CacheKey: cfg.Redis.CatalogCacheKey,
		TTL:      cfg.Redis.CatalogTTL(),
		Logger:   logger,
	})
	gate := service.NewSurveyGate(service.SurveyGateDependencies{
		Store:            store,
		Dispatcher:       dispatcher,
		Logger:           logger,
		IncludeCancelled: cfg.Tickets.SurveyRequiredForCancelled,
	})
	attachments := service.NewAttachmentCatalog(service.AttachmentCatalogDependencies{
		Store:      store,
		Blobs:      blobs,
		Dispatcher: dispatcher,
		Logger:     logger,
	})
	registry := service.NewTicketRegistry(service.TicketRegistryDependencies{
		Store:       store,
		SurveyGate:  gate,
		Attachments: attachments,
		Dispatcher:  dispatcher,
		Logger:      logger,
		Config:      cfg.Tickets,
	})
	ledger := service.NewAssignmentLedger(service.AssignmentLedgerDependencies{
		Store:      store,
		Dispatcher: dispatcher,
		Logger:     logger,
	})

	metrics := observability.NewMetrics()
	app := fiber.New(fiber.Config{
		AppName:   cfg.App.Name,
		BodyLimit: cfg.App.BodyLimitMB * 1024 * 1024,
	})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health: handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, map[string]handlers.Pinger{
			"postgres": pg,
			"redis":    redis,
		}, metrics),
		Auth:           handlers.NewAuthHandler(authService),
		Catalog:        handlers.NewCatalogHandler(catalogService),
		Uploads:        handlers.NewUploadsHandler(blobs),
		Requester:      handlers.NewRequesterHandler(registry, gate, attachments),
		Technician:     handlers.NewTechnicianHandler(registry, ledger, attachments),
		AuthMiddleware: auth.NewAuthMiddleware(tokens, authService),
	})

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.App.Addr()))
		errCh <- app.Listen(cfg.App.Addr())
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("fiber listen: %w", err)
	case sig := <-waitForSignal():
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}
	return app.ShutdownWithTimeout(10 * time.Second)
}

func waitForSignal() <-chan os.Signal {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	return sigCh
}
