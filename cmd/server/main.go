package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"

	"github.com/seu-repo/ocpi-hub/internal/adapter/cache"
	"github.com/seu-repo/ocpi-hub/internal/adapter/http/fiber/handlers"
	"github.com/seu-repo/ocpi-hub/internal/adapter/http/fiber/middleware"
	"github.com/seu-repo/ocpi-hub/internal/adapter/ocpiclient"
	"github.com/seu-repo/ocpi-hub/internal/adapter/queue"
	"github.com/seu-repo/ocpi-hub/internal/adapter/storage/postgres"
	"github.com/seu-repo/ocpi-hub/internal/adapter/vault"
	"github.com/seu-repo/ocpi-hub/internal/domain"
	"github.com/seu-repo/ocpi-hub/internal/observability/events"
	"github.com/seu-repo/ocpi-hub/internal/observability/telemetry"
	"github.com/seu-repo/ocpi-hub/internal/ports"
	"github.com/seu-repo/ocpi-hub/internal/service/auth"
	"github.com/seu-repo/ocpi-hub/internal/service/command"
	"github.com/seu-repo/ocpi-hub/internal/service/health"
	"github.com/seu-repo/ocpi-hub/internal/service/ocpi"
	"github.com/seu-repo/ocpi-hub/internal/service/registration"
	"github.com/seu-repo/ocpi-hub/internal/service/registry"
	"github.com/seu-repo/ocpi-hub/pkg/config"
)

const (
	serviceName    = "ocpi-hub"
	serviceVersion = "v1.0.0"
)

func main() {
	// 1. Initialize Logger
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal("Failed to initialize logger:", err)
	}
	defer logger.Sync()

	logger.Info("Starting OCPI Hub",
		zap.String("service", serviceName),
		zap.String("version", serviceVersion),
	)

	// 2. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	// 3. Resolve secrets from Vault when enabled
	if cfg.Vault.Enabled {
		secrets, err := vault.NewSecretManager(cfg.Vault.Address, cfg.Vault.Token)
		if err != nil {
			logger.Fatal("Failed to connect to Vault", zap.Error(err))
		}
		if dbURL, err := secrets.GetDatabaseCredentials(); err == nil {
			cfg.Database.URL = dbURL
		}
		if hash, err := secrets.GetAdminCredentials(); err == nil {
			cfg.Admin.PasswordHash = hash
		}
		if secret, err := secrets.GetJWTSecret(); err == nil {
			cfg.JWT.Secret = secret
		}
	}

	// 4. Initialize OpenTelemetry (Distributed Tracing)
	if cfg.OpenTelemetry.Enabled {
		tracerProvider, err := telemetry.InitTracer(serviceName, serviceVersion, cfg.OpenTelemetry.Jaeger.Endpoint)
		if err != nil {
			logger.Fatal("Failed to initialize tracer", zap.Error(err))
		}
		defer func() {
			if err := tracerProvider.Shutdown(context.Background()); err != nil {
				logger.Error("Error shutting down tracer provider", zap.Error(err))
			}
		}()
	}

	// 5. Initialize PostgreSQL Connection Pool
	db, err := postgres.NewConnection(cfg.Database.URL, logger)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer postgres.Close(db)

	if cfg.Database.AutoMigrate {
		if err := postgres.RunMigrations(db); err != nil {
			logger.Fatal("Failed to run migrations", zap.Error(err))
		}
	}

	// 6. Initialize Cache (Redis, or in-memory fallback)
	var appCache ports.Cache
	if cfg.Redis.Enabled {
		appCache, err = cache.NewRedisCache(cfg.Redis.URL, logger)
		if err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
	} else {
		appCache = cache.NewLocalCache(time.Minute, logger)
	}
	defer appCache.Close()

	// 7. Initialize Message Queue and Event Sink
	var sink events.Sink = events.NopSink{}
	var messageQueue queue.MessageQueue
	switch cfg.Queue.Provider {
	case "nats":
		messageQueue, err = queue.NewNATSQueue(cfg.NATS.URL, queue.NATSOptions{
			MaxReconnects: cfg.NATS.MaxReconnects,
			ReconnectWait: cfg.NATS.ReconnectWait,
			Timeout:       cfg.NATS.Timeout,
		}, logger)
		if err != nil {
			logger.Fatal("Failed to connect to NATS", zap.Error(err))
		}
		sink = events.NewQueueSink(messageQueue, cfg.Queue.EventPrefix, logger)
	case "rabbitmq":
		messageQueue, err = queue.NewRabbitMQQueue(cfg.RabbitMQ.URL, logger)
		if err != nil {
			logger.Fatal("Failed to connect to RabbitMQ", zap.Error(err))
		}
		sink = events.NewQueueSink(messageQueue, cfg.Queue.EventPrefix, logger)
	}
	if messageQueue != nil {
		defer messageQueue.Close()
	}

	// 8. Initialize Repositories and outbound client factory
	partyRepo := postgres.NewRemotePartyRepository(db, logger)
	tokenRepo := postgres.NewAccessTokenRepository(db, logger)
	clientFactory := ocpiclient.NewFactory(ocpiclient.Options{
		Timeout:   cfg.OCPI.ClientTimeout,
		UserAgent: serviceName + "/" + serviceVersion,
	}, logger)

	supported := make([]domain.VersionID, 0, len(cfg.OCPI.SupportedVersions))
	for _, v := range cfg.OCPI.SupportedVersions {
		supported = append(supported, domain.VersionID(v))
	}

	// 9. Initialize one CommonAPI per hosted local identity
	ctx := context.Background()
	hub := ocpi.NewHub()
	var dispatchers []*command.Dispatcher
	for _, pc := range cfg.OCPI.Parties {
		identity := domain.PartyIdentity{
			CountryCode: pc.CountryCode,
			PartyID:     pc.PartyID,
			Role:        domain.Role(pc.Role),
		}
		if err := identity.Validate(); err != nil {
			logger.Fatal("Invalid local party configuration", zap.Error(err))
		}

		tokens := registry.NewAccessTokenStore(identity, tokenRepo, logger)
		if err := tokens.Load(ctx); err != nil {
			logger.Fatal("Failed to load access tokens", zap.Error(err))
		}
		parties := registry.NewRemotePartyRegistry(identity, partyRepo, tokens, logger)
		if err := parties.Load(ctx); err != nil {
			logger.Fatal("Failed to load remote parties", zap.Error(err))
		}
		versions := registry.NewVersionRegistry(logger)

		dispatcher := command.NewDispatcher(parties, versions, clientFactory,
			cfg.OCPI.BaseURL, cfg.OCPI.SweepInterval, sink, logger)
		dispatcher.Start()
		dispatchers = append(dispatchers, dispatcher)

		receiver := command.NewReceiver(nil, sink, logger)

		stateMachine := registration.NewStateMachine(registration.Config{
			BusinessDetails:   domain.BusinessDetails{Name: pc.BusinessName, Website: pc.Website},
			VersionsURL:       cfg.OCPI.BaseURL + "/ocpi/versions",
			SupportedVersions: supported,
		}, parties, versions, clientFactory, sink, logger)

		hub.Add(ocpi.NewCommonAPI(ocpi.LocalParty{
			Identity:          identity,
			BusinessDetails:   domain.BusinessDetails{Name: pc.BusinessName, Website: pc.Website},
			VersionsURL:       cfg.OCPI.BaseURL + "/ocpi/versions",
			SupportedVersions: supported,
		}, parties, versions, stateMachine, dispatcher, receiver, clientFactory, logger))

		telemetry.RegisteredParties.WithLabelValues(identity.Key()).Set(float64(parties.Count()))
	}
	if hub.Default() == nil {
		logger.Fatal("No local parties configured")
	}

	// 10. Initialize Admin Auth
	authService := auth.NewService(cfg.Admin.Username, cfg.Admin.PasswordHash,
		cfg.JWT.Secret, cfg.JWT.AccessTokenDuration, appCache, logger)

	// 11. Initialize Fiber HTTP Server
	app := fiber.New(fiber.Config{
		AppName:               serviceName,
		ServerHeader:          serviceName,
		DisableStartupMessage: true,
		ErrorHandler:          middleware.ErrorHandler(logger),
	})

	// Global Middleware
	app.Use(recover.New())
	app.Use(requestid.New(requestid.Config{Header: "X-Request-ID"}))
	app.Use(fiberlogger.New())
	if cfg.CORS.Enabled {
		app.Use(middleware.NewCORS(cfg.CORS))
	}
	app.Use(middleware.RateLimit())
	app.Use(middleware.CircuitBreaker(logger))

	// Health Check Endpoints
	healthService := health.NewService(health.Config{
		Version: serviceVersion,
		DB:      db,
		Cache:   appCache,
	}, logger)
	health.NewFiberHandler(healthService).RegisterRoutes(app)

	// Metrics endpoint for Prometheus
	app.Get("/metrics", func(c *fiber.Ctx) error {
		handler := fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler())
		handler(c.Context())
		return nil
	})

	// OCPI surface, served by the primary hosted identity
	api := hub.Default()
	versionsHandler := handlers.NewVersionsHandler(api, cfg.OCPI.BaseURL, logger)
	credentialsHandler := handlers.NewCredentialsHandler(api, logger)
	commandsHandler := handlers.NewCommandsHandler(api, logger)

	ocpiGroup := app.Group("/ocpi", middleware.TokenRequired(api, logger))
	ocpiGroup.Get("/versions", versionsHandler.List)
	ocpiGroup.Get("/versions/:version", versionsHandler.Details)
	ocpiGroup.Post("/:version/credentials", credentialsHandler.Post)
	ocpiGroup.Put("/:version/credentials", credentialsHandler.Put)
	ocpiGroup.Delete("/:version/credentials", credentialsHandler.Delete)
	ocpiGroup.Post("/:version/commands/:type", commandsHandler.Execute)
	ocpiGroup.Post("/:version/responses/:correlation_id", commandsHandler.Result)

	// Administrative API
	adminHandler := handlers.NewAdminHandler(hub, authService, logger)
	app.Post("/admin/login", adminHandler.Login)

	admin := app.Group("/admin", middleware.AdminRequired(authService))
	admin.Get("/parties", adminHandler.ListParties)
	admin.Post("/parties", adminHandler.AddParty)
	admin.Post("/registrations", adminHandler.Register)
	admin.Post("/registrations/renew", adminHandler.Renew)
	admin.Delete("/registrations", adminHandler.Unregister)
	admin.Post("/tokens", adminHandler.AddToken)
	admin.Post("/tokens/block", adminHandler.BlockToken)
	admin.Post("/commands", adminHandler.SendCommand)

	// 12. Start HTTP Server
	go func() {
		logger.Info("Starting HTTP Server", zap.Int("port", cfg.HTTP.Port))
		if err := app.Listen(fmt.Sprintf(":%d", cfg.HTTP.Port)); err != nil {
			logger.Fatal("HTTP Server failed", zap.Error(err))
		}
	}()

	// 13. Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	for _, d := range dispatchers {
		d.Stop()
	}

	logger.Info("Server exited gracefully")
}
