package server

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/solstream/keygate/internal/api"
	"github.com/solstream/keygate/internal/config"
	"github.com/solstream/keygate/internal/metrics"
	"github.com/solstream/keygate/internal/models"
	"github.com/solstream/keygate/internal/services/cache"
	"github.com/solstream/keygate/internal/services/database"
	"github.com/solstream/keygate/internal/services/keystore"
	"github.com/solstream/keygate/internal/services/middleware"
	"github.com/solstream/keygate/internal/services/ratelimit"
	"github.com/solstream/keygate/internal/services/scheduler"
	"github.com/solstream/keygate/internal/services/token"
	"github.com/solstream/keygate/internal/services/usagelog"
	"github.com/solstream/keygate/internal/services/validator"
)

// Server wires the key service together: storage, codec, validator, the
// management API and the protected demo surface.
type Server struct {
	app       *fiber.App
	cfg       *config.Config
	db        *database.DB
	worker    *usagelog.Worker
	scheduler *scheduler.RolloverScheduler
	cancel    context.CancelFunc
}

func New(cfg *config.Config) (*Server, error) {
	db, err := database.New(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}
	if err := db.AutoMigrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	codec, err := token.NewCodec(cfg.Auth.Salt)
	if err != nil {
		return nil, err
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := redisClient.Ping(ctx).Err()
		cancel()
		if err != nil {
			fiberlog.Warnf("Redis unreachable, lookup cache disabled: %v", err)
			redisClient = nil
		}
	}

	limiter := ratelimit.NewLimiter(cfg.RateLimits)
	store := keystore.NewService(db.DB, codec, keystore.Defaults{
		MaxKeysPerTenant:  cfg.Keys.MaxPerTenant,
		DefaultExpiration: cfg.Keys.DefaultExpiration,
	})
	usageService := usagelog.NewService(db.DB, limiter, cfg.Usage.LoggingEnabled)
	worker := usagelog.NewWorker(usageService, cfg.Usage.WorkerPoolSize, cfg.Usage.WorkerBufferSize)
	lookup := cache.NewLookupCache(redisClient, time.Duration(cfg.Redis.TTLSecs)*time.Second)
	valid := validator.New(codec, store, limiter, usageService, worker, lookup)

	metrics.Register()

	app := fiber.New(fiber.Config{
		AppName:               "keygate",
		DisableStartupMessage: cfg.Server.Environment == "production",
	})
	app.Use(requestid.New())
	app.Use(logger.New())

	authMw := middleware.NewAuthMiddleware(cfg.Auth.JWTSecret)
	keyMw := middleware.NewAPIKeyMiddleware(valid, nil)

	keyHandler := api.NewAPIKeyHandler(store, usageService, lookup)
	contentHandler := api.NewContentHandler()
	healthHandler := api.NewHealthHandler(db, redisClient)

	app.Get("/health", healthHandler.HealthCheck)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	mgmt := app.Group("/v1", authMw.RequireOwner())
	mgmt.Post("/keys", keyHandler.CreateAPIKey)
	mgmt.Get("/keys", keyHandler.ListAPIKeys)
	mgmt.Get("/keys/:key_id", keyHandler.GetAPIKey)
	mgmt.Patch("/keys/:key_id", keyHandler.UpdateAPIKey)
	mgmt.Delete("/keys/:key_id", keyHandler.RevokeAPIKey)
	mgmt.Get("/keys/:key_id/usage", keyHandler.GetUsage)
	mgmt.Get("/keys/:key_id/usage/stats", keyHandler.GetUsageStats)
	mgmt.Get("/settings", keyHandler.GetTenantSettings)
	mgmt.Put("/settings", keyHandler.UpdateTenantSettings)

	content := app.Group("/v1/content")
	content.Get("/:resource_id", keyMw.Require(models.PermissionReadContent, "resource_id"), contentHandler.GetContent)
	content.Post("/:resource_id", keyMw.Require(models.PermissionCreateContent, "resource_id"), contentHandler.CreateContent)

	ctx, cancel := context.WithCancel(context.Background())
	sweeper := scheduler.NewRolloverScheduler(usageService, time.Duration(cfg.Usage.SweepIntervalMin)*time.Minute)
	go sweeper.Start(ctx)

	return &Server{
		app:       app,
		cfg:       cfg,
		db:        db,
		worker:    worker,
		scheduler: sweeper,
		cancel:    cancel,
	}, nil
}

func (s *Server) Run() error {
	return s.app.Listen(":" + s.cfg.Server.Port)
}

// Shutdown stops the HTTP listener, drains the usage worker and closes the
// store.
func (s *Server) Shutdown() error {
	s.cancel()
	s.scheduler.Stop()

	if err := s.app.Shutdown(); err != nil {
		return err
	}
	s.worker.Stop()
	return s.db.Close()
}
