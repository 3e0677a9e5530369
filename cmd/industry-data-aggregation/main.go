package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	httpapi "github.com/i474232898/industry-data-aggregation/internal/api/http"
	"github.com/i474232898/industry-data-aggregation/internal/cache"
	"github.com/i474232898/industry-data-aggregation/internal/common"
	"github.com/i474232898/industry-data-aggregation/internal/config"
	"github.com/i474232898/industry-data-aggregation/internal/dataset"
	"github.com/i474232898/industry-data-aggregation/internal/industry"
	"github.com/i474232898/industry-data-aggregation/internal/industry/providers"
	"github.com/i474232898/industry-data-aggregation/internal/metrics"
	"github.com/i474232898/industry-data-aggregation/internal/scheduler"
)

func main() {
	cfg, err := config.Load(os.Getenv("INDUSTRY_CONFIG_FILE"))
	if err != nil {
		zap.NewExample().Fatal("failed to load config", zap.Error(err))
	}

	log := common.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	defer func() { _ = log.Sync() }()

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		log.Fatal("failed to register metrics", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Two-tier cache shared by every adapter.
	cacheOpts := []cache.Option{cache.WithPolicy(cfg.TTLPolicy()), cache.WithLogger(log)}
	if cfg.Cache.Redis.Enabled {
		tier, err := cache.NewRedisTier(ctx, cache.RedisConfig{
			Addr:      cfg.Cache.Redis.Addr,
			Password:  cfg.Cache.Redis.Password,
			DB:        cfg.Cache.Redis.DB,
			KeyPrefix: cfg.Cache.Redis.KeyPrefix,
		})
		if err != nil {
			log.Fatal("failed to connect durable cache", zap.Error(err))
		}
		cacheOpts = append(cacheOpts, cache.WithDurable(tier))
	}
	cacheManager, err := cache.NewManager(cacheOpts...)
	if err != nil {
		log.Fatal("failed to build cache", zap.Error(err))
	}
	defer func() { _ = cacheManager.Close() }()

	// Shared HTTP client for outbound source calls; per-request timeouts come from each source.
	httpClient := &http.Client{}
	deps := providers.Deps{
		Cache:     cacheManager,
		Validator: dataset.DefaultValidator(),
		Logger:    log,
	}

	var adapters []industry.Adapter
	for _, id := range cfg.EnabledSources() {
		pc := cfg.Sources[id].ProviderConfig()
		pc.HTTP.Client = httpClient
		a, err := providers.New(id, pc, deps)
		if err != nil {
			log.Fatal("failed to build source", zap.String("source", id), zap.Error(err))
		}
		if !a.IsAvailable() {
			log.Warn("source registered without its required credential", zap.String("source", id))
		}
		adapters = append(adapters, a)
	}

	service := industry.NewService(adapters, cfg.ServiceConfig(), industry.WithServiceLogger(log))

	if cfg.Scheduler.Enabled {
		jobs := make([]industry.DatasetQuery, 0, len(cfg.Scheduler.Warm))
		for _, w := range cfg.Scheduler.Warm {
			jobs = append(jobs, industry.DatasetQuery{
				SourceID:    w.Source,
				Dataflow:    w.Dataflow,
				Key:         w.Key,
				StartPeriod: w.StartPeriod,
				EndPeriod:   w.EndPeriod,
			})
		}
		sched := scheduler.New(service, cacheManager, jobs, cfg.Scheduler.Interval, log)
		if err := sched.Start(); err != nil {
			log.Fatal("failed to start scheduler", zap.Error(err))
		}
		defer sched.Stop()
	}

	app := fiber.New(fiber.Config{
		AppName:               "industry-data-aggregation",
		DisableStartupMessage: true,
		ReadTimeout:           cfg.Server.ReadTimeout,
		WriteTimeout:          cfg.Server.WriteTimeout,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			var fe *fiber.Error
			if errors.As(err, &fe) {
				code = fe.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})

	app.Use(requestid.New(requestid.Config{Generator: uuid.NewString}))
	app.Use(logger.New(logger.Config{Format: "${time} ${locals:requestid} ${status} ${method} ${path} ${latency}\n"}))
	app.Use(recover.New())

	httpapi.RegisterRoutes(app, httpapi.Deps{
		Service:  service,
		Cache:    cacheManager,
		Gatherer: prometheus.DefaultGatherer,
		Logger:   log,
	})

	go func() {
		log.Info("listening", zap.String("port", cfg.Server.Port), zap.Strings("sources", cfg.EnabledSources()))
		if err := app.Listen(":" + cfg.Server.Port); err != nil {
			log.Error("fiber server stopped", zap.Error(err))
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error("error during shutdown", zap.Error(err))
	}
}
