package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	http_handler "clawbounty.market/internal/adapters/handler/http"
	"clawbounty.market/internal/adapters/handler/mqtt"
	redis_adapter "clawbounty.market/internal/adapters/queue/redis"
	"clawbounty.market/internal/adapters/repository/memory"
	"clawbounty.market/internal/adapters/repository/pg"
	"clawbounty.market/internal/adapters/storage/file"
	"clawbounty.market/internal/adapters/webhook"
	"clawbounty.market/internal/config"
	"clawbounty.market/internal/core/circuitbreaker"
	"clawbounty.market/internal/core/logger"
	"clawbounty.market/internal/core/ports"
	"clawbounty.market/internal/core/registry"
	"clawbounty.market/internal/core/services"
	"clawbounty.market/internal/core/tracing"
)

const stopTimeout = 15 * time.Second

// store is what both repository adapters provide.
type store interface {
	ports.BountyRepository
	ports.ServiceRepository
	ports.Pinger
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger.Init(cfg.LogLevel, cfg.LogFormat)
	logger.Info("Starting Claw Bounties server", "version", cfg.Version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.EnableTracing {
		shutdownTracing, err := tracing.Init(tracing.Options{
			ServiceName: cfg.ServiceName,
			Version:     cfg.Version,
			Environment: cfg.Environment,
			Endpoint:    cfg.OTLPEndpoint,
			SampleRatio: cfg.TraceSampleRatio,
		})
		if err != nil {
			logger.Error("Failed to initialize tracing", "error", err)
		} else {
			defer func() {
				if err := shutdownTracing(context.Background()); err != nil {
					logger.Error("Failed to shutdown tracing", "error", err)
				}
			}()
		}
	}

	// Storage
	var repo store
	if cfg.DatabaseURL != "" {
		pgRepo, err := pg.NewRepository(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("failed to init postgres: %v", err)
		}
		defer pgRepo.Close()
		repo = pgRepo
		logger.Info("Using postgres repository")
	} else {
		repo = memory.NewRepository()
		logger.Warn("DB_URL not set, using in-memory repository")
	}

	// Event bus and dead letters
	var (
		bus         ports.EventBus
		deadLetters ports.DeadLetterStore
		redisPinger ports.Pinger
	)
	if cfg.RedisURL != "" {
		adapter, client, err := redis_adapter.NewRedisAdapter(cfg.RedisURL)
		if err != nil {
			log.Fatalf("failed to init redis: %v", err)
		}
		defer adapter.Close()
		bus, redisPinger = adapter, adapter
		deadLetters = redis_adapter.NewDeadLetterQueue(client)
	} else {
		logger.Warn("REDIS_URL not set, live feed and dead-letter queue disabled")
	}

	// Webhooks
	dispatcherOpts := []webhook.Option{
		webhook.WithSecret(cfg.WebhookHMACSecret),
		webhook.WithWorkers(cfg.WebhookWorkers),
		webhook.WithTimeout(cfg.WebhookTimeout),
	}
	if deadLetters != nil {
		dispatcherOpts = append(dispatcherOpts, webhook.WithDeadLetters(deadLetters))
	}
	dispatcher := webhook.NewDispatcher(dispatcherOpts...)
	dispatcher.Start(ctx)

	// Registry
	cache := registry.NewCache(file.NewSnapshotStore(cfg.ACPCachePath))
	fetcher := registry.NewFetcher(cfg.ACPAPIBase, circuitbreaker.New("acp_registry"))
	sitemap := http_handler.NewSitemapCache(cfg.BaseURL, repo, cache)
	registryService := services.NewRegistryService(fetcher, cache, registry.NewIndex(),
		services.WithRegistryInvalidator(sitemap))
	registryService.Warm(ctx)

	// Domain services
	bountyOpts := []services.BountyOption{
		services.WithListingInvalidator(sitemap),
		services.WithPostLimit(cfg.PostLimit),
	}
	listingOpts := []services.ListingOption{}
	if bus != nil {
		bountyOpts = append(bountyOpts, services.WithEventBus(bus))
		listingOpts = append(listingOpts, services.WithListingEventBus(bus))
	}
	bountyService := services.NewBountyService(repo, dispatcher, bountyOpts...)
	listingService := services.NewListingService(repo, repo, dispatcher, listingOpts...)
	healthService := services.NewHealthService(repo, redisPinger, registryService, cfg.Version)

	scheduler := services.NewScheduler(bountyService, registryService,
		services.WithRefreshInterval(cfg.RegistryRefreshInterval),
		services.WithSweepInterval(cfg.ExpirySweepInterval),
		services.WithRestartDelay(cfg.RestartDelay),
	)
	scheduler.Start(ctx)
	if state, _ := registryService.Freshness(); state != "fresh" {
		go func() {
			if _, err := registryService.Refresh(ctx); err != nil {
				logger.Warn("Initial registry refresh failed", "error", err)
			}
		}()
	}

	// Live feed
	var hub *http_handler.Hub
	if bus != nil {
		hub = http_handler.NewHub(bus)
		go hub.Run(ctx)
		scheduler.Go(ctx, "live-feed", hub.Consume)
	}

	if cfg.MQTTBrokerURL != "" && bus != nil {
		publisher, err := mqtt.Connect(bus, cfg.MQTTBrokerURL)
		if err != nil {
			logger.Error("Failed to init MQTT publisher", "error", err)
		} else {
			defer publisher.Close()
			scheduler.Go(ctx, "mqtt-bridge", publisher.Run)
		}
	}

	httpServer := http_handler.NewServer(http_handler.Config{
		BaseURL:          cfg.BaseURL,
		AdminSecret:      cfg.AdminSecret,
		APIWriteKey:      cfg.APIWriteKey,
		RefreshCooldown:  cfg.AdminRefreshCooldown,
		GlobalPerMinute:  cfg.GlobalRateLimit,
		AuthPerMinute:    cfg.AuthRateLimit,
		RefreshPerMinute: cfg.RefreshRateLimit,
		AllowedOrigins:   cfg.CORSOrigins,
		EnableMetrics:    cfg.EnableMetrics,
	}, bountyService, listingService, registryService, healthService, hub, sitemap)

	if err := httpServer.Run(ctx, ":"+cfg.Port); err != nil {
		logger.Error("HTTP server failed", "error", err)
		stop()
	}

	logger.Info("Shutting down gracefully...")
	scheduler.Wait()

	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := dispatcher.Stop(stopCtx); err != nil {
		logger.Warn("Webhook queue not drained before shutdown", "error", err)
	}
}
