package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/passhub/gatekeeper/pkg/admission"
	"github.com/passhub/gatekeeper/pkg/cache"
	"github.com/passhub/gatekeeper/pkg/common"
	"github.com/passhub/gatekeeper/pkg/config"
	handlers "github.com/passhub/gatekeeper/pkg/handlers/http"
	"github.com/passhub/gatekeeper/pkg/infra/audit"
	"github.com/passhub/gatekeeper/pkg/infra/breaker"
	infraLogger "github.com/passhub/gatekeeper/pkg/infra/logger"
	"github.com/passhub/gatekeeper/pkg/middleware"
	"github.com/passhub/gatekeeper/pkg/server"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil {
		log.Println("no .env file found, using system environment variables")
	}

	logger := infraLogger.NewLogger()

	if err := config.Load("./config"); err != nil {
		logger.WithError(err).Fatal("failed to load config")
	}
	cfg := config.GetConfig()

	cacheInstance, err := cache.NewCache(common.CacheConfig{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		TLS:      cfg.Redis.TLS,
	})
	if err != nil {
		logger.WithError(err).Fatal("failed to initialize cache")
	}
	defer cacheInstance.Close()

	if err := cacheInstance.Ping(ctx); err != nil {
		// Startup proceeds: the limiter fails open while the store is
		// down, it does not take the protected service with it.
		logger.WithError(err).Error("shared store unreachable at startup, admission will fail open")
	}

	// static tables
	registry, err := admission.NewRegistry(cfg.Admission.Rules)
	if err != nil {
		logger.WithError(err).Fatal("invalid rule configuration")
	}
	tiers, err := admission.NewTierResolver(cfg.Admission.Tiers)
	if err != nil {
		logger.WithError(err).Fatal("invalid tier configuration")
	}
	classifier, err := admission.NewClassifier(cfg.Admission.Routes, cfg.Admission.CostTiers, registry)
	if err != nil {
		logger.WithError(err).Fatal("invalid route configuration")
	}

	// audit sinks
	auditSink := audit.NewLogSink(logger)
	if cfg.Audit.Kafka.Enabled {
		kafkaSink, err := audit.NewKafkaSink(cfg.Audit.Kafka, logger)
		if err != nil {
			logger.WithError(err).Fatal("failed to initialize kafka audit sink")
		}
		defer kafkaSink.Close()
		auditSink = audit.NewMultiSink(auditSink, kafkaSink)
	}

	// admission pipeline
	storeBreaker := breaker.NewCircuitBreaker(
		"shared-store",
		cfg.Admission.Store.BreakerTimeout,
		cfg.Admission.Store.MaxFailures,
	)
	engine := admission.NewEngine(cacheInstance, storeBreaker, logger, nil)
	governor := admission.NewGovernor(nil, cfg.Admission.Governor.SampleInterval, logger)
	penalty := admission.NewPenaltyTracker(
		cacheInstance,
		logger,
		cfg.Admission.Penalty.BaseDelay,
		cfg.Admission.Penalty.MaxDelay,
		cfg.Admission.Penalty.CounterTTL,
	)
	blacklist := admission.NewBlacklistManager(cacheInstance, logger)
	ledger := admission.NewCostLedger(cacheInstance, storeBreaker, logger, nil)

	service := admission.NewService(admission.ServiceDI{
		Registry:   registry,
		Tiers:      tiers,
		Classifier: classifier,
		Engine:     engine,
		Governor:   governor,
		Penalty:    penalty,
		Blacklist:  blacklist,
		Ledger:     ledger,
		AuditSink:  auditSink,
		Logger:     logger,
		Blacklists: cfg.Admission.Blacklist,
	}, nil)

	// background tasks
	governor.Start(ctx)
	blacklist.StartJanitor(ctx, cfg.Admission.Blacklist.JanitorInterval)

	middlewareTransport := &middleware.Transport{
		IdentityMiddleware:  middleware.NewIdentityMiddleware(logger, &cfg.Server),
		AdmissionMiddleware: middleware.NewAdmissionMiddleware(logger, service),
		AdminAuthMiddleware: middleware.NewAdminAuthMiddleware(logger, &cfg.Server),
	}

	handlerTransport := &handlers.HandlerTransportDTO{
		AddBlacklistHandler:    handlers.NewAddBlacklistHandler(logger, blacklist),
		RemoveBlacklistHandler: handlers.NewRemoveBlacklistHandler(logger, blacklist),
		GetStatsHandler:        handlers.NewGetStatsHandler(logger, service),
		GetVersionHandler:      handlers.NewGetVersionHandler(),
		ForwardedHandler:       handlers.NewForwardedHandler(logger, &cfg.Server),
	}

	srv := server.NewGatekeeperServer(server.GatekeeperServerDI{
		MiddlewareTransport: middlewareTransport,
		HandlerTransport:    handlerTransport,
		Config:              cfg,
		Logger:              logger,
	})

	go func() {
		if err := srv.Run(); err != nil {
			logger.WithError(err).Fatal("server stopped")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	cancel()
	if err := srv.Shutdown(); err != nil {
		logger.WithError(err).Error("failed to shut down server")
	}
}
