package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"appliance-license/config"
	"appliance-license/internal/api"
	"appliance-license/internal/auth"
	"appliance-license/internal/cache"
	"appliance-license/internal/database"
	"appliance-license/internal/events"
	"appliance-license/internal/issuer"
	"appliance-license/internal/logging"
	"appliance-license/internal/vault"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Initialize structured logging
	logger := logging.New(&logging.Config{
		Level:       cfg.LoggingConfig.Level,
		Output:      cfg.LoggingConfig.Output,
		JSONFormat:  cfg.LoggingConfig.JSONFormat,
		IncludeFile: cfg.LoggingConfig.IncludeFile,
		Component:   "main",
	})
	logging.SetDefault(logger)
	logger.Info("Structured logging initialized")

	eventBus := events.NewEventBus()
	eventBus.SubscribeAll(func(e events.Event) {
		logger.WithComponent("events").Debug("Event published", "type", string(e.Type), "data", e.Data)
	})
	eventBus.Subscribe(events.EventError, func(e events.Event) {
		logger.WithComponent("events").Error("Issuer dependency failed", "data", e.Data)
	})

	checks := map[string]api.HealthCheck{}

	// Issuance registry
	var registry issuer.Registry
	var db *database.DB
	if cfg.DatabaseConfig.Enabled {
		db, err = database.NewDB(database.Config{
			Host:     cfg.DatabaseConfig.Host,
			Port:     cfg.DatabaseConfig.Port,
			User:     cfg.DatabaseConfig.User,
			Password: cfg.DatabaseConfig.Password,
			Database: cfg.DatabaseConfig.Database,
			SSLMode:  cfg.DatabaseConfig.SSLMode,
		})
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to database")
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err = db.RunMigrations(ctx)
		cancel()
		if err != nil {
			logger.WithError(err).Fatal("Failed to run migrations")
		}

		repo := database.NewRepository(db)
		registry = repo
		checks["database"] = repo.HealthCheck
	} else {
		logger.Warn("Database disabled, issued licenses are kept in memory")
		registry = issuer.NewMemoryRegistry()
	}

	// Read-through cache
	var licenseCache issuer.Cache
	var cacheService *cache.CacheService
	if cfg.RedisConfig.Enabled {
		cacheService, err = cache.NewCacheService(cfg.RedisConfig)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create cache service")
		}
		licenseCache = cache.NewLicenseCache(cacheService, cfg.RedisConfig.TTL)
		checks["redis"] = cacheService.Ping
	}

	// Key escrow
	vaultClient, err := vault.NewClient(cfg.VaultConfig)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create vault client")
	}
	if vaultClient.IsEnabled() {
		checks["vault"] = vaultClient.Health
	}

	var jwtManager *auth.JWTManager
	if cfg.AuthConfig.Enabled {
		jwtManager = auth.NewJWTManager(cfg.AuthConfig.JWTSecret, cfg.AuthConfig.Issuer, cfg.AuthConfig.AccessTokenDuration)
	} else {
		logger.Warn("Operator authentication disabled")
	}

	service, err := issuer.NewService(issuer.Options{
		Registry:            registry,
		Cache:               licenseCache,
		Escrow:              vaultClient,
		Bus:                 eventBus,
		DefaultDurationDays: cfg.IssuerConfig.DefaultDurationDays,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create issuer service")
	}

	var origins []string
	for _, o := range strings.Split(cfg.ServerConfig.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}

	server := api.NewServer(api.ServerConfig{
		Port:            cfg.ServerConfig.Port,
		Host:            cfg.ServerConfig.Host,
		ProductionMode:  cfg.ServerConfig.ProductionMode,
		AllowedOrigins:  origins,
		ReadTimeout:     time.Duration(cfg.ServerConfig.ReadTimeout) * time.Second,
		WriteTimeout:    time.Duration(cfg.ServerConfig.WriteTimeout) * time.Second,
		DecodeRateLimit: cfg.ServerConfig.DecodeRateLimit,
	}, service, jwtManager, checks)

	go func() {
		if err := server.Start(); err != nil {
			logger.WithError(err).Fatal("HTTP server failed")
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ServerConfig.ShutdownTimeout)*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Error shutting down web server")
	}

	eventBus.Wait()

	if cacheService != nil {
		if err := cacheService.Close(); err != nil {
			logger.WithError(err).Warn("Error closing redis client")
		}
	}
	if db != nil {
		db.Close()
	}

	logger.Info("Shutdown complete")
}
