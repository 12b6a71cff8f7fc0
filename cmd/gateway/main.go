package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/lessonloom/gateway/internal/gateway/broker"
	"github.com/lessonloom/gateway/internal/gateway/cache"
	"github.com/lessonloom/gateway/internal/gateway/fallback"
	"github.com/lessonloom/gateway/internal/gateway/governor"
	"github.com/lessonloom/gateway/internal/gateway/handlers"
	"github.com/lessonloom/gateway/internal/gateway/ledger"
	"github.com/lessonloom/gateway/internal/gateway/providers"
	"github.com/lessonloom/gateway/internal/shared/config"
	"github.com/lessonloom/gateway/internal/shared/database"
	"github.com/lessonloom/gateway/internal/shared/redis"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("starting generation gateway", "port", cfg.Port, "env", cfg.Env, "cheap_mode", cfg.GlobalCheapMode)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database
	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("connected to PostgreSQL")

	// Initialize Redis if configured; otherwise the cache runs on a
	// bounded in-memory LRU and rate limiting is skipped.
	var redisClient *redis.Client
	var cacheStore cache.Store
	if cfg.RedisURL != "" {
		redisClient, err = redis.New(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error("failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		cacheStore = cache.NewRedisStore(redisClient, time.Duration(cfg.CacheMaxAgeSeconds)*time.Second)
		logger.Info("connected to Redis")
	} else {
		cacheStore, err = cache.NewMemoryStore(cfg.CacheMaxEntries)
		if err != nil {
			logger.Error("failed to create in-memory cache", "error", err)
			os.Exit(1)
		}
		logger.Info("using in-memory LRU cache", "max_entries", cfg.CacheMaxEntries)
	}

	cacheService := cache.New(cacheStore, logger)

	// Spend ledger over Postgres
	spendLedger := ledger.New(db, ledger.DefaultPricing{
		InputPer1kUSD:  cfg.DefaultInputPer1kUSD,
		OutputPer1kUSD: cfg.DefaultOutputPer1kUSD,
		PerImageUSD:    cfg.DefaultImageUSD,
	}, logger)

	// Provider registry and decision policy. When only Anthropic is
	// configured, steer text decisions there.
	registry := providers.NewRegistry(cfg)
	policy := governor.DefaultPolicy()
	if cfg.OpenAIAPIKey == "" && cfg.AnthropicAPIKey != "" {
		policy.TextProvider = "anthropic"
		policy.CheapTextModel = "claude-haiku-4-5-20251001"
		policy.StandardTextModel = "claude-haiku-4-5-20251001"
		policy.PremiumTextModel = "claude-sonnet-4-5-20250929"
	}
	gov := governor.New(policy)

	// Fallback bank: built-in catalog plus optional overlay file.
	bank := fallback.NewBank()
	if cfg.FallbackCatalogPath != "" {
		if err := bank.LoadFile(cfg.FallbackCatalogPath); err != nil {
			logger.Error("failed to load fallback catalog", "path", cfg.FallbackCatalogPath, "error", err)
			os.Exit(1)
		}
	}

	gen := broker.New(gov, cacheService, spendLedger, registry, bank, broker.Config{
		GlobalCheapMode: cfg.GlobalCheapMode,
		MonthlyCapUSD:   cfg.MonthlyCapUSD,
		CacheTTL:        time.Duration(cfg.CacheTTLSeconds) * time.Second,
		ProviderTimeout: time.Duration(cfg.ProviderTimeoutSeconds) * time.Second,
		GateEnabled:     cfg.GateEnabled,
		GateMaxAttempts: cfg.GateMaxAttempts,
	}, logger)

	genHandler := handlers.NewGenerateHandler(gen, spendLedger, cfg.MonthlyCapUSD, logger)
	middleware := handlers.NewMiddleware(db, redisClient, cfg.DefaultRateLimit, logger)

	// Setup router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(120 * time.Second))
	r.Use(middleware.CORSMiddleware)

	// Health check (no tenant required)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// API routes (tenant resolution and rate limiting)
	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.TenantMiddleware)
		r.Use(middleware.RateLimitMiddleware)

		r.Post("/generate/text", genHandler.HandleGenerateText)
		r.Post("/generate/image", genHandler.HandleGenerateImage)
		r.Get("/tenants/{tenantID}/spend", genHandler.HandleTenantSpend)
	})

	// HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down gracefully")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("server stopped")
}
