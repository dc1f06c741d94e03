// Botchain orchestrator server: the HTTP front and pipeline planner for
// the Hebrew government-decisions chat service.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/ceci-ai/botchain/pkg/api"
	"github.com/ceci-ai/botchain/pkg/config"
	"github.com/ceci-ai/botchain/pkg/corpus"
	"github.com/ceci-ai/botchain/pkg/dispatch"
	"github.com/ceci-ai/botchain/pkg/planner"
	"github.com/ceci-ai/botchain/pkg/respcache"
	"github.com/ceci-ai/botchain/pkg/store"
	"github.com/ceci-ai/botchain/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	}

	httpPort := getEnv("HTTP_PORT", "8080")

	slog.Info("Starting botchain",
		"version", version.Full(),
		"http_port", httpPort,
		"config_dir", *configDir)

	ctx := context.Background()

	// 1. Configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}
	slog.Info("Configuration loaded",
		"stages", cfg.Stats().Stages, "models", cfg.Stats().Models)

	// 2. Metrics registry
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// 3. Conversation store: Redis primary with in-memory fallback. The
	// planner never branches on which backend served a call; fallback use
	// is surfaced through the degradation flag.
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		DB:       cfg.Redis.DB,
		Password: os.Getenv(cfg.Redis.PasswordEnv),
	})
	defer func() {
		if err := redisClient.Close(); err != nil {
			slog.Error("Error closing redis client", "error", err)
		}
	}()

	storeMetrics := store.NewMetrics(registry)
	backend := store.NewFailoverBackend(
		store.NewRedisBackend(redisClient),
		store.NewMemoryBackend(),
		storeMetrics)
	convStore := store.New(backend, storeMetrics, cfg.Conversation)

	pingCtx, pingCancel := context.WithTimeout(ctx, 3*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		slog.Warn("Redis unreachable at startup, conversations will use the in-memory fallback",
			"addr", cfg.Redis.Addr, "error", err)
	} else {
		slog.Info("Connected to Redis", "addr", cfg.Redis.Addr)
	}
	pingCancel()

	// 4. Response cache, sharing the store backend
	var cache *respcache.Cache
	if cfg.Cache.CacheEnabled() {
		cache = respcache.New(backend, cfg.Cache, respcache.NewMetrics(registry))
		slog.Info("Response cache enabled",
			"data_query_ttl", cfg.Cache.DataQueryTTL.Std(),
			"statistical_ttl", cfg.Cache.StatisticalTTL.Std())
	} else {
		slog.Info("Response cache disabled by configuration")
	}

	// 5. Corpus database
	corpusCfg, err := corpus.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load corpus database config", "error", err)
		os.Exit(1)
	}
	executor, err := corpus.NewExecutor(ctx, corpusCfg)
	if err != nil {
		slog.Error("Failed to connect to corpus database", "error", err)
		os.Exit(1)
	}
	defer executor.Close()
	slog.Info("Connected to corpus database",
		"host", corpusCfg.Host, "database", corpusCfg.Database)

	// 6. Stage dispatcher and planner
	dispatcher := dispatch.New(cfg.Stages, dispatch.NewMetrics(registry))
	pl := planner.New(cfg, convStore, cache, dispatcher, executor, slog.Default())
	slog.Info("Pipeline planner initialized", "pipeline_version", cfg.Pipeline.Version)

	// 7. HTTP server (non-blocking)
	server := api.NewServer(cfg, pl, convStore, executor, registry)
	errCh := make(chan error, 1)
	go func() {
		addr := ":" + httpPort
		slog.Info("HTTP server listening", "addr", addr)
		if err := server.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	// 8. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 9. Graceful shutdown: drain in-flight chat streams
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP server shutdown incomplete", "error", err)
	} else {
		slog.Info("HTTP server stopped gracefully")
	}

	slog.Info("Botchain stopped")
}
