// Package main is the entrypoint for the pavi pipeline job API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/kiranshivaraju/pavi/internal/api"
	"github.com/kiranshivaraju/pavi/internal/api/handler"
	mw "github.com/kiranshivaraju/pavi/internal/api/middleware"
	"github.com/kiranshivaraju/pavi/internal/backend"
	"github.com/kiranshivaraju/pavi/internal/backend/stepfunctions"
	"github.com/kiranshivaraju/pavi/internal/cache"
	"github.com/kiranshivaraju/pavi/internal/config"
	"github.com/kiranshivaraju/pavi/internal/jobs"
	"github.com/kiranshivaraju/pavi/internal/loki"
	"github.com/kiranshivaraju/pavi/internal/objectstore"
	"github.com/kiranshivaraju/pavi/internal/pipeline"
	"github.com/kiranshivaraju/pavi/internal/store"
)

const (
	shutdownTimeout = 30 * time.Second
	resultCacheTTL  = time.Hour
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config, fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded",
		"env", cfg.Env, "store", cfg.Store.Driver, "backend", cfg.Pipeline.Backend)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. AWS SDK config, only when something needs it
	var awsCfg aws.Config
	if cfg.UsesAWS() {
		awsCfg, err = config.LoadAWS(ctx, cfg.AWS)
		if err != nil {
			return fmt.Errorf("load aws config: %w", err)
		}
		slog.Info("aws config loaded", "region", awsCfg.Region)
	}

	// 3. Job store
	if cfg.Store.Driver == "postgres" {
		if err := store.RunMigrations(cfg.Database.URL, cfg.Database.MigrationsDir); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		slog.Info("database migrations applied")
	}
	jobStore, err := store.Open(ctx, cfg, awsCfg)
	if err != nil {
		return err
	}
	defer jobStore.Close()
	slog.Info("job store ready", "driver", cfg.Store.Driver)

	// 4. Cache: Redis when configured, otherwise in process
	c, closeCache, err := openCache(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer closeCache()

	// 5. Object storage and execution backend
	objects := newObjectStore(cfg, awsCfg)

	def := pipeline.Default().Tuned(cfg.Pipeline.ExecutionTimeout, cfg.Pipeline.RetrievalConcurrency)
	deps := backend.Dependencies{
		Objects:    objects,
		Definition: def,
		Logger:     slog.Default(),
	}
	if cfg.UsesStepFunctions() {
		deps.StepFunctions = stepfunctions.NewClient(awsCfg, cfg.Pipeline.StepFunctionsURL)
	}
	execBackend, err := backend.NewBackend(cfg.Pipeline, deps)
	if err != nil {
		return fmt.Errorf("create execution backend: %w", err)
	}
	slog.Info("execution backend initialized", "backend", execBackend.Name(),
		"rollout_enabled", cfg.Pipeline.RolloutEnabled, "rollout_percentage", cfg.Pipeline.RolloutPercentage)

	// 6. Orchestrator
	orch := jobs.NewOrchestrator(jobStore, execBackend, objects,
		jobs.WithResultCache(c, resultCacheTTL),
		jobs.WithJobQueue(cfg.Pipeline.JobQueueARN),
		jobs.WithRetention(cfg.Store.Retention),
		jobs.WithStartTimeout(cfg.Server.StartTimeout),
		jobs.WithLogger(slog.Default()),
	)

	// 7. Build router with dependencies
	router := api.NewRouter(newDependencies(cfg, orch, jobStore, c))

	// 8. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	// Starts already accepted must record their outcome before the store closes.
	orch.Wait()

	slog.Info("server stopped gracefully")
	return nil
}

// openCache returns the Redis cache when a URL is configured and an
// in-process cache otherwise. The returned func releases it.
func openCache(ctx context.Context, cfg config.RedisConfig) (cache.Cache, func(), error) {
	if cfg.URL == "" {
		slog.Info("using in-process cache")
		return cache.NewMemoryCache(), func() {}, nil
	}

	redisCache, err := cache.NewRedisCache(cfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("create redis cache: %w", err)
	}
	if err := redisCache.Ping(ctx); err != nil {
		redisCache.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")
	return redisCache, func() { redisCache.Close() }, nil
}

// newObjectStore serves file:// URIs always and s3:// URIs when AWS is configured.
func newObjectStore(cfg *config.Config, awsCfg aws.Config) *objectstore.Mux {
	mux := objectstore.NewMux().Handle("file", objectstore.NewFileStore())
	if cfg.UsesAWS() {
		client := objectstore.NewS3Client(awsCfg, cfg.AWS.S3Endpoint, cfg.AWS.S3PathStyle)
		mux.Handle("s3", objectstore.NewS3Store(client))
	}
	return mux
}

func newDependencies(cfg *config.Config, orch *jobs.Orchestrator, jobStore store.Store, c cache.Cache) api.Dependencies {
	components := map[string]handler.Pinger{
		"store": jobStore,
		"cache": c,
	}

	deps := api.Dependencies{
		Auth:      mw.NewAuth(cfg.Server.APITokenHash),
		RateLimit: mw.NewRateLimit(c, cfg.Server.RateLimitPerMin),

		CreateJobHandler: handler.NewCreateJobHandler(orch),
		GetJobHandler:    handler.NewGetJobHandler(orch),
		ResultHandler:    handler.NewResultHandler(orch, cfg.Server.ResultReadTimeout),
	}

	if cfg.Loki.BaseURL != "" {
		lokiClient := loki.NewHTTPClient(cfg.Loki.BaseURL, cfg.Loki.Username, cfg.Loki.Password,
			cfg.Loki.OrgID, cfg.Loki.Timeout)
		components["loki"] = lokiClient
		deps.LogsHandler = handler.NewLogsHandler(orch, lokiClient, c, handler.LogsConfig{})
	}

	deps.HealthHandler = handler.NewHealthHandler(handler.HealthInfo{
		Environment:       string(cfg.Env),
		ExecutionMode:     orch.Backend().Name(),
		RolloutEnabled:    cfg.Pipeline.RolloutEnabled,
		RolloutPercentage: cfg.Pipeline.RolloutPercentage,
	}, components)

	return deps
}
