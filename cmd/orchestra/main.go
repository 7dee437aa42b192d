// Command orchestra is the composition root: it loads configuration,
// wires every package together, and runs the HTTP server until asked to
// stop (spec §5's graceful-shutdown sequence).
//
// Grounded on the teacher's cmd/tarsy/main.go: env-driven config load,
// fail-fast on an invalid config with every bad field reported at once,
// explicit construct-then-Start for each long-running component, and a
// signal-triggered graceful shutdown that drains in flight work before
// closing shared resources.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agentorchestra/orchestra/pkg/api"
	"github.com/agentorchestra/orchestra/pkg/auth"
	"github.com/agentorchestra/orchestra/pkg/cache"
	"github.com/agentorchestra/orchestra/pkg/config"
	"github.com/agentorchestra/orchestra/pkg/database"
	"github.com/agentorchestra/orchestra/pkg/engine"
	"github.com/agentorchestra/orchestra/pkg/events"
	"github.com/agentorchestra/orchestra/pkg/framework"
	"github.com/agentorchestra/orchestra/pkg/masking"
	"github.com/agentorchestra/orchestra/pkg/ratelimit"
	"github.com/agentorchestra/orchestra/pkg/realtime"
	"github.com/agentorchestra/orchestra/pkg/scheduler"
	"github.com/agentorchestra/orchestra/pkg/store"
	"github.com/agentorchestra/orchestra/pkg/version"
	"github.com/agentorchestra/orchestra/pkg/webhook"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("orchestra exited with error", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		var loadErr *config.LoadError
		if errors.As(err, &loadErr) {
			logger.Error("invalid configuration", "fields", loadErr.Error())
		}
		return fmt.Errorf("load config: %w", err)
	}

	logger.Info("starting", "version", version.Full(), "port", cfg.Port)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbClient, err := database.NewClient(ctx, database.DefaultConfig(cfg.DatabaseURL))
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer dbClient.Close()

	redisCache, err := cache.New(ctx, cache.DefaultConfig(cfg.RedisURL))
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer redisCache.Close()

	s := store.New(dbClient.DB)

	bus := events.NewBus()
	publisher := events.NewPublisher(redisCache, bus)

	listener := events.NewListener(redisCache, bus, publisher.InstanceID())
	if err := listener.Start(ctx); err != nil {
		return fmt.Errorf("start event listener: %w", err)
	}
	defer listener.Stop()

	registry := framework.NewRegistry()
	registry.Register("echo", framework.EchoPlugin{})
	if cerebrasKey := os.Getenv("CEREBRAS_API_KEY"); cerebrasKey != "" {
		registry.Register("cerebras", framework.NewCerebrasPlugin(os.Getenv("CEREBRAS_BASE_URL"), cerebrasKey))
	}
	registry.Freeze()

	engineCfg := engine.DefaultConfig()
	engineCfg.WorkerCount = cfg.MaxConcurrentExecutions
	engineCfg.MaxTimeout = cfg.MaxExecutionTime
	engineCfg.OrphanThreshold = 2 * cfg.MaxExecutionTime

	eng := engine.New(s, registry, publisher, engineCfg, cfg.MaxConcurrentPerUser)
	eng.SetMasker(masking.New())
	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	defer eng.Stop()

	webhookCfg := webhook.DefaultConfig()
	webhookCfg.AllowLocalhost = cfg.WebhookAllowLocalhost
	dispatcher := webhook.New(s, bus, webhook.NewLogSink(logger), webhookCfg)
	if err := dispatcher.Start(ctx); err != nil {
		return fmt.Errorf("start webhook dispatcher: %w", err)
	}
	defer dispatcher.Stop()

	authCfg := auth.DefaultConfig([]byte(cfg.JWTSecret))
	authenticator := auth.New(s, redisCache, authCfg)

	limiter := ratelimit.New(redisCache, ratelimit.Config{
		Window: cfg.RateLimitWindow,
		Max:    int64(cfg.RateLimitMaxRequests),
	})
	// The stricter auth:login bucket: failed credential verifications only.
	authLimiter := ratelimit.New(redisCache, ratelimit.Config{
		Window: cfg.AuthRateLimitWindow,
		Max:    int64(cfg.AuthRateLimitMax),
	})

	sched := scheduler.New(s, eng, scheduler.Config{
		ExecutionRetention:   time.Duration(cfg.ExecutionRetentionDays) * 24 * time.Hour,
		LogRetention:         time.Duration(cfg.LogRetentionDays) * 24 * time.Hour,
		ExecutionCleanupCron: scheduler.DefaultConfig().ExecutionCleanupCron,
		LogCleanupCron:       scheduler.DefaultConfig().LogCleanupCron,
		PollInterval:         scheduler.DefaultConfig().PollInterval,
	})
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop()

	connManager := realtime.NewConnectionManager(bus, realtime.StoreCatchup{Store: s}, 10*time.Second)

	server := api.NewServer(cfg, s, dbClient, eng, bus, authenticator, limiter, authLimiter, connManager)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", ":"+cfg.Port)
		if err := server.Start(":" + cfg.Port); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, draining")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	return nil
}
