// Package e2e boots a complete orchestrator instance — real Postgres via
// testcontainers, miniredis-backed cache, real engine/dispatcher/API — and
// drives it over HTTP the way a client would.
package e2e

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/agentorchestra/orchestra/pkg/api"
	"github.com/agentorchestra/orchestra/pkg/auth"
	"github.com/agentorchestra/orchestra/pkg/cache"
	"github.com/agentorchestra/orchestra/pkg/config"
	"github.com/agentorchestra/orchestra/pkg/database"
	"github.com/agentorchestra/orchestra/pkg/engine"
	"github.com/agentorchestra/orchestra/pkg/events"
	"github.com/agentorchestra/orchestra/pkg/framework"
	"github.com/agentorchestra/orchestra/pkg/ratelimit"
	"github.com/agentorchestra/orchestra/pkg/realtime"
	"github.com/agentorchestra/orchestra/pkg/store"
	"github.com/agentorchestra/orchestra/pkg/webhook"
	testdb "github.com/agentorchestra/orchestra/test/database"
)

// TestApp is one fully wired orchestrator instance under test.
type TestApp struct {
	Config     *config.Config
	DBClient   *database.Client
	Store      *store.Store
	Cache      *cache.Cache
	Bus        *events.Bus
	Registry   *framework.Registry
	Engine     *engine.Engine
	Dispatcher *webhook.Dispatcher
	Auth       *auth.Authenticator
	Server     *api.Server

	BaseURL string // e.g. "http://127.0.0.1:54321"

	t *testing.T
}

type testAppConfig struct {
	plugins              map[string]framework.Plugin
	rateLimitMax         int64
	rateLimitWindow      time.Duration
	webhookCfg           webhook.Config
	maxConcurrentPerUser int
}

// TestAppOption configures the test app.
type TestAppOption func(*testAppConfig)

// WithPlugins replaces the default echo-only framework registry contents.
func WithPlugins(plugins map[string]framework.Plugin) TestAppOption {
	return func(c *testAppConfig) { c.plugins = plugins }
}

// WithRateLimit sets the submission gate's fixed-window budget.
func WithRateLimit(max int64, window time.Duration) TestAppOption {
	return func(c *testAppConfig) {
		c.rateLimitMax = max
		c.rateLimitWindow = window
	}
}

// WithWebhookConfig replaces the dispatcher configuration.
func WithWebhookConfig(cfg webhook.Config) TestAppOption {
	return func(c *testAppConfig) { c.webhookCfg = cfg }
}

// WithMaxConcurrentPerUser sets the per-user non-terminal execution ceiling.
func WithMaxConcurrentPerUser(n int) TestAppOption {
	return func(c *testAppConfig) { c.maxConcurrentPerUser = n }
}

// NewTestApp boots the full stack and tears it down via t.Cleanup. Workers
// poll fast so scenario tests observe transitions within milliseconds, not
// production poll intervals.
func NewTestApp(t *testing.T, opts ...TestAppOption) *TestApp {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	tac := &testAppConfig{
		plugins:         map[string]framework.Plugin{"echo": framework.EchoPlugin{}},
		rateLimitMax:    1000,
		rateLimitWindow: time.Minute,
		webhookCfg:      fastWebhookConfig(),
	}
	for _, opt := range opts {
		opt(tac)
	}

	dbClient := testdb.NewTestClient(t)
	s := store.New(dbClient.DB)

	mr := miniredis.RunT(t)
	redisCache, err := cache.New(ctx, cache.DefaultConfig("redis://"+mr.Addr()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = redisCache.Close() })

	bus := events.NewBus()
	publisher := events.NewPublisher(redisCache, bus)

	registry := framework.NewRegistry()
	for tag, p := range tac.plugins {
		registry.Register(tag, p)
	}
	registry.Freeze()

	engCfg := engine.DefaultConfig()
	engCfg.WorkerCount = 4
	engCfg.PollInterval = 20 * time.Millisecond
	engCfg.PollIntervalJitter = 10 * time.Millisecond
	engCfg.HeartbeatInterval = 50 * time.Millisecond
	engCfg.DefaultTimeout = 30 * time.Second

	eng := engine.New(s, registry, publisher, engCfg, tac.maxConcurrentPerUser)
	require.NoError(t, eng.Start(ctx))
	t.Cleanup(eng.Stop)

	dispatcher := webhook.New(s, bus, nil, tac.webhookCfg)
	require.NoError(t, dispatcher.Start(ctx))
	t.Cleanup(dispatcher.Stop)

	authenticator := auth.New(s, redisCache, auth.DefaultConfig([]byte("e2e-jwt-secret-0123456789abcdef01")))

	limiter := ratelimit.New(redisCache, ratelimit.Config{
		Window: tac.rateLimitWindow,
		Max:    tac.rateLimitMax,
	})
	// Generous failed-auth budget: scenario tests exercise deliberate 401s
	// without tripping the brute-force throttle.
	authLimiter := ratelimit.New(redisCache, ratelimit.Config{
		Window: 15 * time.Minute,
		Max:    1000,
	})

	cfg := &config.Config{
		RateLimitWindow:       tac.rateLimitWindow,
		RateLimitMaxRequests:  int(tac.rateLimitMax),
		AuthRateLimitWindow:   15 * time.Minute,
		AuthRateLimitMax:      1000,
		WebhookAllowLocalhost: true,
		AllowedOrigins:        []string{"*"},
	}

	connManager := realtime.NewConnectionManager(bus, realtime.StoreCatchup{Store: s}, 5*time.Second)
	server := api.NewServer(cfg, s, dbClient, eng, bus, authenticator, limiter, authLimiter, connManager)

	addr := freeAddr(t)
	go func() { _ = server.Start(addr) }()
	t.Cleanup(func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = server.Shutdown(shutdownCtx)
	})

	app := &TestApp{
		Config:     cfg,
		DBClient:   dbClient,
		Store:      s,
		Cache:      redisCache,
		Bus:        bus,
		Registry:   registry,
		Engine:     eng,
		Dispatcher: dispatcher,
		Auth:       authenticator,
		Server:     server,
		BaseURL:    "http://" + addr,
		t:          t,
	}
	app.waitHealthy()
	return app
}

// fastWebhookConfig keeps the spec's retry/auto-disable policy but polls
// the delivery queue fast enough for test-scale waits.
func fastWebhookConfig() webhook.Config {
	cfg := webhook.DefaultConfig()
	cfg.Workers = 2
	cfg.PollInterval = 20 * time.Millisecond
	cfg.RequestTimeout = 5 * time.Second
	cfg.AllowLocalhost = true // delivery targets are loopback httptest servers
	return cfg
}

// freeAddr reserves an ephemeral loopback port and returns it as host:port.
func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}
