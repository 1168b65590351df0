package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BearBump/DispatchBox/config"
	"github.com/BearBump/DispatchBox/internal/cache/rediscache"
	"github.com/BearBump/DispatchBox/internal/integrations/pushout"
	"github.com/BearBump/DispatchBox/internal/logging"
)

type dispatchAPIApp struct {
	ctx     context.Context
	cancel  context.CancelFunc
	opts    dispatchAPIOpts
	deps    dispatchDeps
	closers []func()
}

func mustBootstrapDispatchAPI() *dispatchAPIApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}
	swaggerPath := os.Getenv("swaggerPath")
	if swaggerPath == "" {
		swaggerPath = "api/dispatch.swagger.json"
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("config parse error, %v", err))
	}
	applyDefaults(cfg)
	logging.InitLogger(cfg.Dispatch.LogLevel)

	b, err := newBackend(cfg, defaultAPIFactories())
	if err != nil {
		panic(err)
	}
	app := &dispatchAPIApp{closers: []func(){b.Close}}

	deps := dispatchDeps{
		gw:     b.gw,
		users:  b.users,
		ping:   b.ping,
		source: b.source,
	}

	if addr := cfg.Redis.Addr(); addr != "" {
		ttl := time.Duration(cfg.Dispatch.NameCacheTTLSeconds) * time.Second
		rc := rediscache.New(addr, ttl)
		rl := rediscache.NewRateLimiter(addr)
		deps.names = rc
		deps.rl = rl
		app.closers = append(app.closers, func() { _ = rc.Close() }, func() { _ = rl.Close() })
	} else {
		slog.Warn("redis not configured: no shared name cache, write rate limit disabled")
	}

	pusher, err := pushout.New(cfg.Dispatch.PushURLs, time.Duration(cfg.Dispatch.PushTimeoutSeconds)*time.Second)
	if err != nil {
		panic(err)
	}
	// a nil *Pusher must not end up as a non-nil interface
	if pusher != nil {
		deps.push = pusher
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	app.ctx, app.cancel = ctx, cancel
	app.deps = deps
	app.opts = dispatchAPIOpts{
		httpAddr:        cfg.Dispatch.HTTPAddr,
		swaggerPath:     swaggerPath,
		resyncInterval:  time.Duration(cfg.Dispatch.ResyncIntervalSeconds) * time.Second,
		nameTTL:         time.Duration(cfg.Dispatch.NameCacheTTLSeconds) * time.Second,
		writeLimit:      cfg.Dispatch.WriteRateLimitPerMinute,
		defaultPassword: cfg.Dispatch.DefaultDriverPassword,
	}
	return app
}

func applyDefaults(cfg *config.Config) {
	if cfg.Backend.Mode == "" {
		cfg.Backend.Mode = modePostgres
	}
	if cfg.Dispatch.Feed == "" {
		cfg.Dispatch.Feed = defaultFeed(cfg.Backend.Mode)
	}
	if cfg.Dispatch.HTTPAddr == "" {
		cfg.Dispatch.HTTPAddr = ":8080"
	}
	if cfg.Dispatch.ResyncIntervalSeconds <= 0 {
		cfg.Dispatch.ResyncIntervalSeconds = 300
	}
	// names never expire unless a TTL is configured
	if cfg.Dispatch.NameCacheTTLSeconds < 0 {
		cfg.Dispatch.NameCacheTTLSeconds = 0
	}
	if cfg.Dispatch.WriteRateLimitPerMinute <= 0 {
		cfg.Dispatch.WriteRateLimitPerMinute = 120
	}
	if cfg.Dispatch.PushTimeoutSeconds <= 0 {
		cfg.Dispatch.PushTimeoutSeconds = 10
	}
	if cfg.Kafka.TopicPrefix == "" {
		cfg.Kafka.TopicPrefix = "dispatch"
	}
	if cfg.Kafka.ConsumerGroup == "" {
		cfg.Kafka.ConsumerGroup = "dispatch-api"
	}
}

func (a *dispatchAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func (a *dispatchAPIApp) Run() error {
	return runDispatchAPI(a.ctx, a.opts, a.deps)
}
