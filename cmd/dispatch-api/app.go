package main

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/BearBump/DispatchBox/internal/api/adminapi"
	"github.com/BearBump/DispatchBox/internal/api/livefeed"
	"github.com/BearBump/DispatchBox/internal/changefeed"
	"github.com/BearBump/DispatchBox/internal/gateway"
	"github.com/BearBump/DispatchBox/internal/observability/metrics"
	"github.com/BearBump/DispatchBox/internal/realtime"
	"github.com/BearBump/DispatchBox/internal/services/admin"
	"github.com/BearBump/DispatchBox/internal/services/resync"
)

type dispatchAPIOpts struct {
	httpAddr    string
	swaggerPath string

	resyncInterval  time.Duration
	nameTTL         time.Duration
	writeLimit      int
	defaultPassword string

	onListen func(httpAddr string)
}

type dispatchDeps struct {
	gw     gateway.Gateway
	users  admin.UserCreator
	ping   func(ctx context.Context) error
	source changefeed.Source

	names realtime.NameStore
	rl    adminapi.RateLimiter
	push  realtime.PushSink
}

const hubBuffer = 256

func runDispatchAPI(ctx context.Context, opts dispatchAPIOpts, d dispatchDeps) error {
	m, err := metrics.New()
	if err != nil {
		return err
	}

	hub := changefeed.NewHub(hubBuffer)
	defer hub.Close()

	live := livefeed.New(livefeed.WithClientObserver(m.LiveClientDelta))
	defer live.Close()

	notifier := realtime.NewNotifier(live, live, d.push, m)
	defer notifier.Wait()

	nameOpts := []realtime.NameCacheOption{realtime.WithNameTTL(opts.nameTTL)}
	if d.names != nil {
		nameOpts = append(nameOpts, realtime.WithNameStore(d.names))
	}
	console := realtime.NewConsole(realtime.ConsoleDeps{
		Gateway:  d.gw,
		Hub:      hub,
		Notifier: notifier,
		Names:    realtime.NewNameCache(realtime.GatewayDriverLookup{GW: d.gw}, nameOpts...),
		Recorder: m,
	})
	defer console.Dispose()
	console.OnChange(live.PublishChange)

	resyncer := resync.New(console.Refreshers()).
		WithSettings(opts.resyncInterval, 0).
		WithErrorHandler(func(t gateway.Table, _ error) { m.ResyncFailed(string(t)) })

	pump := changefeed.NewPump(d.source, hub, resync.DefaultPlanner(), func(err error) {
		m.FeedReconnected()
		// events may have been missed while the source was down
		resyncer.Trigger()
	})

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		pump.Run(runCtx)
	}()
	defer func() { stop(); <-pumpDone }()

	if err := console.Mount(runCtx); err != nil {
		return err
	}
	slog.Info("console views mounted")

	go func() {
		_ = resyncer.Run(runCtx)
	}()

	svc := admin.New(d.gw, d.users).WithDefaultPassword(opts.defaultPassword)
	api := adminapi.New(svc, console,
		adminapi.WithRateLimit(d.rl, opts.writeLimit),
		adminapi.WithLimitObserver(m.RateLimited),
		adminapi.WithLiveFeed(live),
	)

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	return runHTTPServer(runCtx, lis, httpOpts{
		swaggerPath: opts.swaggerPath,
		admin:       api,
		metrics:     m,
		ready: func(ctx context.Context) error {
			if d.ping == nil {
				return nil
			}
			return d.ping(ctx)
		},
		stats: func() any {
			return map[string]any{
				"hub":         hub.Stats(),
				"feed":        pump.Stats(),
				"resync":      resyncer.Stats(),
				"liveClients": live.Clients(),
				"nameCache": map[string]any{
					"size":    console.Names.Len(),
					"lookups": console.Names.Lookups(),
				},
				"loads": console.LoadMetrics(),
			}
		},
		trigger: resyncer.Trigger,
	})
}
