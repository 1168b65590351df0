package main

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/BearBump/DispatchBox/config"
	"github.com/BearBump/DispatchBox/internal/broker/kafka"
	"github.com/BearBump/DispatchBox/internal/changefeed"
	"github.com/BearBump/DispatchBox/internal/observability/metrics"
	"github.com/BearBump/DispatchBox/internal/services/relay"
	"github.com/BearBump/DispatchBox/internal/services/resync"
	"github.com/BearBump/DispatchBox/internal/storage/pgfreight"
)

type relayFactories struct {
	newSource    func(cfg *config.Config) (src changefeed.Source, ping func(ctx context.Context) error, closeFn func(), err error)
	newPublisher func(cfg *config.Config) (pub relay.Publisher, closeFn func())
}

func defaultRelayFactories() relayFactories {
	return relayFactories{
		newSource: func(cfg *config.Config) (changefeed.Source, func(ctx context.Context) error, func(), error) {
			st, err := openPostgresWithRetry(cfg.Database.PostgresDSN(), 60*time.Second)
			if err != nil {
				return nil, nil, nil, err
			}
			return st, st.Ping, st.Close, nil
		},
		newPublisher: func(cfg *config.Config) (relay.Publisher, func()) {
			p := kafka.NewProducer(cfg.Kafka.Brokers(), cfg.Kafka.TopicPrefix)
			return p, func() { _ = p.Close() }
		},
	}
}

func openPostgresWithRetry(dsn string, wait time.Duration) (*pgfreight.Storage, error) {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgfreight.New(dsn)
		if err == nil {
			return st, nil
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	return nil, fmt.Errorf("postgres is not ready after %s: %w", wait, lastErr)
}

type relayOpts struct {
	httpAddr string
	onListen func(httpAddr string)
}

func runDispatchRelay(ctx context.Context, cfg *config.Config, f relayFactories, opts relayOpts) error {
	src, ping, closeSrc, err := f.newSource(cfg)
	if err != nil {
		return err
	}
	if closeSrc != nil {
		defer closeSrc()
	}
	pub, closePub := f.newPublisher(cfg)
	if closePub != nil {
		defer closePub()
	}

	m, err := metrics.New()
	if err != nil {
		return err
	}

	hub := changefeed.NewHub(0)
	defer hub.Close()

	rl := relay.New(hub, pub, resync.DefaultPlanner()).
		WithSettings(cfg.Dispatch.RelayMaxAttempts, 0)
	pump := changefeed.NewPump(src, hub, resync.DefaultPlanner(), func(error) { m.FeedReconnected() })

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		_ = rl.Run(runCtx)
	}()
	defer func() { stop(); <-relayDone }()

	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		pump.Run(runCtx)
	}()
	defer func() { stop(); <-pumpDone }()

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	return runRelayHTTPServer(runCtx, lis, relayHTTPOpts{
		metrics: m,
		ready:   ping,
		stats: func() any {
			return map[string]any{
				"hub":   hub.Stats(),
				"feed":  pump.Stats(),
				"relay": rl.Stats(),
			}
		},
	})
}
