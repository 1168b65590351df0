package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BearBump/DispatchBox/config"
	"github.com/BearBump/DispatchBox/internal/broker/kafka"
	"github.com/BearBump/DispatchBox/internal/changefeed"
	"github.com/BearBump/DispatchBox/internal/gateway"
	"github.com/BearBump/DispatchBox/internal/integrations/authadmin"
	"github.com/BearBump/DispatchBox/internal/integrations/postgrest"
	"github.com/BearBump/DispatchBox/internal/services/admin"
	"github.com/BearBump/DispatchBox/internal/storage/memstore"
	"github.com/BearBump/DispatchBox/internal/storage/pgfreight"
)

const (
	modePostgres = "postgres"
	modeREST     = "rest"
	modeMemory   = "memory"

	feedPostgres = "postgres"
	feedKafka    = "kafka"
	feedMemory   = "memory"
)

// backend is where rows live plus where their changes come from.
type backend struct {
	gw     gateway.Gateway
	users  admin.UserCreator
	ping   func(ctx context.Context) error
	source changefeed.Source

	closers []func()
}

func (b *backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

type apiFactories struct {
	openPostgres func(dsn string) (*pgfreight.Storage, error)
	newConsumer  func(cfg *config.Config) *kafka.Consumer
}

func defaultAPIFactories() apiFactories {
	return apiFactories{
		openPostgres: func(dsn string) (*pgfreight.Storage, error) {
			return openPostgresWithRetry(dsn, 60*time.Second)
		},
		newConsumer: func(cfg *config.Config) *kafka.Consumer {
			topics := make([]string, 0, len(gateway.Tables))
			for _, t := range gateway.Tables {
				topics = append(topics, changefeed.TopicFor(cfg.Kafka.TopicPrefix, t))
			}
			return kafka.NewConsumer(cfg.Kafka.Brokers(), topics, cfg.Kafka.ConsumerGroup)
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

func newBackend(cfg *config.Config, f apiFactories) (*backend, error) {
	b := &backend{}
	var pg *pgfreight.Storage
	openPG := func() error {
		if pg != nil {
			return nil
		}
		st, err := f.openPostgres(cfg.Database.PostgresDSN())
		if err != nil {
			return err
		}
		pg = st
		b.closers = append(b.closers, st.Close)
		return nil
	}

	var mem *memstore.Store
	switch cfg.Backend.Mode {
	case modePostgres:
		if err := openPG(); err != nil {
			return nil, err
		}
		b.gw, b.users, b.ping = pg, pg, pg.Ping
	case modeREST:
		if cfg.Backend.RESTURL == "" {
			return nil, fmt.Errorf("backend.rest_url is required in rest mode")
		}
		key := cfg.Backend.ServiceKey
		if key == "" {
			key = cfg.Backend.AnonKey
		}
		rest := postgrest.New(cfg.Backend.RESTURL, key)
		b.gw, b.ping = rest, rest.Ping
		b.users = authadmin.New(cfg.Backend.RESTURL, cfg.Backend.ServiceKey)
	case modeMemory:
		mem = memstore.New(nil)
		b.gw, b.users, b.ping = mem, mem, mem.Ping
	default:
		return nil, fmt.Errorf("unknown backend mode %q", cfg.Backend.Mode)
	}

	switch cfg.Dispatch.Feed {
	case feedPostgres:
		if err := openPG(); err != nil {
			b.Close()
			return nil, err
		}
		b.source = pg
	case feedKafka:
		c := f.newConsumer(cfg)
		b.source = c
		b.closers = append(b.closers, func() { _ = c.Close() })
	case feedMemory:
		if mem == nil {
			b.Close()
			return nil, fmt.Errorf("feed %q needs backend mode %q", feedMemory, modeMemory)
		}
		b.source = mem
	default:
		b.Close()
		return nil, fmt.Errorf("unknown feed %q", cfg.Dispatch.Feed)
	}

	slog.Info("backend ready", "mode", cfg.Backend.Mode, "feed", cfg.Dispatch.Feed)
	return b, nil
}

// defaultFeed picks the natural changefeed for a backend mode.
func defaultFeed(mode string) string {
	switch mode {
	case modeMemory:
		return feedMemory
	case modeREST:
		return feedKafka
	default:
		return feedPostgres
	}
}
