package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/BearBump/DispatchBox/config"
	"github.com/BearBump/DispatchBox/internal/logging"
)

func main() {
	cfg, err := config.LoadConfig(os.Getenv("configPath"))
	if err != nil {
		panic(fmt.Sprintf("config parse error, %v", err))
	}
	applyRelayDefaults(cfg)
	logging.InitLogger(cfg.Dispatch.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err = runDispatchRelay(ctx, cfg, defaultRelayFactories(), relayOpts{httpAddr: cfg.Dispatch.RelayHTTPAddr})
	if err != nil && !errors.Is(err, context.Canceled) {
		panic(err)
	}
}

func applyRelayDefaults(cfg *config.Config) {
	if cfg.Dispatch.RelayHTTPAddr == "" {
		cfg.Dispatch.RelayHTTPAddr = ":8082"
	}
	if cfg.Kafka.TopicPrefix == "" {
		cfg.Kafka.TopicPrefix = "dispatch"
	}
	if cfg.Dispatch.RelayMaxAttempts <= 0 {
		cfg.Dispatch.RelayMaxAttempts = 5
	}
}
