package pgfreight

import (
	"context"
	"log/slog"

	"github.com/BearBump/DispatchBox/internal/changefeed"
	"github.com/pkg/errors"
)

// Run listens on NotifyChannel and publishes every row change. It returns when
// ctx is done or the connection drops, so it can be driven by a changefeed.Pump.
func (s *Storage) Run(ctx context.Context, publish func(changefeed.Event)) error {
	conn, err := s.db.Acquire(ctx)
	if err != nil {
		return errors.Wrap(err, "acquire listen conn")
	}
	// a conn in LISTEN state must not go back to the pool
	pgc := conn.Hijack()
	defer func() { _ = pgc.Close(context.Background()) }()

	if _, err := pgc.Exec(ctx, "LISTEN "+NotifyChannel); err != nil {
		return errors.Wrap(err, "listen")
	}
	slog.Info("pg listener attached", "channel", NotifyChannel)

	for {
		n, err := pgc.WaitForNotification(ctx)
		if err != nil {
			return errors.Wrap(err, "wait for notification")
		}
		ev, err := changefeed.DecodeMessage([]byte(n.Payload))
		if err != nil {
			slog.Warn("pg listener: skip payload", "err", err)
			continue
		}
		publish(ev)
	}
}
