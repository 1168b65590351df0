package kafka

import (
	"context"
	"log/slog"
	"time"

	"github.com/BearBump/DispatchBox/internal/changefeed"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	r messageReader
}

// NewConsumer reads every topic in topics. With a group id the topics are
// balanced across instances of the group.
func NewConsumer(brokers []string, topics []string, groupID string) *Consumer {
	cfg := kafka.ReaderConfig{
		Brokers:           brokers,
		GroupID:           groupID,
		HeartbeatInterval: 3 * time.Second,
		SessionTimeout:    30 * time.Second,
	}
	if groupID != "" {
		cfg.GroupTopics = topics
	} else if len(topics) > 0 {
		cfg.Topic = topics[0]
	}
	return &Consumer{
		r: kafka.NewReader(cfg),
	}
}

func newConsumerWithReader(r messageReader) *Consumer {
	return &Consumer{r: r}
}

func (c *Consumer) Close() error {
	return c.r.Close()
}

func (c *Consumer) Consume(ctx context.Context, handler func(key, value []byte) error) error {
	for {
		msg, err := c.r.FetchMessage(ctx)
		if err != nil {
			return errors.Wrap(err, "fetch message")
		}
		if err := handler(msg.Key, msg.Value); err != nil {
			// commit only on success so the message is redelivered
			return err
		}
		if err := c.r.CommitMessages(ctx, msg); err != nil {
			return errors.Wrap(err, "commit message")
		}
	}
}

// Run makes the consumer a changefeed source. Undecodable messages are logged
// and committed so one bad payload cannot wedge the partition.
func (c *Consumer) Run(ctx context.Context, publish func(changefeed.Event)) error {
	return c.Consume(ctx, func(key, value []byte) error {
		ev, err := changefeed.DecodeMessage(value)
		if err != nil {
			slog.Warn("kafka: skip change message", "key", string(key), "err", err)
			return nil
		}
		publish(ev)
		return nil
	})
}
