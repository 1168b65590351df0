package kafka

import (
	"context"

	"github.com/BearBump/DispatchBox/internal/changefeed"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type Producer struct {
	w           messageWriter
	topicPrefix string
}

func NewProducer(brokers []string, topicPrefix string) *Producer {
	return &Producer{
		w: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
		},
		topicPrefix: topicPrefix,
	}
}

func newProducerWithWriter(w messageWriter, topicPrefix string) *Producer {
	return &Producer{w: w, topicPrefix: topicPrefix}
}

func (p *Producer) Publish(ctx context.Context, topic string, key, value []byte) error {
	if err := p.w.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   key,
		Value: value,
	}); err != nil {
		return errors.Wrap(err, "kafka publish")
	}
	return nil
}

// PublishChange writes ev to its table topic keyed by row id, so changes of one
// row stay on one partition.
func (p *Producer) PublishChange(ctx context.Context, ev changefeed.Event) error {
	key, err := ev.Key()
	if err != nil {
		return errors.Wrap(err, "change key")
	}
	value, err := changefeed.EncodeMessage(ev)
	if err != nil {
		return err
	}
	return p.Publish(ctx, changefeed.TopicFor(p.topicPrefix, ev.Table), []byte(key), value)
}

func (p *Producer) Close() error {
	if c, ok := p.w.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
