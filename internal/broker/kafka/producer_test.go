package kafka

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/BearBump/DispatchBox/internal/changefeed"
	"github.com/BearBump/DispatchBox/internal/gateway"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	last []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.last = append([]kafka.Message{}, msgs...)
	return w.err
}

func TestProducer_Publish(t *testing.T) {
	fw := &fakeWriter{}
	p := newProducerWithWriter(fw, "")

	require.NoError(t, p.Publish(context.Background(), "t", []byte("k"), []byte("v")))
	require.Len(t, fw.last, 1)
	require.Equal(t, "t", fw.last[0].Topic)
	require.Equal(t, []byte("k"), fw.last[0].Key)
	require.Equal(t, []byte("v"), fw.last[0].Value)
}

func TestProducer_PublishChange(t *testing.T) {
	fw := &fakeWriter{}
	p := newProducerWithWriter(fw, "dispatch")

	ev := changefeed.Event{
		Table: gateway.TableLocations,
		Kind:  changefeed.KindUpdate,
		New:   json.RawMessage(`{"driver_id":"d1","latitude":1}`),
	}
	require.NoError(t, p.PublishChange(context.Background(), ev))
	require.Len(t, fw.last, 1)
	require.Equal(t, "dispatch.locations", fw.last[0].Topic)
	require.Equal(t, "d1", string(fw.last[0].Key))

	back, err := changefeed.DecodeMessage(fw.last[0].Value)
	require.NoError(t, err)
	require.Equal(t, changefeed.KindUpdate, back.Kind)
}

func TestProducer_PublishChange_NoKey(t *testing.T) {
	fw := &fakeWriter{}
	p := newProducerWithWriter(fw, "dispatch")
	err := p.PublishChange(context.Background(), changefeed.Event{
		Table: gateway.TableLoads,
		Kind:  changefeed.KindInsert,
		New:   json.RawMessage(`{"load_number":"1"}`),
	})
	require.Error(t, err)
	require.Empty(t, fw.last)
}

func TestNewProducer(t *testing.T) {
	p := NewProducer([]string{"localhost:0"}, "dispatch")
	require.NotNil(t, p)
	require.NoError(t, p.Close())
}
