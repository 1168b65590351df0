package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/BearBump/DispatchBox/internal/changefeed"
	"github.com/BearBump/DispatchBox/internal/gateway"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	msgs      []kafka.Message
	err       error
	i         int
	committed []kafka.Message
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if r.i < len(r.msgs) {
		m := r.msgs[r.i]
		r.i++
		return m, nil
	}
	if r.err != nil {
		return kafka.Message{}, r.err
	}
	return kafka.Message{}, errors.New("eof")
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error { return nil }

func TestConsumer_Consume_CallsHandler(t *testing.T) {
	fr := &fakeReader{
		msgs: []kafka.Message{{Key: []byte("k"), Value: []byte("v")}},
		err:  errors.New("stop"),
	}
	c := newConsumerWithReader(fr)

	var gotK, gotV []byte
	err := c.Consume(context.Background(), func(k, v []byte) error {
		gotK, gotV = k, v
		return nil
	})
	require.Error(t, err)
	require.Equal(t, []byte("k"), gotK)
	require.Equal(t, []byte("v"), gotV)
	require.Len(t, fr.committed, 1)
}

func TestConsumer_Consume_HandlerErrorStops(t *testing.T) {
	fr := &fakeReader{msgs: []kafka.Message{{Key: []byte("k"), Value: []byte("v")}}}
	c := newConsumerWithReader(fr)

	want := errors.New("handler failed")
	err := c.Consume(context.Background(), func(k, v []byte) error { return want })
	require.ErrorIs(t, err, want)
	require.Empty(t, fr.committed)
}

func TestConsumer_Run_PublishesDecodedEvents(t *testing.T) {
	fr := &fakeReader{
		msgs: []kafka.Message{
			{Key: []byte("l1"), Value: []byte(`{"table":"loads","type":"INSERT","record":{"id":"l1","load_number":"7"}}`)},
			{Key: []byte("bad"), Value: []byte(`not json`)},
			{Key: []byte("l1"), Value: []byte(`{"table":"loads","type":"DELETE","old_record":{"id":"l1"}}`)},
		},
		err: errors.New("stop"),
	}
	c := newConsumerWithReader(fr)

	var got []changefeed.Event
	err := c.Run(context.Background(), func(ev changefeed.Event) { got = append(got, ev) })
	require.Error(t, err)
	require.Len(t, got, 2)
	require.Equal(t, gateway.TableLoads, got[0].Table)
	require.Equal(t, changefeed.KindInsert, got[0].Kind)
	require.Equal(t, changefeed.KindDelete, got[1].Kind)
	require.Len(t, fr.committed, 3)
}

func TestNewConsumer_Close(t *testing.T) {
	c := NewConsumer([]string{"localhost:0"}, []string{"t"}, "g")
	require.NotNil(t, c)
	require.NoError(t, c.Close())
}
