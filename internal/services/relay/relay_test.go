package relay

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/BearBump/DispatchBox/internal/changefeed"
	"github.com/BearBump/DispatchBox/internal/gateway"
	"github.com/BearBump/DispatchBox/internal/services/relay/mocks"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type noDelay struct{}

func (noDelay) Delay(int) time.Duration { return time.Millisecond }

type RelaySuite struct {
	suite.Suite

	hub    *changefeed.Hub
	pub    *mocks.Publisher
	relay  *Relay
	cancel context.CancelFunc
	done   chan error
}

func (s *RelaySuite) SetupTest() {
	s.hub = changefeed.NewHub(8)
	s.pub = &mocks.Publisher{}
	s.relay = New(s.hub, s.pub, noDelay{}).WithSettings(3, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan error, 1)
	go func() { s.done <- s.relay.Run(ctx) }()

	s.Require().Eventually(func() bool {
		return s.hub.Stats().Subscriptions == len(gateway.Tables)
	}, time.Second, time.Millisecond)
}

func (s *RelaySuite) TearDownTest() {
	s.cancel()
	s.Require().ErrorIs(<-s.done, context.Canceled)
	s.hub.Close()
}

func loadInsert(id string) changefeed.Event {
	return changefeed.Event{
		Table:      gateway.TableLoads,
		Kind:       changefeed.KindInsert,
		New:        json.RawMessage(`{"id":"` + id + `"}`),
		CommitTime: time.Now().UTC(),
	}
}

func (s *RelaySuite) TestForwardsInOrder() {
	var got []string
	s.pub.On("PublishChange", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			k, _ := args.Get(1).(changefeed.Event).Key()
			got = append(got, k)
		}).
		Return(nil)

	s.hub.Publish(loadInsert("a"))
	s.hub.Publish(loadInsert("b"))

	s.Require().Eventually(func() bool { return s.relay.Stats().Forwarded == 2 }, time.Second, time.Millisecond)
	s.Require().Equal([]string{"a", "b"}, got)
}

func (s *RelaySuite) TestRetriesThenSucceeds() {
	s.pub.On("PublishChange", mock.Anything, mock.Anything).Return(errors.New("broker down")).Once()
	s.pub.On("PublishChange", mock.Anything, mock.Anything).Return(nil).Once()

	s.hub.Publish(loadInsert("a"))

	s.Require().Eventually(func() bool { return s.relay.Stats().Forwarded == 1 }, time.Second, time.Millisecond)
	st := s.relay.Stats()
	s.Require().Equal(int64(1), st.Retried)
	s.Require().Equal(int64(0), st.Dropped)
	s.Require().Equal("broker down", st.LastError)
}

func (s *RelaySuite) TestDropsAfterMaxAttempts() {
	s.pub.On("PublishChange", mock.Anything, mock.Anything).Return(errors.New("broker down"))

	s.hub.Publish(loadInsert("a"))

	s.Require().Eventually(func() bool { return s.relay.Stats().Dropped == 1 }, time.Second, time.Millisecond)
	s.Require().Equal(int64(2), s.relay.Stats().Retried)
	s.pub.AssertNumberOfCalls(s.T(), "PublishChange", 3)
}

func TestRelaySuite(t *testing.T) {
	suite.Run(t, new(RelaySuite))
}

func TestRelay_WithSettingsIgnoresZero(t *testing.T) {
	r := New(changefeed.NewHub(1), &mocks.Publisher{}, nil).WithSettings(0, 0)
	require.Equal(t, 5, r.maxAttempts)
	require.Equal(t, 10*time.Second, r.timeout)
}
