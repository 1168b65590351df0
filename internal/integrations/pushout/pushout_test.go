package pushout

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BearBump/DispatchBox/internal/realtime"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	msg   string
	title string
	errs  []error
}

func (f *fakeSender) Send(message string, params *stypes.Params) []error {
	f.msg = message
	if params != nil {
		f.title, _ = params.Title()
	}
	return f.errs
}

func TestNew_NoURLsIsNoop(t *testing.T) {
	p, err := New([]string{"", "  "}, time.Second)
	require.NoError(t, err)
	require.Nil(t, p)
	require.NoError(t, p.Push(context.Background(), realtime.Notice{Title: "x"}))
}

func TestNew_InvalidURL(t *testing.T) {
	_, err := New([]string{"nosuchservice://token@host"}, 0)
	require.Error(t, err)
}

func TestNew_LoggerService(t *testing.T) {
	p, err := New([]string{"logger://"}, time.Second)
	require.NoError(t, err)
	require.NotNil(t, p)
	require.NoError(t, p.Push(context.Background(), realtime.Notice{Title: "📦 Load Delivered", Message: "Load: 7 delivered"}))
}

func TestPush_SendsTitleAndMessage(t *testing.T) {
	fs := &fakeSender{errs: []error{nil}}
	p := newWithSender(fs)

	require.NoError(t, p.Push(context.Background(), realtime.Notice{Title: "🚚 Load In Transit", Message: "Load: 7 is on the move"}))
	require.Equal(t, "Load: 7 is on the move", fs.msg)
	require.Equal(t, "🚚 Load In Transit", fs.title)
}

func TestPush_FirstErrorWins(t *testing.T) {
	fs := &fakeSender{errs: []error{nil, errors.New("401 unauthorized"), errors.New("later")}}
	p := newWithSender(fs)

	err := p.Push(context.Background(), realtime.Notice{Message: "m"})
	require.ErrorContains(t, err, "401 unauthorized")
}

func TestPush_CancelledContext(t *testing.T) {
	fs := &fakeSender{}
	p := newWithSender(fs)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, p.Push(ctx, realtime.Notice{Message: "m"}), context.Canceled)
	require.Empty(t, fs.msg)
}
