package livefeed

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BearBump/DispatchBox/internal/changefeed"
	"github.com/BearBump/DispatchBox/internal/gateway"
	"github.com/BearBump/DispatchBox/internal/realtime"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func readFrame(t *testing.T, ws *websocket.Conn) Frame {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := ws.ReadMessage()
	require.NoError(t, err)
	var f Frame
	require.NoError(t, json.Unmarshal(msg, &f))
	return f
}

func TestHub_BroadcastsFrames(t *testing.T) {
	var clients atomic.Int64
	h := New(WithClientObserver(func(d int) { clients.Add(int64(d)) }))
	srv := httptest.NewServer(h)
	defer srv.Close()
	defer h.Close()

	a := dial(t, srv)
	b := dial(t, srv)
	require.Eventually(t, func() bool { return h.Clients() == 2 }, time.Second, 5*time.Millisecond)
	require.Equal(t, int64(2), clients.Load())

	require.NoError(t, h.Toast(context.Background(), realtime.Notice{
		Table:    gateway.TableStopRequests,
		Kind:     changefeed.KindInsert,
		Title:    "Tracking stop request",
		Message:  "Ann wants to stop tracking.",
		Style:    realtime.StyleInfo,
		Cue:      realtime.CueNotify,
		Duration: 10 * time.Second,
	}))
	require.NoError(t, h.Play(context.Background(), realtime.CueDelivered))
	h.PublishChange(realtime.Change{Table: gateway.TableLoads, Kind: changefeed.KindDelete, Key: "l-1"})

	for _, ws := range []*websocket.Conn{a, b} {
		f := readFrame(t, ws)
		require.Equal(t, FrameToast, f.Type)
		require.NotEmpty(t, f.ID)
		require.Equal(t, "Tracking stop request", f.Toast.Title)
		require.Equal(t, int64(10000), f.Toast.DurationMs)

		f = readFrame(t, ws)
		require.Equal(t, FrameCue, f.Type)
		require.Equal(t, realtime.CueDelivered, f.Cue)

		f = readFrame(t, ws)
		require.Equal(t, FrameChange, f.Type)
		require.Equal(t, "l-1", f.Change.Key)
	}
}

func TestHub_ClientDisconnect(t *testing.T) {
	var clients atomic.Int64
	h := New(WithClientObserver(func(d int) { clients.Add(int64(d)) }))
	srv := httptest.NewServer(h)
	defer srv.Close()
	defer h.Close()

	ws := dial(t, srv)
	require.Eventually(t, func() bool { return h.Clients() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, ws.Close())
	require.Eventually(t, func() bool { return h.Clients() == 0 }, time.Second, 5*time.Millisecond)
	require.Equal(t, int64(0), clients.Load())
}

func TestHub_NoClientsIsNotAnError(t *testing.T) {
	h := New()
	defer h.Close()
	require.NoError(t, h.Play(context.Background(), realtime.CueNotify))
}

func TestHub_Close(t *testing.T) {
	h := New()
	srv := httptest.NewServer(h)
	defer srv.Close()

	ws := dial(t, srv)
	require.Eventually(t, func() bool { return h.Clients() == 1 }, time.Second, 5*time.Millisecond)

	h.Close()
	require.Equal(t, 0, h.Clients())
	require.ErrorIs(t, h.Play(context.Background(), realtime.CueNotify), ErrClosed)

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := ws.ReadMessage()
	require.Error(t, err)

	h.Close()
}
