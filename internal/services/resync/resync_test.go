package resync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/BearBump/DispatchBox/internal/gateway"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type callLog struct {
	mu    sync.Mutex
	order []gateway.Table
}

func (l *callLog) fn(t gateway.Table, err error) func(context.Context) error {
	return func(context.Context) error {
		l.mu.Lock()
		l.order = append(l.order, t)
		l.mu.Unlock()
		return err
	}
}

func (l *callLog) calls() []gateway.Table {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]gateway.Table(nil), l.order...)
}

func TestResyncer_RunOnce_OrderAndErrors(t *testing.T) {
	log := &callLog{}
	r := New(map[gateway.Table]func(context.Context) error{
		gateway.TableStopRequests: log.fn(gateway.TableStopRequests, nil),
		gateway.TableLoads:        log.fn(gateway.TableLoads, errors.New("boom")),
		gateway.TableDrivers:      log.fn(gateway.TableDrivers, nil),
		gateway.TableLocations:    log.fn(gateway.TableLocations, nil),
	})

	r.RunOnce(context.Background())

	require.Equal(t, []gateway.Table{
		gateway.TableDrivers, gateway.TableLoads, gateway.TableLocations, gateway.TableStopRequests,
	}, log.calls())

	st := r.Stats()
	require.Equal(t, int64(1), st.TotalCycles)
	require.Equal(t, int64(3), st.TotalRefreshed)
	require.Equal(t, int64(1), st.TotalErrors)
	require.Contains(t, st.LastError, "refresh loads")
	require.Contains(t, st.LastError, "boom")
	require.NotNil(t, st.LastCycleAt)
}

func TestResyncer_Trigger(t *testing.T) {
	log := &callLog{}
	r := New(map[gateway.Table]func(context.Context) error{
		gateway.TableDrivers: log.fn(gateway.TableDrivers, nil),
	}).WithSettings(time.Hour, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	r.Trigger()
	require.Eventually(t, func() bool { return len(log.calls()) == 1 }, time.Second, 5*time.Millisecond)
	require.NotNil(t, r.Stats().LastTriggerAt)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestResyncer_Run_Ticks(t *testing.T) {
	log := &callLog{}
	r := New(map[gateway.Table]func(context.Context) error{
		gateway.TableLoads: log.fn(gateway.TableLoads, nil),
	}).WithSettings(5*time.Millisecond, 0)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(40 * time.Millisecond)
		cancel()
	}()

	err := r.Run(ctx)
	require.Error(t, err)
	require.GreaterOrEqual(t, len(log.calls()), 1)
}

func TestResyncer_RefreshTimeout(t *testing.T) {
	r := New(map[gateway.Table]func(context.Context) error{
		gateway.TableDrivers: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}).WithSettings(time.Hour, 10*time.Millisecond)

	r.RunOnce(context.Background())
	st := r.Stats()
	require.Equal(t, int64(1), st.TotalErrors)
	require.Contains(t, st.LastError, "deadline")
}
