package rediscache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func TestRedisCache_GetSet(t *testing.T) {
	mr := miniredis.RunT(t)
	c := New(mr.Addr(), 0)
	defer c.Close()

	ctx := context.Background()
	require.NoError(t, c.Ping(ctx))
	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))

	b, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v"), b)

	_, ok, err = c.Get(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRedisCache_DriverNames(t *testing.T) {
	mr := miniredis.RunT(t)
	c := New(mr.Addr(), time.Hour)
	defer c.Close()

	ctx := context.Background()
	require.NoError(t, c.SetDriverName(ctx, "d1", "Ann Lee"))

	name, ok, err := c.GetDriverName(ctx, "d1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "Ann Lee", name)
	require.Equal(t, time.Hour, mr.TTL(driverNamePrefix+"d1"))

	require.NoError(t, c.DeleteDriverName(ctx, "d1"))
	_, ok, err = c.GetDriverName(ctx, "d1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRedisCache_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	c := New(mr.Addr(), 0)
	defer c.Close()
	mr.Close()

	_, _, err := c.GetDriverName(context.Background(), "d1")
	require.Error(t, err)
}

func TestRateLimiter_Allow(t *testing.T) {
	mr := miniredis.RunT(t)
	rl := NewRateLimiter(mr.Addr())
	defer rl.Close()
	fixed := time.Date(2025, 3, 1, 10, 0, 30, 0, time.UTC)
	rl.now = func() time.Time { return fixed }

	ctx := context.Background()
	ok, n, err := rl.Allow(ctx, "test", 2, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(1), n)

	ok, n, _ = rl.Allow(ctx, "test", 2, time.Minute)
	require.True(t, ok)
	require.Equal(t, int64(2), n)

	ok, n, _ = rl.Allow(ctx, "test", 2, time.Minute)
	require.False(t, ok)
	require.Equal(t, int64(3), n)

	// next window starts over
	fixed = fixed.Add(time.Minute)
	ok, n, _ = rl.Allow(ctx, "test", 2, time.Minute)
	require.True(t, ok)
	require.Equal(t, int64(1), n)
}
