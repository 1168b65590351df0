package rediscache

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const driverNamePrefix = "dispatch:driver:name:"

type RedisCache struct {
	c   *redis.Client
	ttl time.Duration
}

// New connects to addr. Names are kept for ttl; zero keeps them until deleted.
func New(addr string, ttl time.Duration) *RedisCache {
	return &RedisCache{
		c: redis.NewClient(&redis.Options{
			Addr: addr,
		}),
		ttl: ttl,
	}
}

func (r *RedisCache) Ping(ctx context.Context) error {
	if err := r.c.Ping(ctx).Err(); err != nil {
		return errors.Wrap(err, "redis ping")
	}
	return nil
}

func (r *RedisCache) Close() error {
	return r.c.Close()
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.c.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "redis get")
	}
	return val, true, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.c.Set(ctx, key, value, ttl).Err(); err != nil {
		return errors.Wrap(err, "redis set")
	}
	return nil
}

// GetDriverName reads the shared driver id -> full name entry.
func (r *RedisCache) GetDriverName(ctx context.Context, driverID string) (string, bool, error) {
	b, ok, err := r.Get(ctx, driverNamePrefix+driverID)
	if err != nil || !ok {
		return "", false, err
	}
	return string(b), true, nil
}

func (r *RedisCache) SetDriverName(ctx context.Context, driverID, name string) error {
	return r.Set(ctx, driverNamePrefix+driverID, []byte(name), r.ttl)
}

func (r *RedisCache) DeleteDriverName(ctx context.Context, driverID string) error {
	if err := r.c.Del(ctx, driverNamePrefix+driverID).Err(); err != nil {
		return errors.Wrap(err, "redis del")
	}
	return nil
}
