package cache

import (
	"context"
	"time"

	"github.com/go-redis/redis"
)

// Redis is a Cache on a Redis server.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis returns a client for addr. No connection is made until first
// use.
func NewRedis(addr, password string, db int, ttl time.Duration) *Redis {
	return &Redis{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
		ttl: ttl,
	}
}

func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	v, err := r.client.WithContext(ctx).Get(key).Result()
	if err == redis.Nil {
		return "", ErrMiss
	}
	return v, err
}

func (r *Redis) Set(ctx context.Context, key, value string) error {
	return r.client.WithContext(ctx).Set(key, value, r.ttl).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}
