package cache

import (
	"context"
	"errors"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

// maxRelativeExpiration is the largest expiration memcached reads as
// relative; larger values are unix timestamps.
const maxRelativeExpiration = 30 * 24 * time.Hour

// Memcache is a Cache on a set of memcached servers.
type Memcache struct {
	client     *memcache.Client
	expiration int32
}

// NewMemcache returns a client sharding keys over servers.
func NewMemcache(servers []string, ttl time.Duration) *Memcache {
	ttl = min(ttl, maxRelativeExpiration)
	return &Memcache{
		client:     memcache.New(servers...),
		expiration: int32(ttl / time.Second),
	}
}

// Get ignores ctx; the client is bounded by its own timeout.
func (m *Memcache) Get(_ context.Context, key string) (string, error) {
	item, err := m.client.Get(key)
	if errors.Is(err, memcache.ErrCacheMiss) {
		return "", ErrMiss
	}
	if err != nil {
		return "", err
	}
	return string(item.Value), nil
}

func (m *Memcache) Set(_ context.Context, key, value string) error {
	return m.client.Set(&memcache.Item{Key: key, Value: []byte(value), Expiration: m.expiration})
}

func (m *Memcache) Close() error { return nil }
