// Package cache stores small string values shared between analysis
// workers, such as the first task seen for a minidump fingerprint.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/crash-analysis/pkg/config"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache: miss")

// Cache is a string key/value store with a fixed expiration.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Close() error
}

// Type names a cache backend in configuration.
type Type string

const (
	TypeNone     Type = "none"
	TypeMemory   Type = "memory"
	TypeRedis    Type = "redis"
	TypeMemcache Type = "memcache"
)

// New builds the backend selected by cfg. It returns a nil Cache when
// caching is disabled.
func New(cfg *config.CacheConfig) (Cache, error) {
	ttl := time.Duration(cfg.TTL) * time.Second
	switch Type(cfg.Type) {
	case "", TypeNone:
		return nil, nil
	case TypeMemory:
		return NewMemory(ttl), nil
	case TypeRedis:
		if cfg.Address == "" {
			return nil, errors.New("redis cache requires an address")
		}
		return NewRedis(cfg.Address, cfg.Password, cfg.DB, ttl), nil
	case TypeMemcache:
		if len(cfg.Servers) == 0 {
			return nil, errors.New("memcache cache requires servers")
		}
		return NewMemcache(cfg.Servers, ttl), nil
	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

// FingerprintKey is the key under which the first task of a minidump
// fingerprint is stored.
func FingerprintKey(fingerprint string) string {
	return "crash:fp:" + fingerprint
}
