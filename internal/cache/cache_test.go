package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crash-analysis/pkg/config"
)

func TestMemory(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	m := NewMemory(time.Minute)
	m.now = func() time.Time { return now }

	_, err := m.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, m.Set(ctx, "k", "task-1"))
	v, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "task-1", v)

	now = now.Add(time.Minute)
	_, err = m.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
	assert.NoError(t, m.Close())
}

func TestMemory_NoExpiry(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(0)
	require.NoError(t, m.Set(ctx, "k", "v"))
	m.now = func() time.Time { return time.Now().Add(100 * 365 * 24 * time.Hour) }

	v, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.CacheConfig
		want    any
		wantErr string
	}{
		{name: "Disabled", cfg: config.CacheConfig{Type: "none"}},
		{name: "Empty", cfg: config.CacheConfig{}},
		{name: "Memory", cfg: config.CacheConfig{Type: "memory", TTL: 60}, want: &Memory{}},
		{name: "Redis", cfg: config.CacheConfig{Type: "redis", Address: "127.0.0.1:6379"}, want: &Redis{}},
		{name: "RedisNoAddress", cfg: config.CacheConfig{Type: "redis"}, wantErr: "requires an address"},
		{name: "Memcache", cfg: config.CacheConfig{Type: "memcache", Servers: []string{"127.0.0.1:11211"}}, want: &Memcache{}},
		{name: "MemcacheNoServers", cfg: config.CacheConfig{Type: "memcache"}, wantErr: "requires servers"},
		{name: "Unknown", cfg: config.CacheConfig{Type: "etcd"}, wantErr: "unsupported cache type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(&tt.cfg)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			if tt.want == nil {
				assert.Nil(t, c)
				return
			}
			assert.IsType(t, tt.want, c)
			assert.NoError(t, c.Close())
		})
	}
}

func TestNewMemcache_ClampsExpiration(t *testing.T) {
	m := NewMemcache([]string{"127.0.0.1:11211"}, 365*24*time.Hour)
	assert.Equal(t, int32(maxRelativeExpiration/time.Second), m.expiration)
}

func TestFingerprintKey(t *testing.T) {
	assert.Equal(t, "crash:fp:abc", FingerprintKey("abc"))
}
