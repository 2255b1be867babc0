package cache

import (
	"context"
	"time"
)

// Scoped wraps a Cache and prepends prefix to every key.
//
// Example usage:
//
//	// Keep zion's resolutions apart from other tools on a shared redis
//	c := NewScoped(redisCache, "zion:")
type Scoped struct {
	inner  Cache
	prefix string
}

// NewScoped creates a cache whose keys are prefixed. A nil inner cache is
// replaced with a NullCache.
func NewScoped(inner Cache, prefix string) *Scoped {
	if inner == nil {
		inner = NewNullCache()
	}
	return &Scoped{inner: inner, prefix: prefix}
}

func (s *Scoped) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return s.inner.Get(ctx, s.prefix+key)
}

func (s *Scoped) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	return s.inner.Set(ctx, s.prefix+key, data, ttl)
}

func (s *Scoped) Delete(ctx context.Context, key string) error {
	return s.inner.Delete(ctx, s.prefix+key)
}

func (s *Scoped) Close() error { return s.inner.Close() }

var _ Cache = (*Scoped)(nil)
