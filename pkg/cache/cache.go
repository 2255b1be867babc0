// Package cache provides the key/value caches zion keeps next to its archive
// store, and the content hash used for change detection.
//
// The archives themselves live on disk at paths derived from the package
// reference (see the fetch package). This package caches the small things
// around them, chiefly the reference to archive URL resolution, which costs
// one HEAD request per candidate branch and is shared between machines when
// a redis backend is configured.
//
// Three backends implement [Cache]:
//   - [FileCache]: JSON entries under a local directory (default)
//   - [RedisCache]: a shared redis instance
//   - [NullCache]: never stores anything (resolve_cache = "none")
//
// [Scoped] prefixes keys so several tools can share one redis database.
package cache

import (
	"context"
	"time"
)

// Cache stores opaque values under string keys with an optional TTL.
type Cache interface {
	// Get returns the value for key. The bool is false on a miss or an
	// expired entry; err is reserved for backend failures.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores data under key. A zero ttl means no expiry.
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases backend resources.
	Close() error
}
