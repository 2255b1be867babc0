// Package observability provides hooks for metrics, tracing, and logging.
//
// Libraries emit events through the registered hooks; nothing is recorded
// unless main installs an implementation. The defaults are no-ops, so the
// fetch path carries no dependency on a metrics backend.
//
// # Usage
//
// Register hooks at application startup:
//
//	func main() {
//	    observability.SetFetchHooks(&myFetchHooks{})
//	    observability.SetHTTPHooks(&myHTTPHooks{})
//	    // ... run application
//	}
//
// Libraries call hooks to emit events:
//
//	observability.Fetch().OnDownloadStart(ctx, ref, url)
//	// ... download ...
//	observability.Fetch().OnDownloadComplete(ctx, ref, size, duration, err)
package observability

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// =============================================================================
// Fetch Hooks
// =============================================================================

// FetchHooks receives events from the package fetcher.
type FetchHooks interface {
	// OnResolve records a reference resolution and whether it came from cache.
	OnResolve(ctx context.Context, ref, url string, cached bool)

	// OnDownloadStart records the start of an archive transfer.
	OnDownloadStart(ctx context.Context, ref, url string)

	// OnDownloadComplete records the end of an archive transfer. transfer
	// names the mechanism that produced the file ("http", "curl") and is
	// empty on failure.
	OnDownloadComplete(ctx context.Context, ref, transfer string, size int64, duration time.Duration, err error)
}

// =============================================================================
// Cache Hooks
// =============================================================================

// CacheHooks receives events from archive and resolution caches.
type CacheHooks interface {
	// OnCacheHit records a cache hit.
	OnCacheHit(ctx context.Context, keyType string)

	// OnCacheMiss records a cache miss.
	OnCacheMiss(ctx context.Context, keyType string)

	// OnCacheSet records a cache write.
	OnCacheSet(ctx context.Context, keyType string, size int64)
}

// =============================================================================
// HTTP Hooks
// =============================================================================

// HTTPHooks receives events from HTTP client operations.
type HTTPHooks interface {
	// OnRequest records an outgoing HTTP request.
	OnRequest(ctx context.Context, method, host, path string)

	// OnResponse records an HTTP response.
	OnResponse(ctx context.Context, method, host, path string, statusCode int, duration time.Duration)

	// OnError records an HTTP error (network failure, timeout).
	OnError(ctx context.Context, method, host, path string, err error)
}

// =============================================================================
// No-op Implementations
// =============================================================================

// NoopFetchHooks is a no-op implementation of FetchHooks.
type NoopFetchHooks struct{}

func (NoopFetchHooks) OnResolve(context.Context, string, string, bool)       {}
func (NoopFetchHooks) OnDownloadStart(context.Context, string, string)       {}
func (NoopFetchHooks) OnDownloadComplete(context.Context, string, string, int64, time.Duration, error) {
}

// NoopCacheHooks is a no-op implementation of CacheHooks.
type NoopCacheHooks struct{}

func (NoopCacheHooks) OnCacheHit(context.Context, string)        {}
func (NoopCacheHooks) OnCacheMiss(context.Context, string)       {}
func (NoopCacheHooks) OnCacheSet(context.Context, string, int64) {}

// NoopHTTPHooks is a no-op implementation of HTTPHooks.
type NoopHTTPHooks struct{}

func (NoopHTTPHooks) OnRequest(context.Context, string, string, string)                      {}
func (NoopHTTPHooks) OnResponse(context.Context, string, string, string, int, time.Duration) {}
func (NoopHTTPHooks) OnError(context.Context, string, string, string, error)                 {}

// =============================================================================
// Global Hook Registry
// =============================================================================

// registry is replaced as a whole on every change, so readers never lock.
type registry struct {
	fetch FetchHooks
	cache CacheHooks
	http  HTTPHooks
}

var (
	current atomic.Pointer[registry]
	writeMu sync.Mutex
)

func init() { Reset() }

func update(fn func(r *registry)) {
	writeMu.Lock()
	defer writeMu.Unlock()
	next := *current.Load()
	fn(&next)
	current.Store(&next)
}

// SetFetchHooks registers fetch hooks. A nil h is ignored.
func SetFetchHooks(h FetchHooks) {
	if h != nil {
		update(func(r *registry) { r.fetch = h })
	}
}

// SetCacheHooks registers cache hooks. A nil h is ignored.
func SetCacheHooks(h CacheHooks) {
	if h != nil {
		update(func(r *registry) { r.cache = h })
	}
}

// SetHTTPHooks registers HTTP hooks. A nil h is ignored.
func SetHTTPHooks(h HTTPHooks) {
	if h != nil {
		update(func(r *registry) { r.http = h })
	}
}

// Fetch returns the registered fetch hooks.
func Fetch() FetchHooks { return current.Load().fetch }

// Cache returns the registered cache hooks.
func Cache() CacheHooks { return current.Load().cache }

// HTTP returns the registered HTTP hooks.
func HTTP() HTTPHooks { return current.Load().http }

// Reset restores the no-op hooks. The CLI calls it when debug logging is
// off; tests call it to clean up.
func Reset() {
	writeMu.Lock()
	defer writeMu.Unlock()
	current.Store(&registry{
		fetch: NoopFetchHooks{},
		cache: NoopCacheHooks{},
		http:  NoopHTTPHooks{},
	})
}
