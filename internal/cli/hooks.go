package cli

import (
	"context"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/zion/pkg/observability"
)

// logHooks writes fetch, cache and HTTP events to the debug log.
type logHooks struct {
	logger *log.Logger
}

var (
	_ observability.FetchHooks = logHooks{}
	_ observability.CacheHooks = logHooks{}
	_ observability.HTTPHooks  = logHooks{}
)

// installLogHooks routes observability events to l when it logs at debug
// level, and resets them to no-ops otherwise.
func installLogHooks(l *log.Logger) {
	if l.GetLevel() > log.DebugLevel {
		observability.Reset()
		return
	}
	h := logHooks{logger: l.WithPrefix("trace")}
	observability.SetFetchHooks(h)
	observability.SetCacheHooks(h)
	observability.SetHTTPHooks(h)
}

func (h logHooks) OnResolve(_ context.Context, ref, url string, cached bool) {
	h.logger.Debug("resolved", "ref", ref, "url", url, "cached", cached)
}

func (h logHooks) OnDownloadStart(_ context.Context, ref, url string) {
	h.logger.Debug("download start", "ref", ref, "url", url)
}

func (h logHooks) OnDownloadComplete(_ context.Context, ref, transfer string, size int64, d time.Duration, err error) {
	if err != nil {
		h.logger.Debug("download failed", "ref", ref, "elapsed", d.Round(time.Millisecond), "err", err)
		return
	}
	h.logger.Debug("download done", "ref", ref, "transfer", transfer, "bytes", size, "elapsed", d.Round(time.Millisecond))
}

func (h logHooks) OnCacheHit(_ context.Context, keyType string) {
	h.logger.Debug("cache hit", "type", keyType)
}

func (h logHooks) OnCacheMiss(_ context.Context, keyType string) {
	h.logger.Debug("cache miss", "type", keyType)
}

func (h logHooks) OnCacheSet(_ context.Context, keyType string, size int64) {
	h.logger.Debug("cache set", "type", keyType, "bytes", size)
}

func (h logHooks) OnRequest(_ context.Context, method, host, path string) {
	h.logger.Debug("http request", "method", method, "host", host, "path", path)
}

func (h logHooks) OnResponse(_ context.Context, method, host, path string, status int, d time.Duration) {
	h.logger.Debug("http response", "method", method, "host", host, "path", path, "status", status,
		"elapsed", d.Round(time.Millisecond))
}

func (h logHooks) OnError(_ context.Context, method, host, path string, err error) {
	h.logger.Debug("http error", "method", method, "host", host, "path", path, "err", err)
}
