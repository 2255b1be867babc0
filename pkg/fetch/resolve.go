package fetch

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/zion/pkg/buildinfo"
	"github.com/matzehuels/zion/pkg/cache"
	"github.com/matzehuels/zion/pkg/httputil"
	"github.com/matzehuels/zion/pkg/observability"
)

const (
	// DefaultHost is the hosting convention base URL.
	DefaultHost = "https://github.com"

	// DefaultResolveTTL bounds how long a resolved URL is reused.
	DefaultResolveTTL = 24 * time.Hour

	archiveSuffix = ".tar.gz"
)

// DefaultBranches is the probe order for repositories referenced without a
// version.
var DefaultBranches = []string{"main", "master"}

// ResolverOptions configures a Resolver. Zero values take defaults.
type ResolverOptions struct {
	Host     string
	Branches []string
	Client   *http.Client
	Cache    cache.Cache
	TTL      time.Duration
	Logger   *log.Logger
}

// Resolver turns references into archive URLs by probing the host.
type Resolver struct {
	host     string
	branches []string
	client   *http.Client
	cache    cache.Cache
	ttl      time.Duration
	logger   *log.Logger
}

// NewResolver creates a Resolver.
func NewResolver(opts ResolverOptions) *Resolver {
	r := &Resolver{
		host:     strings.TrimSuffix(opts.Host, "/"),
		branches: opts.Branches,
		client:   opts.Client,
		cache:    opts.Cache,
		ttl:      opts.TTL,
		logger:   opts.Logger,
	}
	if r.host == "" {
		r.host = DefaultHost
	}
	if len(r.branches) == 0 {
		r.branches = DefaultBranches
	}
	if r.client == nil {
		r.client = httputil.NewClient(0)
	}
	if r.cache == nil {
		r.cache = cache.NewNullCache()
	}
	if r.ttl == 0 {
		r.ttl = DefaultResolveTTL
	}
	if r.logger == nil {
		r.logger = log.Default()
	}
	return r
}

// Candidates returns the archive URLs tried for ref, in priority order.
func (r *Resolver) Candidates(ref Reference) []string {
	if ref.Version != "" {
		return []string{r.archiveURL(ref, "tags", ref.Version)}
	}
	urls := make([]string, len(r.branches))
	for i, b := range r.branches {
		urls[i] = r.archiveURL(ref, "heads", b)
	}
	return urls
}

// Resolve returns the archive URL for ref. Candidates are probed with HEAD
// requests in order and the first one that answers 2xx wins. When none
// does, the first candidate is returned anyway: resolution never fails,
// and a wrong guess surfaces later as a download failure.
func (r *Resolver) Resolve(ctx context.Context, ref Reference) string {
	return r.resolve(ctx, ref, false)
}

func (r *Resolver) resolve(ctx context.Context, ref Reference, refresh bool) string {
	key := "resolve:" + r.host + "/" + ref.String()

	if !refresh {
		if data, ok, err := r.cache.Get(ctx, key); err == nil && ok {
			observability.Cache().OnCacheHit(ctx, "resolve")
			observability.Fetch().OnResolve(ctx, ref.String(), string(data), true)
			return string(data)
		} else if err != nil {
			r.logger.Debug("resolution cache unavailable", "err", err)
		}
		observability.Cache().OnCacheMiss(ctx, "resolve")
	}

	candidates := r.Candidates(ref)
	for _, u := range candidates {
		if r.probe(ctx, u) {
			r.remember(ctx, key, u)
			observability.Fetch().OnResolve(ctx, ref.String(), u, false)
			return u
		}
		r.logger.Debug("candidate not available", "url", u)
	}

	// Unconfirmed guesses are not cached.
	observability.Fetch().OnResolve(ctx, ref.String(), candidates[0], false)
	return candidates[0]
}

func (r *Resolver) remember(ctx context.Context, key, u string) {
	if err := r.cache.Set(ctx, key, []byte(u), r.ttl); err != nil {
		r.logger.Debug("cache resolution", "err", err)
		return
	}
	observability.Cache().OnCacheSet(ctx, "resolve", int64(len(u)))
}

func (r *Resolver) probe(ctx context.Context, rawURL string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return false
	}
	req.Header.Set("User-Agent", buildinfo.UserAgent())

	host, path := hostPath(rawURL)
	observability.HTTP().OnRequest(ctx, http.MethodHead, host, path)
	start := time.Now()

	resp, err := r.client.Do(req)
	if err != nil {
		observability.HTTP().OnError(ctx, http.MethodHead, host, path, err)
		return false
	}
	resp.Body.Close()
	observability.HTTP().OnResponse(ctx, http.MethodHead, host, path, resp.StatusCode, time.Since(start))
	return httputil.CheckStatus(resp.StatusCode) == nil
}

func (r *Resolver) archiveURL(ref Reference, kind, name string) string {
	return r.host + "/" + ref.Slug() + "/archive/refs/" + kind + "/" + name + archiveSuffix
}

func hostPath(rawURL string) (string, string) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", rawURL
	}
	return u.Host, u.Path
}
