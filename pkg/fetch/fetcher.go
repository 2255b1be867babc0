// Package fetch resolves package references to source archives, downloads
// them into the archive cache and hashes them.
//
// # Cache
//
// Archives live at <cache>/archives/<sanitized reference>.tar.gz. The path
// is derived from the reference, not from content, and an existing file is
// reused as-is: no freshness check, no integrity check. The returned hash
// is always computed over whatever bytes are at that path, so a caller
// that needs integrity compares it with the hash it expects (the project
// package does this in its fetch and update flows). Request.Refresh forces
// a new download.
//
// # Transfers
//
// Downloads go through a primary [Transfer] (net/http) and fall back to a
// secondary one (curl). Only when both fail, or the result is empty, does
// the fetch fail with DOWNLOAD_FAILED.
package fetch

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/zion/pkg/cache"
	"github.com/matzehuels/zion/pkg/errors"
	"github.com/matzehuels/zion/pkg/observability"
)

// Options configures a Fetcher.
type Options struct {
	// CacheDir is the cache root; archives go in CacheDir/archives.
	CacheDir string

	Resolver *Resolver
	Primary  Transfer
	Fallback Transfer // optional
	Logger   *log.Logger
}

// Fetcher downloads and hashes archives.
type Fetcher struct {
	dir      string
	resolver *Resolver
	primary  Transfer
	fallback Transfer
	logger   *log.Logger
}

// Request is a single fetch.
type Request struct {
	// Ref is the package reference, "owner/repo" or "owner/repo@vX.Y.Z".
	Ref string
	// URL skips resolution when set (e.g. the URL recorded in the lock).
	URL string
	// Refresh ignores any cached archive and resolution.
	Refresh bool
}

// Archive is a fetched archive.
type Archive struct {
	Ref       Reference
	URL       string
	Hash      string
	CachePath string
	Size      int64
	Cached    bool   // reused from the cache without downloading
	Transfer  string // transfer that produced the file, empty when cached
	Elapsed   time.Duration
}

// New creates a Fetcher. A nil Resolver or Primary gets the defaults.
func New(opts Options) *Fetcher {
	f := &Fetcher{
		dir:      filepath.Join(opts.CacheDir, "archives"),
		resolver: opts.Resolver,
		primary:  opts.Primary,
		fallback: opts.Fallback,
		logger:   opts.Logger,
	}
	if f.logger == nil {
		f.logger = log.Default()
	}
	if f.resolver == nil {
		f.resolver = NewResolver(ResolverOptions{Logger: f.logger})
	}
	if f.primary == nil {
		f.primary = NewHTTPTransfer(nil, f.logger)
	}
	return f
}

// ArchiveDir returns the directory holding cached archives.
func (f *Fetcher) ArchiveDir() string { return f.dir }

// CachePath returns where the archive for ref is stored.
func (f *Fetcher) CachePath(ref Reference) string {
	return filepath.Join(f.dir, ref.CacheFileName())
}

// Resolve parses s and returns its archive URL. See Resolver.Resolve.
func (f *Fetcher) Resolve(ctx context.Context, s string) (string, error) {
	ref, err := ParseReference(s)
	if err != nil {
		return "", err
	}
	return f.resolver.Resolve(ctx, ref), nil
}

// FetchAndHash fetches the archive for ref through the cache.
func (f *Fetcher) FetchAndHash(ctx context.Context, ref string) (*Archive, error) {
	return f.Fetch(ctx, Request{Ref: ref})
}

// Fetch performs req. The reference is validated before any I/O.
func (f *Fetcher) Fetch(ctx context.Context, req Request) (*Archive, error) {
	start := time.Now()

	ref, err := ParseReference(req.Ref)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "create cache directory %s", f.dir)
	}

	url := req.URL
	if url == "" {
		url = f.resolver.resolve(ctx, ref, req.Refresh)
	}

	a := &Archive{Ref: ref, URL: url, CachePath: f.CachePath(ref)}

	if info, statErr := os.Stat(a.CachePath); statErr == nil && info.Size() > 0 && !req.Refresh {
		observability.Cache().OnCacheHit(ctx, "archive")
		f.logger.Debug("using cached archive", "ref", ref, "path", a.CachePath)
		a.Cached = true
	} else {
		observability.Cache().OnCacheMiss(ctx, "archive")
		if err := f.download(ctx, a); err != nil {
			return nil, err
		}
	}

	hash, size, err := cache.HashFile(a.CachePath)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeDownloadFailed, err, "read archive %s", a.CachePath)
	}
	if size == 0 {
		_ = os.Remove(a.CachePath)
		return nil, errors.New(errors.ErrCodeDownloadFailed, "empty archive for %s from %s", ref, url)
	}

	a.Hash = hash
	a.Size = size
	a.Elapsed = time.Since(start)
	return a, nil
}

func (f *Fetcher) download(ctx context.Context, a *Archive) error {
	ref := a.Ref.String()
	observability.Fetch().OnDownloadStart(ctx, ref, a.URL)
	start := time.Now()

	transfers := []Transfer{f.primary}
	if f.fallback != nil {
		transfers = append(transfers, f.fallback)
	}

	var errs []error
	for _, t := range transfers {
		err := t.Download(ctx, a.URL, a.CachePath)
		if err == nil {
			if info, statErr := os.Stat(a.CachePath); statErr == nil && info.Size() > 0 {
				a.Transfer = t.Name()
				observability.Fetch().OnDownloadComplete(ctx, ref, t.Name(), info.Size(), time.Since(start), nil)
				return nil
			}
			_ = os.Remove(a.CachePath)
			err = stderrors.New("empty response")
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Debug("transfer failed", "transfer", t.Name(), "ref", ref, "err", err)
		errs = append(errs, err)
	}

	err := errors.Wrap(errors.ErrCodeDownloadFailed, stderrors.Join(errs...), "download %s from %s", ref, a.URL)
	observability.Fetch().OnDownloadComplete(ctx, ref, "", 0, time.Since(start), err)
	return err
}
