package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
)

// Host is a fake source host serving archives at the GitHub archive paths:
//
//	/{owner}/{repo}/archive/refs/heads/{branch}.tar.gz
//	/{owner}/{repo}/archive/refs/tags/{tag}.tar.gz
type Host struct {
	*httptest.Server

	mu       sync.Mutex
	archives map[string][]byte
	failures map[string]int
	hits     map[string]int
	heads    map[string]int
}

// NewHost starts a fake host that is closed when the test ends.
func NewHost(t testing.TB) *Host {
	t.Helper()
	h := &Host{
		archives: make(map[string][]byte),
		failures: make(map[string]int),
		hits:     make(map[string]int),
		heads:    make(map[string]int),
	}

	r := chi.NewRouter()
	r.Head("/{owner}/{repo}/archive/refs/{kind}/{file}", h.serve)
	r.Get("/{owner}/{repo}/archive/refs/{kind}/{file}", h.serve)

	h.Server = httptest.NewServer(r)
	t.Cleanup(h.Close)
	return h
}

// Branch publishes an archive for owner/repo at a branch.
func (h *Host) Branch(ref, branch string, data []byte) {
	h.put(h.path(ref, "heads", branch), data)
}

// Tag publishes an archive for owner/repo at a tag.
func (h *Host) Tag(ref, tag string, data []byte) {
	h.put(h.path(ref, "tags", tag), data)
}

// FailNext makes the next n GET requests for a branch archive answer 503.
func (h *Host) FailNext(ref, branch string, n int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures[h.path(ref, "heads", branch)] = n
}

// BranchURL returns the archive URL for owner/repo at branch.
func (h *Host) BranchURL(ref, branch string) string {
	return h.URL + h.path(ref, "heads", branch)
}

// Gets returns how many GET requests were served for an archive path.
func (h *Host) Gets(ref, branch string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hits[h.path(ref, "heads", branch)]
}

// Heads returns how many HEAD probes hit owner/repo at branch.
func (h *Host) Heads(ref, branch string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.heads[h.path(ref, "heads", branch)]
}

func (h *Host) put(p string, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.archives[p] = data
}

func (h *Host) path(ref, kind, name string) string {
	return fmt.Sprintf("/%s/archive/refs/%s/%s.tar.gz", ref, kind, name)
}

func (h *Host) serve(w http.ResponseWriter, r *http.Request) {
	p := fmt.Sprintf("/%s/%s/archive/refs/%s/%s",
		chi.URLParam(r, "owner"), chi.URLParam(r, "repo"),
		chi.URLParam(r, "kind"), chi.URLParam(r, "file"))
	if !strings.HasSuffix(p, ".tar.gz") {
		http.NotFound(w, r)
		return
	}

	h.mu.Lock()
	data, ok := h.archives[p]
	if r.Method == http.MethodHead {
		h.heads[p]++
	} else {
		h.hits[p]++
	}
	fail := r.Method == http.MethodGet && h.failures[p] > 0
	if fail {
		h.failures[p]--
	}
	h.mu.Unlock()

	switch {
	case fail:
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	case !ok:
		http.NotFound(w, r)
	default:
		w.Header().Set("Content-Type", "application/x-gzip")
		w.Header().Set("Content-Length", fmt.Sprint(len(data)))
		if r.Method == http.MethodGet {
			_, _ = w.Write(data)
		}
	}
}
