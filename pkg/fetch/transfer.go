package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/zion/pkg/buildinfo"
	"github.com/matzehuels/zion/pkg/httputil"
	"github.com/matzehuels/zion/pkg/observability"
)

// Transfer downloads url into the file at dest. Implementations must not
// leave a partial file at dest on failure.
type Transfer interface {
	Name() string
	Download(ctx context.Context, url, dest string) error
}

// HTTPTransfer is the primary transfer: a streaming GET with net/http.
type HTTPTransfer struct {
	Client *http.Client
	Logger *log.Logger
}

// NewHTTPTransfer creates an HTTPTransfer. A nil client uses
// httputil.NewClient with the default timeout.
func NewHTTPTransfer(client *http.Client, logger *log.Logger) *HTTPTransfer {
	if client == nil {
		client = httputil.NewClient(0)
	}
	if logger == nil {
		logger = log.Default()
	}
	return &HTTPTransfer{Client: client, Logger: logger}
}

func (t *HTTPTransfer) Name() string { return "http" }

// Download streams the response body to dest. Network errors and 5xx
// responses are returned as httputil.RetryableError.
func (t *HTTPTransfer) Download(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", buildinfo.UserAgent())

	host, path := hostPath(url)
	observability.HTTP().OnRequest(ctx, http.MethodGet, host, path)
	start := time.Now()

	resp, err := t.Client.Do(req)
	if err != nil {
		observability.HTTP().OnError(ctx, http.MethodGet, host, path, err)
		return httputil.Retryable(fmt.Errorf("%w: %v", httputil.ErrNetwork, err))
	}
	defer resp.Body.Close()
	observability.HTTP().OnResponse(ctx, http.MethodGet, host, path, resp.StatusCode, time.Since(start))

	if err := httputil.CheckStatus(resp.StatusCode); err != nil {
		return fmt.Errorf("GET %s: %w", url, err)
	}

	n, err := writeAtomic(dest, resp.Body)
	if err != nil {
		return httputil.Retryable(fmt.Errorf("%w: %v", httputil.ErrNetwork, err))
	}

	elapsed := time.Since(start)
	t.Logger.Debug("downloaded", "url", url, "bytes", n, "elapsed", elapsed.Round(time.Millisecond),
		"rate", throughput(n, elapsed))
	return nil
}

// CurlTransfer is the fallback transfer: it shells out to curl, which
// brings its own proxy, certificate and netrc handling.
type CurlTransfer struct {
	Path string // curl binary; empty means look it up on PATH
}

func (t *CurlTransfer) Name() string { return "curl" }

// Download runs curl -fsSL into a temp file and renames it to dest.
func (t *CurlTransfer) Download(ctx context.Context, url, dest string) error {
	bin := t.Path
	if bin == "" {
		p, err := exec.LookPath("curl")
		if err != nil {
			return fmt.Errorf("curl not available: %w", err)
		}
		bin = p
	}

	tmp, err := tempPath(dest)
	if err != nil {
		return err
	}
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, "-fsSL", "-A", buildinfo.UserAgent(), "-o", tmp, url)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		_ = os.Remove(tmp)
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return fmt.Errorf("curl %s: %s", url, msg)
	}
	if err := os.Rename(tmp, dest); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// writeAtomic copies r into a temp file next to dest, then renames it.
// Concurrent writers for the same dest each get their own temp file.
func writeAtomic(dest string, r io.Reader) (int64, error) {
	f, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".*.part")
	if err != nil {
		return 0, err
	}
	tmp := f.Name()
	n, copyErr := io.Copy(f, r)
	closeErr := f.Close()
	if copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		_ = os.Remove(tmp)
		return n, copyErr
	}
	if err := os.Rename(tmp, dest); err != nil {
		_ = os.Remove(tmp)
		return n, err
	}
	return n, nil
}

// tempPath reserves a unique temp file name next to dest.
func tempPath(dest string) (string, error) {
	f, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".*.part")
	if err != nil {
		return "", err
	}
	name := f.Name()
	_ = f.Close()
	return name, nil
}

func throughput(n int64, d time.Duration) string {
	if d <= 0 {
		return "n/a"
	}
	kbps := float64(n) / 1024 / d.Seconds()
	if kbps >= 1024 {
		return fmt.Sprintf("%.1f MiB/s", kbps/1024)
	}
	return fmt.Sprintf("%.1f KiB/s", kbps)
}
