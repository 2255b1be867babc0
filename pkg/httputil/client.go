package httputil

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// DefaultTimeout bounds a single request, including the body transfer.
const DefaultTimeout = 60 * time.Second

var (
	// ErrNotFound is returned for 404 responses.
	ErrNotFound = errors.New("resource not found")

	// ErrNetwork is returned for HTTP failures (timeouts, connection errors, 5xx responses).
	ErrNetwork = errors.New("network error")
)

// NewClient creates an HTTP client with the given timeout. A zero timeout
// uses DefaultTimeout.
func NewClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

// CheckStatus maps an HTTP status code to an error. 2xx is success, 404 is
// ErrNotFound, 5xx and 429 are retryable, anything else is a plain
// ErrNetwork.
func CheckStatus(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound:
		return ErrNotFound
	case code >= 500 || code == http.StatusTooManyRequests:
		return Retryable(fmt.Errorf("%w: status %d", ErrNetwork, code))
	default:
		return fmt.Errorf("%w: status %d", ErrNetwork, code)
	}
}
