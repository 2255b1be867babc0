package httputil

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

func TestRetryable(t *testing.T) {
	if Retryable(nil) != nil {
		t.Error("Retryable(nil) should return nil")
	}

	err := Retryable(ErrNetwork)
	if !IsRetryable(err) {
		t.Error("IsRetryable should return true for wrapped error")
	}
	if err.Error() != ErrNetwork.Error() {
		t.Errorf("Error message should be preserved: %s", err.Error())
	}
	if !errors.Is(err, ErrNetwork) {
		t.Error("wrapped error should unwrap to ErrNetwork")
	}
	if IsRetryable(ErrNotFound) {
		t.Error("IsRetryable should return false for unwrapped error")
	}
}

func TestRetryFunc(t *testing.T) {
	ctx := context.Background()

	// Success on first try
	calls := 0
	err := RetryFunc(ctx, 3, time.Millisecond, IsRetryable, func(int) error {
		calls++
		return nil
	})
	if err != nil || calls != 1 {
		t.Errorf("first-try success: err=%v calls=%d", err, calls)
	}

	// Non-retryable error stops immediately
	calls = 0
	err = RetryFunc(ctx, 3, time.Millisecond, IsRetryable, func(int) error {
		calls++
		return ErrNotFound
	})
	if err != ErrNotFound || calls != 1 {
		t.Errorf("non-retryable: err=%v calls=%d", err, calls)
	}

	// Retryable error triggers retries
	calls = 0
	err = RetryFunc(ctx, 3, time.Millisecond, IsRetryable, func(int) error {
		calls++
		if calls < 3 {
			return Retryable(ErrNetwork)
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Errorf("retry until success: err=%v calls=%d", err, calls)
	}

	// Attempts are bounded
	calls = 0
	err = RetryFunc(ctx, 2, time.Millisecond, IsRetryable, func(int) error {
		calls++
		return Retryable(ErrNetwork)
	})
	if !IsRetryable(err) || calls != 2 {
		t.Errorf("exhausted: err=%v calls=%d", err, calls)
	}

	// Retryable errors are found inside joined errors
	calls = 0
	err = RetryFunc(ctx, 3, time.Millisecond, IsRetryable, func(int) error {
		calls++
		return errors.Join(errors.New("curl failed"), Retryable(ErrNetwork))
	})
	if err == nil || calls != 3 {
		t.Errorf("joined: err=%v calls=%d", err, calls)
	}
}

func TestRetryFuncBackoffDoubles(t *testing.T) {
	var stamps []time.Time
	_ = RetryFunc(context.Background(), 3, 20*time.Millisecond,
		func(error) bool { return true },
		func(int) error {
			stamps = append(stamps, time.Now())
			return errors.New("fail")
		})

	if len(stamps) != 3 {
		t.Fatalf("attempts = %d, want 3", len(stamps))
	}
	first := stamps[1].Sub(stamps[0])
	second := stamps[2].Sub(stamps[1])
	if first < 20*time.Millisecond {
		t.Errorf("first delay %v shorter than base delay", first)
	}
	if second < 40*time.Millisecond {
		t.Errorf("second delay %v should have doubled", second)
	}
}

func TestRetryFuncContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := RetryFunc(ctx, 3, time.Second, IsRetryable, func(int) error {
		return Retryable(ErrNetwork)
	})
	if err != context.Canceled {
		t.Errorf("Should return context error: %v", err)
	}
}

func TestCheckStatus(t *testing.T) {
	tests := []struct {
		code      int
		wantErr   bool
		retryable bool
		notFound  bool
	}{
		{http.StatusOK, false, false, false},
		{http.StatusNoContent, false, false, false},
		{http.StatusNotFound, true, false, true},
		{http.StatusForbidden, true, false, false},
		{http.StatusTooManyRequests, true, true, false},
		{http.StatusBadGateway, true, true, false},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.code), func(t *testing.T) {
			err := CheckStatus(tt.code)
			if (err != nil) != tt.wantErr {
				t.Fatalf("CheckStatus(%d) = %v", tt.code, err)
			}
			if IsRetryable(err) != tt.retryable {
				t.Errorf("retryable = %v, want %v", IsRetryable(err), tt.retryable)
			}
			if errors.Is(err, ErrNotFound) != tt.notFound {
				t.Errorf("not found = %v, want %v", errors.Is(err, ErrNotFound), tt.notFound)
			}
		})
	}
}
