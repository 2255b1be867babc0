// Package httputil provides the HTTP plumbing shared by zion's transfers
// and resolver.
//
//   - [NewClient]: an http.Client with zion's timeout and user agent
//   - [CheckStatus]: maps response codes to not-found, retryable and fatal errors
//   - [RetryFunc]: bounded retry with exponential backoff
//
// # Retry
//
// Transfers wrap transient failures, network errors and 5xx responses,
// with [Retryable]. Passing [IsRetryable] as the predicate retries only
// those; 404 and validation errors are returned immediately:
//
//	err := httputil.RetryFunc(ctx, 3, 500*time.Millisecond, httputil.IsRetryable,
//	    func(attempt int) error {
//	        return transfer.Download(ctx, url, dest)
//	    })
//
// The delay doubles after each failed attempt.
package httputil
