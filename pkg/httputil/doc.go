// Package httputil provides the HTTP plumbing shared by remote image loaders.
//
// # Retry
//
// [Retry] re-runs an operation with exponential backoff. Only failures
// wrapped with [Retryable] are attempted again; everything else returns
// immediately:
//
//	err := httputil.Retry(ctx, httputil.DefaultPolicy, func() error {
//	    data, err = httputil.Fetch(ctx, client, url, 0)
//	    return err
//	})
//
// # Fetch
//
// [Fetch] performs a bounded GET and classifies failures: network errors,
// 429 and 5xx responses are retryable, other statuses are not.
package httputil
