// Package resilience provides caller-side retry and timeout policies for
// fetch and mutation functions.
//
// The query core never retries a failed fetch. Callers that want a retry
// policy wrap their own fetch function before handing it to the client:
//
//	retry := resilience.NewRetry(resilience.RetryConfig{
//	    MaxAttempts:  3,
//	    InitialDelay: 100 * time.Millisecond,
//	})
//	timeout := resilience.NewTimeout(resilience.TimeoutConfig{Timeout: 5 * time.Second})
//
//	fetch := resilience.WrapFetch(loadUser, retry, timeout)
//	user, err := client.Ensure(ctx, query.Key{"user", id}, fetch)
//
// Because the wrapped function is what the client remembers, a later
// Refetch goes through the same policy.
package resilience
