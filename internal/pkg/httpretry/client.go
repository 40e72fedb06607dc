// Package httpretry wraps an HTTP client with exponential backoff and
// jitter. Delivery gateways use it so transient webhook endpoint failures
// do not fail journey steps.
package httpretry

import (
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"time"
)

// HTTPDoer is satisfied by *http.Client and *RetryClient.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// minDelay floors jittered backoff so retries never busy-loop.
const minDelay = 100 * time.Millisecond

// RetryClient retries transient failures: network errors and status codes
// 429/500/502/503/504. Client errors and context cancellation are returned
// immediately.
type RetryClient struct {
	client     HTTPDoer
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// NewRetryClient wraps client with retry behavior. A nil client gets a
// 30s-timeout http.Client; maxRetries <= 0 defaults to 3.
func NewRetryClient(client HTTPDoer, maxRetries int) *RetryClient {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &RetryClient{
		client:     client,
		maxRetries: maxRetries,
		baseDelay:  time.Second,
		maxDelay:   30 * time.Second,
	}
}

// SetBackoff overrides the backoff bounds. Tests use short delays.
func (rc *RetryClient) SetBackoff(base, max time.Duration) {
	rc.baseDelay = base
	rc.maxDelay = max
}

// Do executes the request, retrying retryable failures up to maxRetries
// times. The final attempt's response is returned as-is so callers can
// inspect status and body. Requests carrying a body must set GetBody to
// survive retries; http.NewRequest does this for common body types.
func (rc *RetryClient) Do(req *http.Request) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= rc.maxRetries; attempt++ {
		if err := req.Context().Err(); err != nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, err
		}

		if attempt > 0 {
			if err := rewind(req); err != nil {
				return nil, err
			}
			delay := rc.backoff(attempt)
			log.Printf("[httpretry] attempt %d/%d %s %s (in %s)",
				attempt, rc.maxRetries, req.Method, req.URL.Redacted(), delay)
			if !sleepCtx(req, delay) {
				if lastErr != nil {
					return nil, lastErr
				}
				return nil, req.Context().Err()
			}
		}

		resp, err := rc.client.Do(req)
		if err != nil {
			if req.Context().Err() != nil {
				return nil, err
			}
			lastErr = err
			continue
		}

		if !retryable(resp.StatusCode) || attempt == rc.maxRetries {
			return resp, nil
		}

		// Drain so the connection can be reused across attempts.
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		lastErr = fmt.Errorf("httpretry: retryable status %d", resp.StatusCode)
	}

	return nil, lastErr
}

// backoff returns a full-jitter exponential delay for the given attempt,
// capped at maxDelay and floored at minDelay.
func (rc *RetryClient) backoff(attempt int) time.Duration {
	ceiling := rc.baseDelay << (attempt - 1)
	if ceiling > rc.maxDelay || ceiling <= 0 {
		ceiling = rc.maxDelay
	}
	d := time.Duration(rand.Int63n(int64(ceiling) + 1))
	if d < minDelay {
		d = minDelay
	}
	return d
}

// rewind resets the request body before a retry.
func rewind(req *http.Request) error {
	if req.GetBody == nil {
		return nil
	}
	body, err := req.GetBody()
	if err != nil {
		return fmt.Errorf("httpretry: reset request body: %w", err)
	}
	req.Body = body
	return nil
}

// sleepCtx waits for d or the request context; false means the context won.
func sleepCtx(req *http.Request, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-req.Context().Done():
		return false
	}
}

func retryable(status int) bool {
	switch status {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}
