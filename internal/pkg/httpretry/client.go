// Package httpretry provides an HTTP client with automatic retry logic,
// exponential backoff, and jitter for resilient external API calls.
package httpretry

import (
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net"
	"net/http"
	"time"

	"github.com/ignite/mailrouter/internal/pkg/logger"
)

// HTTPDoer is the interface for executing HTTP requests.
// Both *http.Client and *RetryClient satisfy this interface.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RetryClient wraps an HTTPDoer with retry logic using exponential
// backoff and jitter.
type RetryClient struct {
	client     HTTPDoer
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// New creates a RetryClient with a bounded-timeout http.Client.
// maxRetries is the number of retry attempts after the initial request
// (default 3).
func New(timeout time.Duration, maxRetries int) *RetryClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return NewRetryClient(&http.Client{Timeout: timeout}, maxRetries)
}

// NewRetryClient creates a RetryClient wrapping the given HTTPDoer.
// If client is nil, a default http.Client with 30s timeout is used.
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
		baseDelay:  1 * time.Second,
		maxDelay:   30 * time.Second,
	}
}

// retryTransport adapts the retry policy to http.RoundTripper for
// callers that require a concrete *http.Client (the oauth2 package).
type retryTransport struct {
	rc *RetryClient
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.rc.Do(req)
}

// Client returns a *http.Client whose transport retries with the
// package's backoff policy.
func Client(timeout time.Duration, maxRetries int) *http.Client {
	return &http.Client{Transport: &retryTransport{rc: New(timeout, maxRetries)}}
}

// Do executes the HTTP request with retry logic. It retries on retryable
// status codes (429, 500, 502, 503, 504) and transient network/timeout
// errors, not on client errors or context cancellation. On the final
// attempt the response is returned as-is so the caller can inspect it.
func (rc *RetryClient) Do(req *http.Request) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= rc.maxRetries; attempt++ {
		if req.Context().Err() != nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, req.Context().Err()
		}

		if attempt > 0 {
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, fmt.Errorf("httpretry: reset request body: %w", err)
				}
				req.Body = body
			}

			delay := rc.calculateDelay(attempt)
			logger.Debug("httpretry backoff",
				"attempt", attempt, "max", rc.maxRetries,
				"host", req.URL.Host, "delay", delay.String())

			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-req.Context().Done():
				timer.Stop()
				if lastErr != nil {
					return nil, lastErr
				}
				return nil, req.Context().Err()
			}
		}

		resp, err := rc.client.Do(req)
		if err != nil {
			if !isTransient(err) {
				return nil, err
			}
			lastErr = err
			continue
		}

		if !isRetryableStatus(resp.StatusCode) || attempt == rc.maxRetries {
			return resp, nil
		}

		// Drain and close so the transport connection can be reused.
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		lastErr = fmt.Errorf("httpretry: status %d from %s", resp.StatusCode, req.URL.Host)
	}

	return nil, lastErr
}

func (rc *RetryClient) calculateDelay(attempt int) time.Duration {
	delay := time.Duration(float64(rc.baseDelay) * math.Pow(2, float64(attempt-1)))
	if delay > rc.maxDelay {
		delay = rc.maxDelay
	}
	// Full jitter keeps concurrent retries from synchronizing.
	return time.Duration(rand.Int63n(int64(delay)) + int64(rc.baseDelay)/2)
}

func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

func isTransient(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
