// Package httpretry wraps an HTTP client with exponential backoff and
// jitter for calls to email provider APIs, which throttle bulk senders
// with 429s during large dispatches.
package httpretry

import (
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/klickraai-ship-it/del-ai/internal/pkg/logger"
)

// HTTPDoer is satisfied by *http.Client and *Client alike, so transports
// can accept either.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client retries transient failures with exponential backoff and full jitter.
type Client struct {
	inner      HTTPDoer
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// New wraps the given HTTPDoer. A nil inner client gets a 30s-timeout
// http.Client; non-positive maxRetries defaults to 3.
func New(inner HTTPDoer, maxRetries int) *Client {
	if inner == nil {
		inner = &http.Client{Timeout: 30 * time.Second}
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Client{
		inner:      inner,
		maxRetries: maxRetries,
		baseDelay:  time.Second,
		maxDelay:   30 * time.Second,
	}
}

// Do executes the request, retrying on 429/5xx responses and transient
// network errors. Client errors (4xx other than 429) and context
// cancellation return immediately. The last response is returned as-is
// so callers can read the provider's error body.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err := req.Context().Err(); err != nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, err
		}

		if attempt > 0 {
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, fmt.Errorf("httpretry: reset request body: %w", err)
				}
				req.Body = body
			}

			delay := c.backoff(attempt)
			logger.Debug("retrying request",
				"attempt", attempt,
				"max", c.maxRetries,
				"url", req.URL.Host+req.URL.Path,
				"delay", delay.String())

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

		resp, err := c.inner.Do(req)
		if err != nil {
			lastErr = err
			if req.Context().Err() != nil {
				return nil, err
			}
			continue
		}

		if !retryableStatus(resp.StatusCode) {
			return resp, nil
		}
		if attempt == c.maxRetries {
			return resp, nil
		}

		// Drain so the connection can be reused.
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		lastErr = fmt.Errorf("httpretry: retryable status %d", resp.StatusCode)
	}

	return nil, lastErr
}

// backoff returns random(0, min(maxDelay, baseDelay * 2^(attempt-1))),
// floored at 100ms.
func (c *Client) backoff(attempt int) time.Duration {
	exp := float64(c.baseDelay) * math.Pow(2, float64(attempt-1))
	if exp > float64(c.maxDelay) {
		exp = float64(c.maxDelay)
	}
	d := time.Duration(rand.Float64() * exp)
	if d < 100*time.Millisecond {
		d = 100 * time.Millisecond
	}
	return d
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// RetryAfter parses a Retry-After header in seconds, for callers that
// want to surface provider throttling upstream. Returns 0 if absent or
// unparseable.
func RetryAfter(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}
	secs, err := strconv.Atoi(resp.Header.Get("Retry-After"))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
