// Package ratelimit provides Redis-backed fixed-window rate limiting for
// the public tracking endpoints. Counters live in Redis so every instance
// behind the load balancer shares the same window.
package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/klickraai-ship-it/del-ai/internal/pkg/logger"
)

// Decision is the outcome of one limiter check.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	Reset      time.Time
	RetryAfter time.Duration
}

// Limiter counts requests per key in a fixed window.
type Limiter struct {
	rdb     redis.Cmdable
	max     int
	window  time.Duration
	message string
}

// New builds a limiter allowing max requests per window.
func New(rdb redis.Cmdable, max int, window time.Duration, message string) *Limiter {
	if message == "" {
		message = "Too many requests, please try again later."
	}
	return &Limiter{rdb: rdb, max: max, window: window, message: message}
}

// Preset limiters matching the public API surface.

// PublicEndpoint allows 100 requests per 15 minutes per IP.
func PublicEndpoint(rdb redis.Cmdable) *Limiter {
	return New(rdb, 100, 15*time.Minute,
		"Too many requests from this IP, please try again after 15 minutes.")
}

// StrictPublic allows 10 requests per minute per IP.
func StrictPublic(rdb redis.Cmdable) *Limiter {
	return New(rdb, 10, time.Minute, "Too many requests, please slow down.")
}

// Subscribe allows 5 subscription attempts per hour per IP.
func Subscribe(rdb redis.Cmdable) *Limiter {
	return New(rdb, 5, time.Hour,
		"Too many subscription attempts. Please try again later.")
}

// Unsubscribe allows 10 unsubscribe attempts per 5 minutes per IP.
func Unsubscribe(rdb redis.Cmdable) *Limiter {
	return New(rdb, 10, 5*time.Minute,
		"Too many unsubscribe attempts. Please try again in a few minutes.")
}

// Allow increments the counter for key and reports whether the request
// fits in the current window.
func (l *Limiter) Allow(ctx context.Context, key string) (Decision, error) {
	count, err := l.rdb.Incr(ctx, key).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: incr %s: %w", key, err)
	}
	if count == 1 {
		if err := l.rdb.Expire(ctx, key, l.window).Err(); err != nil {
			return Decision{}, fmt.Errorf("ratelimit: expire %s: %w", key, err)
		}
	}

	ttl, err := l.rdb.TTL(ctx, key).Result()
	if err != nil || ttl < 0 {
		ttl = l.window
	}
	reset := time.Now().Add(ttl)

	d := Decision{
		Allowed:   count <= int64(l.max),
		Limit:     l.max,
		Remaining: l.max - int(count),
		Reset:     reset,
	}
	if d.Remaining < 0 {
		d.Remaining = 0
	}
	if !d.Allowed {
		d.RetryAfter = time.Duration(math.Ceil(ttl.Seconds())) * time.Second
	}
	return d, nil
}

// Middleware applies the limiter per path and client IP. Redis outages
// fail open: throttling protects capacity, it must not take the
// endpoints down with it.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := "ratelimit:" + r.URL.Path + ":" + clientIP(r)

		d, err := l.Allow(r.Context(), key)
		if err != nil {
			logger.Warn("rate limiter unavailable", "error", err.Error())
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		w.Header().Set("X-RateLimit-Reset", d.Reset.UTC().Format(time.RFC3339))

		if !d.Allowed {
			retryAfter := int(d.RetryAfter.Seconds())
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"error":      "Too Many Requests",
				"message":    l.message,
				"retryAfter": retryAfter,
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		host = host[:idx]
	}
	return host
}
