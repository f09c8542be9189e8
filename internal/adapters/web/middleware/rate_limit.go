package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"
)

// RateLimiter allows a fixed number of requests per client host within a
// sliding window.
type RateLimiter struct {
	requests map[string][]time.Time
	mu       sync.Mutex
	limit    int
	window   time.Duration
	now      func() time.Time

	lastCleanup time.Time
}

// NewRateLimiter creates a new rate limiter with the specified limit and time window
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests:    make(map[string][]time.Time),
		limit:       limit,
		window:      window,
		now:         time.Now,
		lastCleanup: time.Now(),
	}
}

// cleanup drops hosts whose requests have all left the window. Callers
// hold rl.mu.
func (rl *RateLimiter) cleanup(now time.Time) {
	for host, times := range rl.requests {
		if valid := rl.inWindow(times, now); len(valid) == 0 {
			delete(rl.requests, host)
		} else {
			rl.requests[host] = valid
		}
	}
	rl.lastCleanup = now
}

func (rl *RateLimiter) inWindow(times []time.Time, now time.Time) []time.Time {
	var valid []time.Time
	for _, t := range times {
		if now.Sub(t) < rl.window {
			valid = append(valid, t)
		}
	}
	return valid
}

// Allow checks if a request from the given host should be allowed
func (rl *RateLimiter) Allow(host string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastCleanup) > rl.window {
		rl.cleanup(now)
	}

	valid := rl.inWindow(rl.requests[host], now)
	if len(valid) >= rl.limit {
		rl.requests[host] = valid
		return false
	}

	rl.requests[host] = append(valid, now)
	return true
}

// RateLimitMiddleware creates a middleware that rate limits requests
func RateLimitMiddleware(limiter *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(clientHost(r)) {
				http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientHost strips the port so reconnecting clients share a bucket.
func clientHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
