package server

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// RateLimiter provides per-client rate limiting for the public callback
// endpoint.
type RateLimiter struct {
	log      logrus.FieldLogger
	limiters sync.Map // map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

// NewRateLimiter creates a new rate limiter.
// requestsPerMinute is the maximum requests per minute per client.
func NewRateLimiter(log logrus.FieldLogger, requestsPerMinute int) *RateLimiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 60 // default
	}

	// Burst allows some requests to go through immediately.
	burst := requestsPerMinute / 6
	if burst < 5 {
		burst = 5
	}

	return &RateLimiter{
		log:   log.WithField("component", "rate_limiter"),
		rate:  rate.Limit(float64(requestsPerMinute) / 60.0),
		burst: burst,
	}
}

// getLimiter gets or creates a rate limiter for the given key.
func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	if limiter, ok := rl.limiters.Load(key); ok {
		return limiter.(*rate.Limiter)
	}

	limiter := rate.NewLimiter(rl.rate, rl.burst)
	rl.limiters.Store(key, limiter)

	return limiter
}

// Allow checks if a request is allowed for the given key.
func (rl *RateLimiter) Allow(key string) bool {
	return rl.getLimiter(key).Allow()
}

// Handler returns the rate limiting middleware handler.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := rl.getKey(r)

		if !rl.Allow(key) {
			rl.log.WithFields(logrus.Fields{
				"key":  key,
				"path": r.URL.Path,
			}).Warn("Rate limit exceeded")

			w.Header().Set("Retry-After", "60")
			http.Error(w, "Too many requests. Please try again later.", http.StatusTooManyRequests)

			return
		}

		next.ServeHTTP(w, r)
	})
}

// getKey returns the rate limit key for a request. The endpoint is public and
// unauthenticated, so only the transport peer address is trusted; forwarding
// headers are client-controlled and would let a caller pick its own bucket.
func (rl *RateLimiter) getKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}

	return "ip:" + host
}

// CleanupExpired removes idle rate limiters to prevent memory leaks.
// This should be called periodically.
func (rl *RateLimiter) CleanupExpired() {
	// Rate limiters carry no explicit expiry; clearing the map is enough,
	// entries are recreated on the next request.
	rl.limiters = sync.Map{}

	rl.log.Debug("Cleared rate limiters")
}

// StartCleanup starts a background goroutine to clean up idle limiters.
func (rl *RateLimiter) StartCleanup(interval time.Duration, stopCh <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				rl.CleanupExpired()
			case <-stopCh:
				return
			}
		}
	}()
}
