package middleware

import (
	"log"
	"net/http"
	"time"

	fleetauth "github.com/fleetdesk/fleetauth"
	"github.com/redis/go-redis/v9"
)

const rateKeyPrefix = "rw"

// RatePolicy bounds one tagged route: at most Max requests per client
// within Window. Policies are bound per route, never globally.
type RatePolicy struct {
	Max    int
	Window time.Duration
}

// RateLimiter caps request volume per (client address, route) using
// windowed counters in the shared Redis cache, so the cap holds across
// every application instance. Routes not wrapped by [RateLimiter.Limit]
// pass through untouched.
type RateLimiter struct {
	redis   redis.UniversalClient
	metrics *fleetauth.Metrics
}

func NewRateLimiter(client redis.UniversalClient, metrics *fleetauth.Metrics) *RateLimiter {
	return &RateLimiter{redis: client, metrics: metrics}
}

// Limit wraps a handler with the policy for the named route. The first
// request in a window creates the counter with the window's expiry;
// requests beyond Max are rejected with 429 and never forwarded.
func (l *RateLimiter) Limit(route string, policy RatePolicy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := rateKeyPrefix + ":" + route + ":" + clientIP(r)

			count, err := l.redis.Incr(r.Context(), key).Result()
			if err != nil {
				// The limiter protects against abuse, not correctness; a
				// cache outage must not lock every client out.
				log.Printf("fleetauth: rate limiter unavailable on %s: %v", route, err)
				next.ServeHTTP(w, r)
				return
			}
			if count == 1 {
				if err := l.redis.Expire(r.Context(), key, policy.Window).Err(); err != nil {
					log.Printf("fleetauth: rate window expiry failed on %s: %v", route, err)
				}
			}

			if count > int64(policy.Max) {
				if l.metrics != nil {
					l.metrics.RateLimitRejections.WithLabelValues(route).Inc()
				}
				w.Header().Set("Content-Type", "text/plain; charset=utf-8")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte("rate limit exceeded, try again later\n"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
