package api

import (
	"net/http"
	"sync"

	"golang.org/x/time/rate"
)

// rateLimiter decides whether a request accepted on the endpoint with the
// given address may proceed. Requests without endpoint information share
// the empty address.
type rateLimiter interface {
	Allow(endpoint string) bool
}

// endpointLimiter keeps an independent token bucket per endpoint address.
type endpointLimiter struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

func newEndpointLimiter(ratePerSecond float64, burst int) *endpointLimiter {
	if ratePerSecond <= 0 {
		ratePerSecond = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &endpointLimiter{
		limit:   rate.Limit(ratePerSecond),
		burst:   burst,
		buckets: make(map[string]*rate.Limiter),
	}
}

func (l *endpointLimiter) Allow(endpoint string) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	bucket, ok := l.buckets[endpoint]
	if !ok {
		bucket = rate.NewLimiter(l.limit, l.burst)
		l.buckets[endpoint] = bucket
	}
	l.mu.Unlock()
	return bucket.Allow()
}

func rateLimitMiddleware(limiter rateLimiter, next http.Handler) http.Handler {
	if limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ep, _ := EndpointFromContext(r.Context())
		if limiter.Allow(ep.Address) {
			next.ServeHTTP(w, r)
			return
		}
		detail := "rate limit exceeded, please retry shortly"
		if ep.Address != "" {
			detail = "rate limit exceeded on endpoint " + ep.label() + ", please retry shortly"
		}
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusTooManyRequests, "Too many requests", detail)
	})
}
