package middleware

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// maxTrackedClients bounds the bucket map; stale windows are pruned once
// it is exceeded.
const maxTrackedClients = 4096

type bucket struct {
	count int
	until time.Time
}

// RateLimit caps requests per client within a fixed window. It runs behind
// chi's RealIP middleware, so RemoteAddr already reflects the forwarding
// headers and no header parsing happens here. Over-limit requests get 429
// with a Retry-After hint.
func RateLimit(limit int, per time.Duration) func(http.Handler) http.Handler {
	var mu sync.Mutex
	buckets := make(map[string]*bucket)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			now := time.Now()

			mu.Lock()
			if len(buckets) > maxTrackedClients {
				for key, b := range buckets {
					if now.After(b.until) {
						delete(buckets, key)
					}
				}
			}
			b, ok := buckets[ip]
			if !ok || now.After(b.until) {
				b = &bucket{until: now.Add(per)}
				buckets[ip] = b
			}
			if b.count >= limit {
				retryAfter := b.until
				mu.Unlock()
				secs := int(time.Until(retryAfter).Seconds()) + 1
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			b.count++
			mu.Unlock()

			next.ServeHTTP(w, r)
		})
	}
}

// clientIP strips the port from RemoteAddr when one is present.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
