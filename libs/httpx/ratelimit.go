package httpx

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// KeyFunc derives the rate limit bucket for a request.
type KeyFunc func(r *http.Request) string

// RateLimiter is an in-process fixed-window limiter, used when Redis is not configured.
type RateLimiter struct {
	limit    int
	window   time.Duration
	keyFn    KeyFunc
	now      func() time.Time
	mu       sync.Mutex
	visitors map[string]*visitor
}

type visitor struct {
	count     int
	resetTime time.Time
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = 60
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		limit:    limit,
		window:   window,
		keyFn:    ClientKey,
		now:      time.Now,
		visitors: map[string]*visitor{},
	}
}

// WithKey replaces the default client-IP bucketing.
func (rl *RateLimiter) WithKey(fn KeyFunc) *RateLimiter {
	if fn != nil {
		rl.keyFn = fn
	}
	return rl
}

func (rl *RateLimiter) Middleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.allow(rl.keyFn(r)) {
				w.Header().Set("Retry-After", retryAfterSeconds(rl.window))
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RateLimiter) allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	v := rl.visitors[key]
	if v == nil || now.After(v.resetTime) {
		if len(rl.visitors) > 10000 {
			rl.evictExpired(now)
		}
		rl.visitors[key] = &visitor{
			count:     1,
			resetTime: now.Add(rl.window),
		}
		return true
	}

	if v.count >= rl.limit {
		return false
	}
	v.count++
	return true
}

func (rl *RateLimiter) evictExpired(now time.Time) {
	for k, v := range rl.visitors {
		if now.After(v.resetTime) {
			delete(rl.visitors, k)
		}
	}
}

// ClientKey buckets by the first X-Forwarded-For hop, falling back to the remote address.
func ClientKey(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		parts := strings.Split(ip, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}

func retryAfterSeconds(window time.Duration) string {
	secs := int(window.Seconds())
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
