// middleware/ratelimit/ratelimit.go
package ratelimit

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter applies a token-bucket rate limit per client IP. Buckets are pruned
// after an idle period so the map does not grow without bound.
type Limiter struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	clients map[string]*client
}

type client struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

const idleEviction = 10 * time.Minute

// New builds a Limiter allowing rps requests per second with the given burst.
func New(rps float64, burst int) *Limiter {
	l := &Limiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		clients: make(map[string]*client),
	}
	go l.prune()
	return l
}

func (l *Limiter) prune() {
	for range time.Tick(time.Minute) {
		l.mu.Lock()
		for k, c := range l.clients {
			if time.Since(c.lastSeen) > idleEviction {
				delete(l.clients, k)
			}
		}
		l.mu.Unlock()
	}
}

func (l *Limiter) clientFor(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.clients[key]
	if !ok {
		c = &client{lim: rate.NewLimiter(l.limit, l.burst)}
		l.clients[key] = c
	}
	c.lastSeen = time.Now()
	return c.lim
}

// Middleware rejects over-limit requests with 429 and a Retry-After hint.
func (l *Limiter) Middleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			lim := l.clientFor(ClientIP(r))

			res := lim.Reserve()
			if !res.OK() || res.Delay() > 0 {
				if res.OK() {
					res.Cancel()
				}
				retryAfter := int(res.Delay().Seconds()) + 1
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.burst))
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				http.Error(w, "Too Many Requests - Please wait before trying again", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP resolves the caller address, preferring the first hop of
// X-Forwarded-For when the relay sits behind a proxy.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
