package api

import (
	"fmt"
	"net"
	"net/http"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

// clientLimiter applies a token bucket per client address. The least
// recently seen clients are evicted once the cache is full.
type clientLimiter struct {
	mu      sync.Mutex
	clients *lru.Cache[string, *rate.Limiter]
	limit   rate.Limit
	burst   int
}

func newClientLimiter(perSecond float64, burst, size int) (*clientLimiter, error) {
	cache, err := lru.New[string, *rate.Limiter](size)
	if err != nil {
		return nil, fmt.Errorf("creating limiter cache: %w", err)
	}
	return &clientLimiter{clients: cache, limit: rate.Limit(perSecond), burst: burst}, nil
}

func (c *clientLimiter) allow(client string) bool {
	c.mu.Lock()
	l, ok := c.clients.Get(client)
	if !ok {
		l = rate.NewLimiter(c.limit, c.burst)
		c.clients.Add(client, l)
	}
	c.mu.Unlock()
	return l.Allow()
}

// clientKey is the remote IP. Forwarding headers are ignored since any
// client can set them.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (c *clientLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodOptions && !c.allow(clientKey(r)) {
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "rate limit exceeded", Code: "rate_limited"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
