// Package ratelimit keeps concurrent collectors polite toward any one host.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/reg-radar/internal/fetcher"
	"github.com/JakeFAU/reg-radar/internal/metrics"
)

// Config sets the per-host token bucket. A non-positive RPS disables limiting.
type Config struct {
	RPS   float64
	Burst int
}

// Getter wraps a fetcher.Getter with one limiter per host. The RSS and HTML
// passes often hit the same regulator at once; this spaces them out.
type Getter struct {
	next     fetcher.Getter
	limit    rate.Limit
	burst    int
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// Wrap returns next guarded by per-host limiters.
func Wrap(next fetcher.Getter, cfg Config) (*Getter, error) {
	if next == nil {
		return nil, fmt.Errorf("getter is required")
	}
	limit := rate.Limit(cfg.RPS)
	if cfg.RPS <= 0 {
		limit = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Getter{next: next, limit: limit, burst: burst, limiters: make(map[string]*rate.Limiter)}, nil
}

// Get waits for the host's token, then delegates.
func (g *Getter) Get(ctx context.Context, rawURL string) (fetcher.Response, error) {
	start := time.Now()
	if err := g.limiterFor(hostKey(rawURL)).Wait(ctx); err != nil {
		return fetcher.Response{}, fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitWait(rawURL, waited)
	}
	return g.next.Get(ctx, rawURL)
}

func (g *Getter) limiterFor(host string) *rate.Limiter {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.limiters[host]
	if !ok {
		l = rate.NewLimiter(g.limit, g.burst)
		g.limiters[host] = l
	}
	return l
}

// hostKey folds www. so both spellings of a regulator share a bucket.
func hostKey(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}
