package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimitConfig configures the sliding window rate limiter.
type RateLimitConfig struct {
	// Max is the number of requests allowed per window and key.
	Max int
	// Window is the length of the sliding window.
	Window time.Duration
	// TrustProxy keys by X-Forwarded-For / X-Real-IP. Enable only behind a
	// proxy that overwrites them, or clients can pick their own bucket.
	TrustProxy bool
	// KeyFunc overrides the client IP key.
	KeyFunc func(*http.Request) string
	// Skip exempts requests from limiting, e.g. probes and scrapes.
	Skip func(*http.Request) bool
}

// SkipPaths returns a Skip func matching exact URL paths.
func SkipPaths(paths ...string) func(*http.Request) bool {
	set := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		set[p] = struct{}{}
	}
	return func(r *http.Request) bool {
		_, ok := set[r.URL.Path]
		return ok
	}
}

// window counts hits in the current fixed bucket and keeps the previous
// bucket's total. The sliding estimate weights prev by how much of it still
// overlaps [now-size, now].
type window struct {
	start time.Time
	prev  float64
	curr  float64
}

func (w *window) advance(now time.Time, size time.Duration) {
	bucket := now.Truncate(size)
	switch {
	case !bucket.After(w.start):
		return
	case bucket.Sub(w.start) == size:
		w.prev = w.curr
	default:
		w.prev = 0
	}
	w.curr = 0
	w.start = bucket
}

func (w *window) estimate(now time.Time, size time.Duration) float64 {
	overlap := 1 - float64(now.Sub(w.start))/float64(size)
	return w.prev*math.Max(overlap, 0) + w.curr
}

type decision struct {
	allowed   bool
	remaining int
	reset     time.Time
}

type rateLimiter struct {
	max  int
	size time.Duration
	now  func() time.Time

	mu      sync.Mutex
	windows map[string]*window
}

func newRateLimiter(cfg RateLimitConfig) *rateLimiter {
	return &rateLimiter{
		max:     cfg.Max,
		size:    cfg.Window,
		now:     time.Now,
		windows: make(map[string]*window),
	}
}

func (rl *rateLimiter) take(key string) decision {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	w, ok := rl.windows[key]
	if !ok {
		w = &window{start: now.Truncate(rl.size)}
		rl.windows[key] = w
	}
	w.advance(now, rl.size)

	d := decision{reset: w.start.Add(rl.size)}
	used := w.estimate(now, rl.size)
	if used >= float64(rl.max) {
		return d
	}
	w.curr++
	d.allowed = true
	d.remaining = max(rl.max-int(math.Ceil(used+1)), 0)
	return d
}

// evict drops keys idle for two full windows; their estimate is zero.
func (rl *rateLimiter) evict(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	for key, w := range rl.windows {
		if now.Sub(w.start) >= 2*rl.size {
			delete(rl.windows, key)
		}
	}
}

func (rl *rateLimiter) evictLoop(ctx context.Context) {
	ticker := time.NewTicker(2 * rl.size)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			rl.evict(now)
		}
	}
}

// RateLimit enforces a per-client sliding window limit and answers 429 with
// the API error envelope once it is exceeded. Keys are never evicted; servers
// should use RateLimitWithCleanup.
func RateLimit(cfg RateLimitConfig) Middleware {
	return rateLimit(cfg, newRateLimiter(cfg))
}

// RateLimitWithCleanup is RateLimit plus a goroutine that evicts idle keys
// until ctx is done.
func RateLimitWithCleanup(ctx context.Context, cfg RateLimitConfig) Middleware {
	rl := newRateLimiter(cfg)
	go rl.evictLoop(ctx)
	return rateLimit(cfg, rl)
}

func rateLimit(cfg RateLimitConfig, rl *rateLimiter) Middleware {
	key := cfg.KeyFunc
	if key == nil {
		key = clientIP(cfg.TrustProxy)
	}
	limit := strconv.Itoa(cfg.Max)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.Skip != nil && cfg.Skip(r) {
				next.ServeHTTP(w, r)
				return
			}

			d := rl.take(key(r))
			h := w.Header()
			h.Set("X-RateLimit-Limit", limit)
			h.Set("X-RateLimit-Remaining", strconv.Itoa(d.remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(d.reset.Unix(), 10))

			if !d.allowed {
				wait := max(d.reset.Sub(rl.now()), 0)
				h.Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP keys by the peer address, or by the first forwarded hop when the
// proxy headers are trusted.
func clientIP(trustProxy bool) func(*http.Request) string {
	return func(r *http.Request) string {
		if trustProxy {
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				first, _, _ := strings.Cut(xff, ",")
				return strings.TrimSpace(first)
			}
			if xri := r.Header.Get("X-Real-IP"); xri != "" {
				return xri
			}
		}
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			return r.RemoteAddr
		}
		return host
	}
}
