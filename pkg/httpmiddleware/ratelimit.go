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

// RateLimitConfig configures the per-client sliding window limiter.
type RateLimitConfig struct {
	// Max requests per Window. Zero disables limiting.
	Max    int
	Window time.Duration
	// KeyFunc identifies the client. Defaults to ClientIP.
	KeyFunc func(*http.Request) string
	// Skip exempts requests, e.g. provider webhooks and probes.
	Skip func(*http.Request) bool
	// Now is the clock, for tests.
	Now func() time.Time
}

// counter holds the request counts of the current and previous windows.
type counter struct {
	prev      float64
	curr      float64
	currStart time.Time
}

type slidingWindow struct {
	cfg      RateLimitConfig
	mu       sync.Mutex
	counters map[string]*counter
}

func newSlidingWindow(cfg RateLimitConfig) *slidingWindow {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = ClientIP
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &slidingWindow{cfg: cfg, counters: make(map[string]*counter)}
}

// take records a hit for key unless the weighted count of the current and
// previous windows already reached Max.
func (s *slidingWindow) take(key string, now time.Time) (remaining int, resetAt time.Time, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	window := s.cfg.Window
	start := now.Truncate(window)

	c, found := s.counters[key]
	switch {
	case !found:
		c = &counter{currStart: start}
		s.counters[key] = c
	case start.Sub(c.currStart) >= 2*window:
		c.prev, c.curr, c.currStart = 0, 0, start
	case start.Sub(c.currStart) >= window:
		c.prev, c.curr, c.currStart = c.curr, 0, start
	}

	weight := 1 - now.Sub(c.currStart).Seconds()/window.Seconds()
	weight = math.Max(weight, 0)
	used := c.prev*weight + c.curr
	resetAt = c.currStart.Add(window)

	limit := float64(s.cfg.Max)
	if used >= limit {
		return 0, resetAt, false
	}
	c.curr++
	return max(int(limit-used-1), 0), resetAt, true
}

// evict drops counters idle for two windows.
func (s *slidingWindow) evict(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, c := range s.counters {
		if now.Sub(c.currStart) >= 2*s.cfg.Window {
			delete(s.counters, key)
		}
	}
}

func (s *slidingWindow) janitor(ctx context.Context) {
	ticker := time.NewTicker(2 * s.cfg.Window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.evict(now)
		}
	}
}

// RateLimit limits each client to Max requests per sliding Window. Limited
// requests get 429 with Retry-After and the JSON error body. Counters are
// never evicted; use RateLimitWithCleanup for long-running servers.
func RateLimit(cfg RateLimitConfig) Middleware {
	return rateLimit(newSlidingWindow(cfg))
}

// RateLimitWithCleanup is RateLimit with a janitor goroutine that lives
// until ctx is done.
func RateLimitWithCleanup(ctx context.Context, cfg RateLimitConfig) Middleware {
	s := newSlidingWindow(cfg)
	if cfg.Max > 0 && cfg.Window > 0 {
		go s.janitor(ctx)
	}
	return rateLimit(s)
}

func rateLimit(s *slidingWindow) Middleware {
	return func(next http.Handler) http.Handler {
		if s.cfg.Max <= 0 || s.cfg.Window <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s.cfg.Skip != nil && s.cfg.Skip(r) {
				next.ServeHTTP(w, r)
				return
			}

			now := s.cfg.Now()
			remaining, resetAt, ok := s.take(s.cfg.KeyFunc(r), now)

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(s.cfg.Max))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

			if !ok {
				h.Set("Retry-After", strconv.Itoa(RetryAfterSeconds(resetAt.Sub(now))))
				writeJSONError(w, http.StatusTooManyRequests, "Too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RetryAfterSeconds renders a delay for the Retry-After header, rounded up
// to at least one second.
func RetryAfterSeconds(d time.Duration) int {
	return max(int(math.Ceil(d.Seconds())), 1)
}

// ClientIP returns the client address: the first X-Forwarded-For hop, then
// X-Real-IP, then the connection's remote host.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
