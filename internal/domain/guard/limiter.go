package guard

import (
	"context"
	"strconv"
	"time"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// Window is one fixed rate limit window.
type Window struct {
	Limit  int64
	Period time.Duration
}

// NewsletterWindows are the per-client limits for newsletter sign-ups.
var NewsletterWindows = []Window{
	{Limit: 3, Period: time.Minute},
	{Limit: 10, Period: time.Hour},
	{Limit: 15, Period: 24 * time.Hour},
}

// Decision is the verdict for one request.
type Decision struct {
	Allowed    bool
	Limit      int64
	Remaining  int64
	RetryAfter time.Duration
}

// Limiter enforces several fixed windows at once. A request is allowed only
// if it fits in every window.
type Limiter struct {
	store   Store
	prefix  string
	windows []Window
	timeout time.Duration
	now     func() time.Time
}

// NewLimiter creates a Limiter whose counter keys start with prefix.
func NewLimiter(store Store, prefix string, windows []Window, timeout time.Duration) *Limiter {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Limiter{
		store:   store,
		prefix:  prefix,
		windows: windows,
		timeout: timeout,
		now:     time.Now,
	}
}

// Allow counts a request for key against every window. Windows are checked
// from shortest to longest and the first exhausted one decides the retry
// delay. Store errors allow the request.
func (l *Limiter) Allow(ctx context.Context, key string) Decision {
	storeCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	now := l.now()
	result := Decision{Allowed: true}
	for i, w := range l.windows {
		bucket := now.UnixNano() / int64(w.Period)
		counterKey := l.prefix + ":" + key + ":" + strconv.Itoa(i) + ":" + strconv.FormatInt(bucket, 10)

		n, err := l.store.Incr(storeCtx, counterKey, w.Period)
		if err != nil {
			zctx.From(ctx).Warn("Rate limit store unavailable, allowing",
				zap.String("key", key),
				zap.Error(err),
			)
			return Decision{Allowed: true}
		}

		remaining := w.Limit - n
		if remaining < 0 {
			remaining = 0
		}
		if i == 0 || remaining < result.Remaining {
			result.Limit = w.Limit
			result.Remaining = remaining
		}
		if n > w.Limit {
			bucketEnd := time.Unix(0, (bucket+1)*int64(w.Period))
			return Decision{
				Allowed:    false,
				Limit:      w.Limit,
				Remaining:  0,
				RetryAfter: bucketEnd.Sub(now),
			}
		}
	}
	return result
}
