// Package guard provides best-effort idempotency claims and fixed-window
// rate limiting on top of a shared key-value store.
package guard

import (
	"context"
	"time"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// Store is the minimal key-value contract shared by every backing store.
type Store interface {
	// SetNX stores key only if it is absent. A zero ttl means no expiry.
	// It reports whether the key was set by this call.
	SetNX(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Del removes key. Removing a missing key is not an error.
	Del(ctx context.Context, key string) error
	// Incr increments the counter at key and returns the new value. The
	// window expiry is set when the counter is created.
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

// Outcome is the result of a claim.
type Outcome int

const (
	Admitted Outcome = iota
	Duplicate
)

func (o Outcome) String() string {
	if o == Duplicate {
		return "duplicate"
	}
	return "admitted"
}

// Guard records "this key has been processed" claims.
type Guard struct {
	store   Store
	timeout time.Duration
}

// New creates a Guard. Every store call is bounded by timeout.
func New(store Store, timeout time.Duration) *Guard {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Guard{store: store, timeout: timeout}
}

// Claim atomically marks key as processed. The first caller for a key is
// Admitted, later callers get Duplicate until ttl expires. Store errors
// admit the claim.
func (g *Guard) Claim(ctx context.Context, key string, ttl time.Duration) Outcome {
	storeCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	ok, err := g.store.SetNX(storeCtx, key, ttl)
	if err != nil {
		zctx.From(ctx).Warn("Dedup store unavailable, admitting",
			zap.String("key", key),
			zap.Error(err),
		)
		return Admitted
	}
	if !ok {
		return Duplicate
	}
	return Admitted
}

// Release removes a claim so that a later attempt may proceed. Used after
// the guarded side effect failed.
func (g *Guard) Release(ctx context.Context, key string) {
	storeCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	if err := g.store.Del(storeCtx, key); err != nil {
		zctx.From(ctx).Warn("Release claim",
			zap.String("key", key),
			zap.Error(err),
		)
	}
}
