// Package redis implements guard.Store on a Redis server.
package redis

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	goredis "github.com/redis/go-redis/v9"

	"github.com/xenking/kaledukampelis/internal/domain/guard"
)

var _ guard.Store = (*Store)(nil)

// incrScript increments a counter and sets its expiry only when the counter
// was just created, so the window is fixed at the first hit.
var incrScript = goredis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)

// Store is a guard.Store backed by go-redis.
type Store struct {
	client *goredis.Client
}

// NewClient parses a redis:// or rediss:// URL and returns a client whose
// dial, read and write operations are bounded by timeout.
func NewClient(ctx context.Context, url string, timeout time.Duration) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	if timeout > 0 {
		opts.DialTimeout = timeout
		opts.ReadTimeout = timeout
		opts.WriteTimeout = timeout
	}

	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "ping redis")
	}
	return client, nil
}

// New returns a Store that uses the given client.
func New(client *goredis.Client) *Store {
	return &Store{client: client}
}

// SetNX implements guard.Store.
func (s *Store) SetNX(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl < 0 {
		ttl = 0
	}
	ok, err := s.client.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return false, errors.Wrapf(err, "setnx %q", key)
	}
	return ok, nil
}

// Del implements guard.Store.
func (s *Store) Del(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return errors.Wrapf(err, "del %q", key)
	}
	return nil
}

// Incr implements guard.Store.
func (s *Store) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	n, err := incrScript.Run(ctx, s.client, []string{key}, window.Milliseconds()).Int64()
	if err != nil {
		return 0, errors.Wrapf(err, "incr %q", key)
	}
	return n, nil
}

// Ping reports whether the server is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
