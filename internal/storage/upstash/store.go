// Package upstash implements guard.Store over the Upstash Redis REST API.
package upstash

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/xenking/kaledukampelis/internal/domain/guard"
)

var _ guard.Store = (*Store)(nil)

// Config holds the REST endpoint credentials.
type Config struct {
	URL     string
	Token   string
	Timeout time.Duration
	// Transport overrides the base HTTP transport, mainly for tests.
	Transport http.RoundTripper
}

// Store is a guard.Store that issues Redis commands as JSON over HTTPS.
type Store struct {
	url    string
	token  string
	client *http.Client
}

// New creates a Store.
func New(cfg Config) *Store {
	base := cfg.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	return &Store{
		url:   strings.TrimRight(cfg.URL, "/"),
		token: cfg.Token,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(base),
		},
	}
}

// result is one decoded {"result": ...} or {"error": ...} reply.
type result struct {
	isNull bool
	str    string
	num    int64
	err    string
}

func (r *result) decode(d *jx.Decoder) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "result":
			switch d.Next() {
			case jx.Null:
				r.isNull = true
				return d.Null()
			case jx.String:
				s, err := d.Str()
				r.str = s
				return err
			case jx.Number:
				n, err := d.Int64()
				r.num = n
				return err
			default:
				return d.Skip()
			}
		case "error":
			s, err := d.Str()
			r.err = s
			return err
		default:
			return d.Skip()
		}
	})
}

// SetNX implements guard.Store with SET key 1 NX [PX ttl].
func (s *Store) SetNX(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	cmd := []string{"SET", key, "1", "NX"}
	if ttl > 0 {
		cmd = append(cmd, "PX", strconv.FormatInt(ttl.Milliseconds(), 10))
	}

	var e jx.Encoder
	encodeCommand(&e, cmd)

	var r result
	if err := s.do(ctx, s.url, e.Bytes(), func(d *jx.Decoder) error {
		return r.decode(d)
	}); err != nil {
		return false, errors.Wrapf(err, "set %q", key)
	}
	if r.err != "" {
		return false, errors.Errorf("set %q: %s", key, r.err)
	}
	return !r.isNull && r.str == "OK", nil
}

// Del implements guard.Store.
func (s *Store) Del(ctx context.Context, key string) error {
	var e jx.Encoder
	encodeCommand(&e, []string{"DEL", key})

	var r result
	if err := s.do(ctx, s.url, e.Bytes(), func(d *jx.Decoder) error {
		return r.decode(d)
	}); err != nil {
		return errors.Wrapf(err, "del %q", key)
	}
	if r.err != "" {
		return errors.Errorf("del %q: %s", key, r.err)
	}
	return nil
}

// Incr implements guard.Store with an INCR + PEXPIRE NX transaction.
func (s *Store) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	var e jx.Encoder
	e.ArrStart()
	encodeCommand(&e, []string{"INCR", key})
	encodeCommand(&e, []string{"PEXPIRE", key, strconv.FormatInt(window.Milliseconds(), 10), "NX"})
	e.ArrEnd()

	var replies []result
	if err := s.do(ctx, s.url+"/multi-exec", e.Bytes(), func(d *jx.Decoder) error {
		if d.Next() == jx.Object {
			// A failed transaction is reported as a single error object.
			var r result
			if err := r.decode(d); err != nil {
				return err
			}
			replies = append(replies, r)
			return nil
		}
		return d.Arr(func(d *jx.Decoder) error {
			var r result
			if err := r.decode(d); err != nil {
				return err
			}
			replies = append(replies, r)
			return nil
		})
	}); err != nil {
		return 0, errors.Wrapf(err, "incr %q", key)
	}
	if len(replies) == 0 {
		return 0, errors.Errorf("incr %q: empty reply", key)
	}
	if replies[0].err != "" {
		return 0, errors.Errorf("incr %q: %s", key, replies[0].err)
	}
	return replies[0].num, nil
}

// Ping checks that the REST endpoint accepts the token.
func (s *Store) Ping(ctx context.Context) error {
	var e jx.Encoder
	encodeCommand(&e, []string{"PING"})

	var r result
	if err := s.do(ctx, s.url, e.Bytes(), func(d *jx.Decoder) error {
		return r.decode(d)
	}); err != nil {
		return errors.Wrap(err, "ping")
	}
	if r.err != "" {
		return errors.Errorf("ping: %s", r.err)
	}
	return nil
}

func (s *Store) do(ctx context.Context, url string, body []byte, decode func(*jx.Decoder) error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "create request")
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "send")
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return errors.Wrap(err, "read response")
	}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusUnauthorized {
		return errors.Errorf("upstash returned %d", resp.StatusCode)
	}
	if err := decode(jx.DecodeBytes(data)); err != nil {
		return errors.Wrapf(err, "decode response (status %d)", resp.StatusCode)
	}
	return nil
}

func encodeCommand(e *jx.Encoder, cmd []string) {
	e.ArrStart()
	for _, part := range cmd {
		e.Str(part)
	}
	e.ArrEnd()
}
