// Package newsletter registers newsletter subscribers and forwards each new
// address to the store inbox.
package newsletter

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"github.com/xenking/kaledukampelis/internal/domain/guard"
	"github.com/xenking/kaledukampelis/internal/domain/provider"
)

// Message texts sent to the inbox.
const (
	Subject    = "Naujas naujienlaiškio prenumeratorius"
	textPrefix = "Gautas naujas prenumeratos adresas: "
)

// Sentinel errors for subscriptions.
var (
	ErrInvalidEmail      = errors.New("invalid email")
	ErrAlreadySubscribed = errors.New("already subscribed")
)

// RateLimitedError is returned when the client exceeded a sign-up window.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// DeliveryError is returned when the inbox e-mail could not be sent.
type DeliveryError struct {
	Err error
}

func (e *DeliveryError) Error() string {
	return "deliver subscription: " + e.Err.Error()
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Mailer sends a plain-text message to the store inbox.
type Mailer interface {
	Send(ctx context.Context, subject, text string) (string, error)
}

// Announcer posts the new subscriber to the staff channel.
type Announcer interface {
	SendSubscriber(ctx context.Context, email string) error
}

// RateLimiter counts sign-ups per client.
type RateLimiter interface {
	Allow(ctx context.Context, key string) guard.Decision
}

// Claimer is the subset of guard.Guard the service needs.
type Claimer interface {
	Claim(ctx context.Context, key string, ttl time.Duration) guard.Outcome
	Release(ctx context.Context, key string)
}

var emailRe = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// NormalizeEmail trims and lower-cases an address and checks its shape.
func NormalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if !emailRe.MatchString(email) {
		return "", ErrInvalidEmail
	}
	return email, nil
}

// Key returns the dedup key for an address.
func Key(email string) string {
	return "nl:email:" + email
}

// Config holds the service tunables.
type Config struct {
	// DedupTTL bounds how long an address is remembered. Zero keeps it
	// forever.
	DedupTTL time.Duration
	Timeout  time.Duration
	Meter    metric.Meter
}

// Service handles subscriptions.
type Service struct {
	mailer    Mailer
	announcer Announcer
	limiter   RateLimiter
	claims    Claimer
	dedupTTL  time.Duration
	timeout   time.Duration

	subscriptions metric.Int64Counter
}

// NewService creates a Service. A nil mailer means RESEND_API_KEY is not
// set; a nil announcer or limiter disables that step.
func NewService(cfg Config, mailer Mailer, announcer Announcer, limiter RateLimiter, claims Claimer) (*Service, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Meter == nil {
		cfg.Meter = noop.NewMeterProvider().Meter("")
	}
	subscriptions, err := cfg.Meter.Int64Counter("newsletter.subscriptions",
		metric.WithDescription("Newsletter sign-ups by result"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create subscriptions counter")
	}
	return &Service{
		mailer:        mailer,
		announcer:     announcer,
		limiter:       limiter,
		claims:        claims,
		dedupTTL:      cfg.DedupTTL,
		timeout:       cfg.Timeout,
		subscriptions: subscriptions,
	}, nil
}

// Subscribe registers email for the client identified by clientKey.
func (s *Service) Subscribe(ctx context.Context, rawEmail, clientKey string) error {
	email, err := NormalizeEmail(rawEmail)
	if err != nil {
		return err
	}
	if s.mailer == nil {
		zctx.From(ctx).Error("Newsletter mail not configured", zap.String("missing", "RESEND_API_KEY"))
		return &provider.ConfigError{Variable: "RESEND_API_KEY"}
	}

	if s.limiter != nil {
		if d := s.limiter.Allow(ctx, clientKey); !d.Allowed {
			s.count(ctx, "rate_limited")
			return &RateLimitedError{RetryAfter: d.RetryAfter}
		}
	}

	key := Key(email)
	if s.claims.Claim(ctx, key, s.dedupTTL) == guard.Duplicate {
		s.count(ctx, "duplicate")
		return ErrAlreadySubscribed
	}

	lg := zctx.From(ctx)

	sendCtx, cancel := context.WithTimeout(ctx, s.timeout)
	id, err := s.mailer.Send(sendCtx, Subject, textPrefix+email)
	cancel()
	if err != nil {
		s.claims.Release(ctx, key)
		s.count(ctx, "failed")
		lg.Error("Send subscription email", zap.Error(err))
		return &DeliveryError{Err: err}
	}
	lg.Info("Subscription email sent", zap.String("message_id", id))

	if s.announcer != nil {
		announceCtx, cancel := context.WithTimeout(ctx, s.timeout)
		if err := s.announcer.SendSubscriber(announceCtx, email); err != nil {
			lg.Warn("Announce subscriber", zap.Error(err))
		}
		cancel()
	}

	s.count(ctx, "subscribed")
	return nil
}

func (s *Service) count(ctx context.Context, result string) {
	s.subscriptions.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}
