// Package webhook verifies payment provider webhooks and turns confirmed
// payments into order notifications.
package webhook

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/kaledukampelis/internal/domain/guard"
	"github.com/xenking/kaledukampelis/internal/domain/notify"
	"github.com/xenking/kaledukampelis/internal/domain/order"
	"github.com/xenking/kaledukampelis/internal/domain/provider"
)

// Sentinel errors for webhook processing.
var (
	ErrInvalidSignature = errors.New("invalid signature")
	ErrProviderAuth     = errors.New("provider auth failed")
	ErrInvalidPayload   = errors.New("invalid payload")
	ErrMissingTotal     = errors.New("no total in webhook payload")
)

// Outcome describes how a verified event was handled.
type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeDuplicate Outcome = "duplicate"
)

// StripeVerifier checks a Stripe-Signature header against the raw body and
// decodes the event. Verification failures wrap ErrInvalidSignature.
type StripeVerifier interface {
	ConstructEvent(payload []byte, signature string) (*StripeEvent, error)
}

// PayPalAPI is the PayPal REST surface the webhook needs. Token failures
// wrap ErrProviderAuth, rejected signatures wrap ErrInvalidSignature.
type PayPalAPI interface {
	VerifyWebhookSignature(ctx context.Context, h PayPalHeaders, body []byte) error
	GetOrder(ctx context.Context, id string) (*PayPalResource, error)
	GetCapture(ctx context.Context, id string) (*PayPalResource, error)
	GetByHref(ctx context.Context, href string) (*PayPalResource, error)
}

// Dispatcher delivers order notifications.
type Dispatcher interface {
	Dispatch(ctx context.Context, n *order.Notification) (notify.Result, error)
}

// Claimer is the subset of guard.Guard the service needs.
type Claimer interface {
	Claim(ctx context.Context, key string, ttl time.Duration) guard.Outcome
	Release(ctx context.Context, key string)
}

// EventKey returns the dedup key for a provider event id.
func EventKey(p provider.Name, eventID string) string {
	return "wh:" + string(p) + ":" + eventID
}

// Config holds the service tunables.
type Config struct {
	// EventTTL is how long a processed event id is remembered.
	EventTTL time.Duration
	// Timeout bounds each provider API call.
	Timeout time.Duration
	Tracer  trace.Tracer
	Meter   metric.Meter
}

// Service handles verified webhook deliveries.
type Service struct {
	stripe   StripeVerifier
	paypal   PayPalAPI
	claims   Claimer
	notifier Dispatcher
	eventTTL time.Duration
	timeout  time.Duration

	tracer   trace.Tracer
	verified metric.Int64Counter
}

// NewService creates a Service. A nil stripe or paypal dependency means the
// provider is not configured and its deliveries fail with a ConfigError.
func NewService(cfg Config, stripe StripeVerifier, paypal PayPalAPI, claims Claimer, notifier Dispatcher) (*Service, error) {
	if cfg.EventTTL <= 0 {
		cfg.EventTTL = 72 * time.Hour
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Tracer == nil {
		cfg.Tracer = tracenoop.NewTracerProvider().Tracer("")
	}
	if cfg.Meter == nil {
		cfg.Meter = noop.NewMeterProvider().Meter("")
	}

	verified, err := cfg.Meter.Int64Counter("webhook.verified",
		metric.WithDescription("Verified webhook deliveries by provider and outcome"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create verified counter")
	}

	return &Service{
		stripe:   stripe,
		paypal:   paypal,
		claims:   claims,
		notifier: notifier,
		eventTTL: cfg.EventTTL,
		timeout:  cfg.Timeout,
		tracer:   cfg.Tracer,
		verified: verified,
	}, nil
}

// HandleStripe verifies and processes one Stripe delivery.
func (s *Service) HandleStripe(ctx context.Context, payload []byte, signature string) (Outcome, error) {
	ctx, span := s.tracer.Start(ctx, "webhook.HandleStripe")
	defer span.End()

	if s.stripe == nil {
		return "", &provider.ConfigError{Variable: "STRIPE_WEBHOOK_SECRET"}
	}

	ev, err := s.stripe.ConstructEvent(payload, signature)
	if err != nil {
		span.SetStatus(codes.Error, "signature")
		return "", err
	}
	lg := zctx.From(ctx).With(zap.String("event_id", ev.ID), zap.String("event_type", ev.Type))
	span.SetAttributes(attribute.String("event.id", ev.ID), attribute.String("event.type", ev.Type))

	n, ok := ev.ToNotification()
	if !ok {
		lg.Debug("Ignoring Stripe event")
		s.count(ctx, provider.Stripe, OutcomeIgnored)
		return OutcomeIgnored, nil
	}

	return s.deliver(ctx, lg, provider.Stripe, ev.ID, n), nil
}

// HandlePayPal verifies, enriches and processes one PayPal delivery.
func (s *Service) HandlePayPal(ctx context.Context, h PayPalHeaders, body []byte) (Outcome, error) {
	ctx, span := s.tracer.Start(ctx, "webhook.HandlePayPal")
	defer span.End()

	if s.paypal == nil {
		return "", &provider.ConfigError{Variable: "PAYPAL_CLIENT_ID, PAYPAL_CLIENT_SECRET, PAYPAL_WEBHOOK_ID"}
	}

	var ev PayPalEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return "", errors.Wrap(ErrInvalidPayload, err.Error())
	}

	verifyCtx, cancel := context.WithTimeout(ctx, s.timeout)
	err := s.paypal.VerifyWebhookSignature(verifyCtx, h, body)
	cancel()
	if err != nil {
		span.SetStatus(codes.Error, "signature")
		return "", err
	}
	lg := zctx.From(ctx).With(zap.String("event_id", ev.ID), zap.String("event_type", ev.EventType))
	span.SetAttributes(attribute.String("event.id", ev.ID), attribute.String("event.type", ev.EventType))

	n := ev.ToNotification()
	s.enrichPayPal(ctx, lg, &ev, n)

	if !n.Total.IsPositive() {
		return "", ErrMissingTotal
	}

	return s.deliver(ctx, lg, provider.PayPal, ev.ID, n), nil
}

// enrichPayPal fetches the full order behind the event. Failures only cost
// detail and are logged.
func (s *Service) enrichPayPal(ctx context.Context, lg *zap.Logger, ev *PayPalEvent, n *order.Notification) {
	if ev.Resource.ID == "" {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	switch ev.EventType {
	case PayPalCheckoutOrderApproved:
		ord, err := s.paypal.GetOrder(ctx, ev.Resource.ID)
		if err != nil {
			lg.Warn("Fetch PayPal order details", zap.Error(err))
			return
		}
		Enrich(n, ord)
	case PayPalPaymentCaptureCompleted:
		capture, err := s.paypal.GetCapture(ctx, ev.Resource.ID)
		if err != nil {
			lg.Warn("Fetch PayPal capture", zap.Error(err))
			return
		}
		href := capture.OrderLink()
		if href == "" {
			lg.Warn("PayPal capture has no order link")
			return
		}
		ord, err := s.paypal.GetByHref(ctx, href)
		if err != nil {
			lg.Warn("Expand PayPal capture to order", zap.Error(err))
			return
		}
		Enrich(n, ord)
	}
}

// deliver claims the event id and dispatches the notification. Dispatch
// errors are logged and swallowed, so the provider sees success and does not
// retry. The event claim is still released to admit a manual resend of the
// same event from the provider dashboard.
func (s *Service) deliver(ctx context.Context, lg *zap.Logger, p provider.Name, eventID string, n *order.Notification) Outcome {
	key := EventKey(p, eventID)
	if s.claims.Claim(ctx, key, s.eventTTL) == guard.Duplicate {
		lg.Info("Webhook event already processed")
		s.count(ctx, p, OutcomeDuplicate)
		return OutcomeDuplicate
	}

	lg = lg.With(zap.String("order_number", n.OrderNumber))
	res, err := s.notifier.Dispatch(ctx, n)
	if err != nil {
		var cfgErr *provider.ConfigError
		if errors.As(err, &cfgErr) {
			lg.Error("Notification channel not configured", zap.String("missing", cfgErr.Variable))
		} else {
			lg.Error("Dispatch notification", zap.Error(err))
			s.claims.Release(ctx, key)
		}
	} else {
		lg.Info("Webhook processed", zap.String("notification", string(res)))
	}

	s.count(ctx, p, OutcomeProcessed)
	return OutcomeProcessed
}

func (s *Service) count(ctx context.Context, p provider.Name, outcome Outcome) {
	s.verified.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", string(p)),
		attribute.String("outcome", string(outcome)),
	))
}
