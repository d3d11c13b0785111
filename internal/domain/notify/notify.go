// Package notify delivers paid-order notifications to staff exactly once per
// order number, on a best-effort basis.
package notify

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"github.com/xenking/kaledukampelis/internal/domain/guard"
	"github.com/xenking/kaledukampelis/internal/domain/order"
	"github.com/xenking/kaledukampelis/internal/domain/provider"
)

// Result describes what Dispatch did.
type Result string

const (
	ResultSent      Result = "sent"
	ResultDuplicate Result = "duplicate"
	ResultSkipped   Result = "skipped"
)

// Sender delivers a rendered notification to the staff channel.
type Sender interface {
	SendOrder(ctx context.Context, n *order.Notification) error
}

// Claimer is the subset of guard.Guard the dispatcher needs.
type Claimer interface {
	Claim(ctx context.Context, key string, ttl time.Duration) guard.Outcome
	Release(ctx context.Context, key string)
}

// Key returns the dedup key for an order number.
func Key(orderNumber string) string {
	return "notify:order:" + orderNumber
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLedger records every admitted order in repo before delivery.
func WithLedger(repo order.Repository) Option {
	return func(d *Dispatcher) { d.ledger = repo }
}

// WithMeter sets the meter used for delivery counters.
func WithMeter(m metric.Meter) Option {
	return func(d *Dispatcher) { d.meter = m }
}

// WithTimeout bounds each delivery attempt.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) { d.timeout = timeout }
}

// Dispatcher forwards notifications, suppressing repeats for the same order.
type Dispatcher struct {
	claims  Claimer
	sender  Sender
	ledger  order.Repository
	ttl     time.Duration
	timeout time.Duration

	meter      metric.Meter
	dispatched metric.Int64Counter
}

// NewDispatcher creates a Dispatcher. A nil sender means the staff channel
// is not configured; every dispatch then reports a configuration error.
func NewDispatcher(claims Claimer, sender Sender, ttl time.Duration, opts ...Option) (*Dispatcher, error) {
	d := &Dispatcher{
		claims:  claims,
		sender:  sender,
		ttl:     ttl,
		timeout: 5 * time.Second,
		meter:   noop.NewMeterProvider().Meter(""),
	}
	for _, opt := range opts {
		opt(d)
	}

	var err error
	d.dispatched, err = d.meter.Int64Counter("notify.dispatched",
		metric.WithDescription("Order notifications by result"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create dispatched counter")
	}
	return d, nil
}

// Dispatch delivers n unless a notification for the same order number was
// already admitted. On delivery failure the claim is released so that a
// later attempt for the order can deliver: the storefront's notify-discord
// call, the other provider event for the same order, or a manual resend.
func (d *Dispatcher) Dispatch(ctx context.Context, n *order.Notification) (Result, error) {
	if err := n.Validate(); err != nil {
		return "", errors.Wrap(err, "validate notification")
	}

	lg := zctx.From(ctx).With(
		zap.String("order_number", n.OrderNumber),
		zap.String("provider", string(n.Provider)),
	)

	if d.sender == nil {
		lg.Error("Discord not configured, notification skipped")
		d.count(ctx, n.Provider, ResultSkipped)
		return ResultSkipped, &provider.ConfigError{Variable: "DISCORD_WEBHOOK_URL"}
	}

	key := Key(n.OrderNumber)
	if d.claims.Claim(ctx, key, d.ttl) == guard.Duplicate {
		lg.Info("Notification already sent")
		d.count(ctx, n.Provider, ResultDuplicate)
		return ResultDuplicate, nil
	}

	// Record order.
	if d.ledger != nil {
		if err := d.ledger.Create(ctx, n.Record()); err != nil {
			lg.Warn("Record order in ledger", zap.Error(err))
		}
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if err := d.sender.SendOrder(sendCtx, n); err != nil {
		d.claims.Release(ctx, key)
		d.count(ctx, n.Provider, "failed")
		return "", errors.Wrap(err, "send notification")
	}

	lg.Info("Notification sent")
	d.count(ctx, n.Provider, ResultSent)
	return ResultSent, nil
}

func (d *Dispatcher) count(ctx context.Context, p provider.Name, result Result) {
	d.dispatched.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", string(p)),
		attribute.String("result", string(result)),
	))
}
