// Package payment starts payments with the card and PayPal providers.
package payment

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kaledukampelis/internal/domain/order"
)

// Sentinel errors for payment requests.
var (
	ErrMissingOrderID = errors.New("order id required")
)

// AmountMismatchError indicates the client amount disagrees with the
// server-side quote of the submitted cart.
type AmountMismatchError struct {
	Requested int64
	Expected  int64
}

func (e *AmountMismatchError) Error() string {
	return fmt.Sprintf("amount %d does not match cart total %d", e.Requested, e.Expected)
}

// Cart is the optional cart sent alongside a payment request so that the
// server can recompute the total.
type Cart struct {
	Items    []order.LineItem
	GiftWrap bool
}

// IntentParams are the provider-level inputs of a card PaymentIntent.
type IntentParams struct {
	AmountCents int64
	Currency    string
	Metadata    map[string]string
}

// Intent is a created PaymentIntent.
type Intent struct {
	ID           string
	ClientSecret string
}

// SessionParams are the provider-level inputs of a hosted checkout session.
type SessionParams struct {
	AmountCents      int64
	Currency         string
	ProductName      string
	CustomerEmail    string
	Metadata         map[string]string
	SuccessURL       string
	CancelURL        string
	AllowedCountries []string
}

// Session is a created hosted checkout session.
type Session struct {
	ID  string
	URL string
}

// StripeGateway creates card payments.
type StripeGateway interface {
	CreatePaymentIntent(ctx context.Context, p IntentParams) (*Intent, error)
	CreateCheckoutSession(ctx context.Context, p SessionParams) (*Session, error)
}

// PayPalLine is one item line of a PayPal order.
type PayPalLine struct {
	Name       string
	Quantity   int
	UnitAmount decimal.Decimal
}

// PayPalBreakdown splits a PayPal order amount. The parts must add up to
// the order amount.
type PayPalBreakdown struct {
	ItemTotal decimal.Decimal
	Shipping  decimal.Decimal
	Handling  decimal.Decimal
}

// PayPalOrderParams are the provider-level inputs of a PayPal order.
type PayPalOrderParams struct {
	OrderNumber string
	Currency    string
	Amount      decimal.Decimal
	Items       []PayPalLine
	Breakdown   *PayPalBreakdown
}

// PayPalOrder is a created PayPal order.
type PayPalOrder struct {
	ID         string
	Status     string
	ApproveURL string
}

// PayPalCapture is the result of capturing an approved order.
type PayPalCapture struct {
	OrderID     string
	CaptureID   string
	Status      string
	OrderNumber string
	Amount      decimal.Decimal
	Currency    string
}

// PayPalGateway creates and captures PayPal orders.
type PayPalGateway interface {
	CreateOrder(ctx context.Context, p PayPalOrderParams) (*PayPalOrder, error)
	CaptureOrder(ctx context.Context, orderID string) (*PayPalCapture, error)
}

// FeePolicy passes the PayPal processing fee on to the buyer.
type FeePolicy struct {
	Enabled bool
	Fixed   decimal.Decimal
	Rate    decimal.Decimal
}

// DefaultFee is PayPal's standard European rate.
var DefaultFee = FeePolicy{
	Fixed: decimal.RequireFromString("0.35"),
	Rate:  decimal.RequireFromString("0.029"),
}

// Apply returns the amount to charge so that base remains after the fee,
// (base + fixed) / (1 - rate), rounded to cents.
func (f FeePolicy) Apply(base decimal.Decimal) decimal.Decimal {
	if !f.Enabled {
		return base
	}
	return base.Add(f.Fixed).Div(decimal.NewFromInt(1).Sub(f.Rate)).Round(2)
}
