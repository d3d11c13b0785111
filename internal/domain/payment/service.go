package payment

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/kaledukampelis/internal/domain/order"
	"github.com/xenking/kaledukampelis/internal/domain/provider"
)

const (
	currencyEUR = "eur"
	// Stripe rejects metadata values longer than this.
	maxMetadataValue   = 500
	defaultProductName = "Užsakymas"
)

// ShippingCountries are the countries the store ships to.
var ShippingCountries = []string{"LT", "LV", "EE"}

// IntentRequest holds the input for creating a card PaymentIntent.
type IntentRequest struct {
	AmountCents  int64
	Customer     order.Customer
	ItemsSummary string
	OrderNumber  string
	Cart         *Cart
}

// IntentResult holds the output of a created PaymentIntent.
type IntentResult struct {
	PaymentIntentID string
	ClientSecret    string
	OrderNumber     string
}

// SessionRequest holds the input for creating a hosted checkout session.
type SessionRequest struct {
	AmountCents  int64
	Customer     order.Customer
	ItemsSummary string
	OrderNumber  string
	Cart         *Cart
	// Origin is the storefront origin the browser sent, used for default
	// return URLs.
	Origin     string
	SuccessURL string
	CancelURL  string
}

// SessionResult holds the output of a created checkout session.
type SessionResult struct {
	ID          string
	URL         string
	OrderNumber string
}

// PayPalOrderRequest holds the input for creating a PayPal order.
type PayPalOrderRequest struct {
	AmountCents int64
	OrderNumber string
	Cart        *Cart
}

// PayPalOrderResult holds the output of a created PayPal order.
type PayPalOrderResult struct {
	ID          string
	Status      string
	ApproveURL  string
	OrderNumber string
	Amount      decimal.Decimal
}

// Config holds non-dependency configuration for the Service.
type Config struct {
	Pricing   order.PricingPolicy
	Fee       FeePolicy
	PublicURL string
	Timeout   time.Duration
}

// Service encapsulates payment creation business logic.
type Service struct {
	stripe    StripeGateway
	paypal    PayPalGateway
	pricing   order.PricingPolicy
	fee       FeePolicy
	publicURL string
	timeout   time.Duration
	now       func() time.Time
}

// NewService creates a payment Service. A nil gateway means the provider is
// not configured; requests for it fail with a ConfigError.
func NewService(cfg Config, stripe StripeGateway, paypal PayPalGateway) *Service {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Service{
		stripe:    stripe,
		paypal:    paypal,
		pricing:   cfg.Pricing,
		fee:       cfg.Fee,
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
		timeout:   cfg.Timeout,
		now:       time.Now,
	}
}

// Quote prices a cart with the configured policy.
func (s *Service) Quote(cart Cart) (order.Breakdown, error) {
	return order.Quote(cart.Items, cart.GiftWrap, s.pricing)
}

// CreatePaymentIntent creates a card PaymentIntent for the given amount and
// returns its client secret together with the order number stored on it.
func (s *Service) CreatePaymentIntent(ctx context.Context, req IntentRequest) (*IntentResult, error) {
	if s.stripe == nil {
		return nil, &provider.ConfigError{Variable: "STRIPE_SECRET_KEY"}
	}
	if err := s.checkAmount(req.AmountCents, req.Cart); err != nil {
		return nil, err
	}

	orderNumber := s.orderNumber(req.OrderNumber)
	summary := summary(req.ItemsSummary, req.Cart)

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	intent, err := s.stripe.CreatePaymentIntent(callCtx, IntentParams{
		AmountCents: req.AmountCents,
		Currency:    currencyEUR,
		Metadata:    metadata(req.Customer, summary, orderNumber),
	})
	if err != nil {
		zctx.From(ctx).Error("Create PaymentIntent", zap.String("order_number", orderNumber), zap.Error(err))
		return nil, providerError(provider.Stripe, err)
	}

	return &IntentResult{
		PaymentIntentID: intent.ID,
		ClientSecret:    intent.ClientSecret,
		OrderNumber:     orderNumber,
	}, nil
}

// CreateCheckoutSession creates a hosted checkout session with a single
// line item covering the whole amount.
func (s *Service) CreateCheckoutSession(ctx context.Context, req SessionRequest) (*SessionResult, error) {
	if s.stripe == nil {
		return nil, &provider.ConfigError{Variable: "STRIPE_SECRET_KEY"}
	}
	if err := s.checkAmount(req.AmountCents, req.Cart); err != nil {
		return nil, err
	}

	orderNumber := s.orderNumber(req.OrderNumber)
	summary := summary(req.ItemsSummary, req.Cart)

	origin := strings.TrimRight(req.Origin, "/")
	if origin == "" {
		origin = s.publicURL
	}
	successURL := req.SuccessURL
	if successURL == "" {
		successURL = origin + "/?status=paid"
	}
	cancelURL := req.CancelURL
	if cancelURL == "" {
		cancelURL = origin + "/?status=cancelled"
	}

	productName, _, _ := strings.Cut(summary, "\n")
	productName = strings.TrimSpace(productName)
	if productName == "" {
		productName = defaultProductName
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	session, err := s.stripe.CreateCheckoutSession(callCtx, SessionParams{
		AmountCents:      req.AmountCents,
		Currency:         currencyEUR,
		ProductName:      productName,
		CustomerEmail:    req.Customer.Email,
		Metadata:         metadata(req.Customer, summary, orderNumber),
		SuccessURL:       successURL,
		CancelURL:        cancelURL,
		AllowedCountries: ShippingCountries,
	})
	if err != nil {
		zctx.From(ctx).Error("Create Checkout Session", zap.String("order_number", orderNumber), zap.Error(err))
		return nil, providerError(provider.Stripe, err)
	}

	return &SessionResult{
		ID:          session.ID,
		URL:         session.URL,
		OrderNumber: orderNumber,
	}, nil
}

// CreatePayPalOrder creates a PayPal order for the amount, uplifted by the
// fee policy. When a cart is supplied its items and a breakdown are sent
// along and the fee is carried as handling.
func (s *Service) CreatePayPalOrder(ctx context.Context, req PayPalOrderRequest) (*PayPalOrderResult, error) {
	if s.paypal == nil {
		return nil, &provider.ConfigError{Variable: "PAYPAL_CLIENT_ID, PAYPAL_CLIENT_SECRET"}
	}
	if err := s.checkAmount(req.AmountCents, req.Cart); err != nil {
		return nil, err
	}

	orderNumber := s.orderNumber(req.OrderNumber)
	base := decimal.New(req.AmountCents, -2)
	amount := s.fee.Apply(base)

	params := PayPalOrderParams{
		OrderNumber: orderNumber,
		Currency:    "EUR",
		Amount:      amount,
	}
	if req.Cart != nil {
		quote, err := s.Quote(*req.Cart)
		if err != nil {
			return nil, err
		}
		for _, it := range req.Cart.Items {
			params.Items = append(params.Items, PayPalLine{
				Name:       it.Name,
				Quantity:   it.Quantity,
				UnitAmount: decimal.New(order.UnitCents(it), -2),
			})
		}
		params.Breakdown = &PayPalBreakdown{
			ItemTotal: decimal.New(quote.SubtotalCents, -2),
			Shipping:  decimal.New(quote.ShippingCents, -2),
			Handling:  decimal.New(quote.GiftWrapCents, -2).Add(amount.Sub(base)),
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	created, err := s.paypal.CreateOrder(callCtx, params)
	if err != nil {
		zctx.From(ctx).Error("Create PayPal order", zap.String("order_number", orderNumber), zap.Error(err))
		return nil, providerError(provider.PayPal, err)
	}

	return &PayPalOrderResult{
		ID:          created.ID,
		Status:      created.Status,
		ApproveURL:  created.ApproveURL,
		OrderNumber: orderNumber,
		Amount:      amount,
	}, nil
}

// CapturePayPalOrder captures an approved PayPal order and reports the
// captured amount.
func (s *Service) CapturePayPalOrder(ctx context.Context, orderID string) (*PayPalCapture, error) {
	if s.paypal == nil {
		return nil, &provider.ConfigError{Variable: "PAYPAL_CLIENT_ID, PAYPAL_CLIENT_SECRET"}
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, ErrMissingOrderID
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	capture, err := s.paypal.CaptureOrder(callCtx, orderID)
	if err != nil {
		zctx.From(ctx).Error("Capture PayPal order", zap.String("paypal_order_id", orderID), zap.Error(err))
		return nil, providerError(provider.PayPal, err)
	}
	return capture, nil
}

// checkAmount rejects non-positive amounts and, when a cart is present,
// amounts that differ from the server-side quote.
func (s *Service) checkAmount(amountCents int64, cart *Cart) error {
	if amountCents <= 0 {
		return order.ErrInvalidAmount
	}
	if cart == nil {
		return nil
	}
	quote, err := s.Quote(*cart)
	if err != nil {
		return err
	}
	if quote.TotalCents != amountCents {
		return &AmountMismatchError{Requested: amountCents, Expected: quote.TotalCents}
	}
	return nil
}

// orderNumber keeps a well-formed client order number, otherwise it mints
// a new one.
func (s *Service) orderNumber(requested string) string {
	requested = strings.TrimSpace(requested)
	if order.IsOrderNumber(requested) {
		return requested
	}
	return order.NewOrderNumber(s.now())
}

func summary(text string, cart *Cart) string {
	text = strings.TrimSpace(text)
	if text == "" && cart != nil {
		text = order.ItemsSummary(cart.Items)
	}
	return text
}

// metadata builds the PaymentIntent metadata. Every key is always present.
func metadata(c order.Customer, items, orderNumber string) map[string]string {
	return map[string]string{
		"name":     clip(c.Name),
		"surname":  clip(c.Surname),
		"email":    clip(c.Email),
		"phone":    clip(c.Phone),
		"address":  clip(formatAddress(c)),
		"items":    clip(items),
		"order_id": orderNumber,
	}
}

func formatAddress(c order.Customer) string {
	parts := make([]string, 0, 2)
	if a := strings.TrimSpace(c.Address); a != "" {
		parts = append(parts, a)
	}
	if rest := strings.TrimSpace(strings.TrimSpace(c.City) + " " + strings.TrimSpace(c.PostalCode)); rest != "" {
		parts = append(parts, rest)
	}
	return strings.Join(parts, ", ")
}

func clip(s string) string {
	if utf8.RuneCountInString(s) <= maxMetadataValue {
		return s
	}
	return string([]rune(s)[:maxMetadataValue])
}

// providerError normalizes a gateway failure into a provider.Error.
func providerError(p provider.Name, err error) error {
	var pErr *provider.Error
	if errors.As(err, &pErr) {
		if pErr.Message == "" {
			pErr.Message = provider.DefaultMessage
		}
		return pErr
	}
	return &provider.Error{Provider: p, Message: provider.DefaultMessage, Err: err}
}
