// Package stripe adapts stripe-go to the payment and webhook domains.
package stripe

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	stripego "github.com/stripe/stripe-go/v82"
	stripewebhook "github.com/stripe/stripe-go/v82/webhook"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/xenking/kaledukampelis/internal/domain/payment"
	"github.com/xenking/kaledukampelis/internal/domain/provider"
	"github.com/xenking/kaledukampelis/internal/domain/webhook"
)

// SignatureTolerance is the accepted age of a signed webhook delivery.
const SignatureTolerance = 300 * time.Second

// Config configures the Stripe adapter.
type Config struct {
	SecretKey     string
	WebhookSecret string
	Timeout       time.Duration
	// BaseURL overrides the API endpoint, mainly for tests.
	BaseURL string
	// Transport overrides the base HTTP transport.
	Transport http.RoundTripper
	Logger    *zap.Logger
}

// Client creates payments and verifies webhooks.
type Client struct {
	sc *stripego.Client
}

var _ payment.StripeGateway = (*Client)(nil)

// New creates a Client for the given secret key.
func New(cfg Config) *Client {
	base := cfg.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	lg := cfg.Logger
	if lg == nil {
		lg = zap.NewNop()
	}

	backendCfg := &stripego.BackendConfig{
		HTTPClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(base),
		},
		LeveledLogger:     lg.Named("stripe").Sugar(),
		MaxNetworkRetries: stripego.Int64(0),
	}
	if cfg.BaseURL != "" {
		backendCfg.URL = stripego.String(cfg.BaseURL)
	}

	return &Client{
		sc: stripego.NewClient(cfg.SecretKey,
			stripego.WithBackends(stripego.NewBackendsWithConfig(backendCfg)),
		),
	}
}

// CreatePaymentIntent creates a card PaymentIntent with automatic payment
// methods.
func (c *Client) CreatePaymentIntent(ctx context.Context, p payment.IntentParams) (*payment.Intent, error) {
	params := &stripego.PaymentIntentCreateParams{
		Amount:   stripego.Int64(p.AmountCents),
		Currency: stripego.String(p.Currency),
		AutomaticPaymentMethods: &stripego.PaymentIntentCreateAutomaticPaymentMethodsParams{
			Enabled: stripego.Bool(true),
		},
	}
	for k, v := range p.Metadata {
		params.AddMetadata(k, v)
	}

	pi, err := c.sc.V1PaymentIntents.Create(ctx, params)
	if err != nil {
		return nil, wrapError(err)
	}
	return &payment.Intent{ID: pi.ID, ClientSecret: pi.ClientSecret}, nil
}

// CreateCheckoutSession creates a hosted card checkout for a single line
// covering the whole amount.
func (c *Client) CreateCheckoutSession(ctx context.Context, p payment.SessionParams) (*payment.Session, error) {
	countries := make([]*string, 0, len(p.AllowedCountries))
	for _, cc := range p.AllowedCountries {
		countries = append(countries, stripego.String(cc))
	}

	params := &stripego.CheckoutSessionCreateParams{
		Mode:               stripego.String(string(stripego.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripego.StringSlice([]string{"card"}),
		SuccessURL:         stripego.String(p.SuccessURL),
		CancelURL:          stripego.String(p.CancelURL),
		LineItems: []*stripego.CheckoutSessionCreateLineItemParams{
			{
				PriceData: &stripego.CheckoutSessionCreateLineItemPriceDataParams{
					Currency: stripego.String(p.Currency),
					ProductData: &stripego.CheckoutSessionCreateLineItemPriceDataProductDataParams{
						Name: stripego.String(p.ProductName),
					},
					UnitAmount: stripego.Int64(p.AmountCents),
				},
				Quantity: stripego.Int64(1),
			},
		},
		PhoneNumberCollection: &stripego.CheckoutSessionCreatePhoneNumberCollectionParams{
			Enabled: stripego.Bool(true),
		},
		ShippingAddressCollection: &stripego.CheckoutSessionCreateShippingAddressCollectionParams{
			AllowedCountries: countries,
		},
		PaymentIntentData: &stripego.CheckoutSessionCreatePaymentIntentDataParams{
			Metadata: p.Metadata,
		},
	}
	if p.CustomerEmail != "" {
		params.CustomerEmail = stripego.String(p.CustomerEmail)
	}
	for k, v := range p.Metadata {
		params.AddMetadata(k, v)
	}

	s, err := c.sc.V1CheckoutSessions.Create(ctx, params)
	if err != nil {
		return nil, wrapError(err)
	}
	return &payment.Session{ID: s.ID, URL: s.URL}, nil
}

func wrapError(err error) error {
	msg := provider.DefaultMessage
	var sErr *stripego.Error
	if errors.As(err, &sErr) && sErr.Msg != "" {
		msg = sErr.Msg
	}
	return &provider.Error{Provider: provider.Stripe, Message: msg, Err: err}
}

// Verifier checks Stripe-Signature headers with the endpoint secret.
type Verifier struct {
	secret    string
	tolerance time.Duration
}

var _ webhook.StripeVerifier = (*Verifier)(nil)

// NewVerifier creates a Verifier for the endpoint signing secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: secret, tolerance: SignatureTolerance}
}

// ConstructEvent verifies the signature over the raw payload and decodes
// the event. The PaymentIntent is decoded for payment_intent.* events.
func (v *Verifier) ConstructEvent(payload []byte, signature string) (*webhook.StripeEvent, error) {
	evt, err := stripewebhook.ConstructEventWithOptions(payload, signature, v.secret, stripewebhook.ConstructEventOptions{
		Tolerance:                v.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, errors.Wrap(webhook.ErrInvalidSignature, err.Error())
	}

	out := &webhook.StripeEvent{
		ID:   evt.ID,
		Type: string(evt.Type),
	}
	if evt.Data == nil || evt.Data.Object["object"] != "payment_intent" {
		return out, nil
	}

	var pi stripego.PaymentIntent
	if err := json.Unmarshal(evt.Data.Raw, &pi); err != nil {
		return nil, errors.Wrap(webhook.ErrInvalidPayload, err.Error())
	}
	out.PaymentIntent = &webhook.StripePaymentIntent{
		ID:           pi.ID,
		Amount:       pi.Amount,
		Currency:     string(pi.Currency),
		ReceiptEmail: pi.ReceiptEmail,
		Metadata:     pi.Metadata,
	}
	return out, nil
}
