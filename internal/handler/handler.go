// Package handler serves the checkout API over HTTP: JSON in, JSON out, with
// domain errors mapped to status codes.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/kaledukampelis/internal/domain/newsletter"
	"github.com/xenking/kaledukampelis/internal/domain/notify"
	"github.com/xenking/kaledukampelis/internal/domain/order"
	"github.com/xenking/kaledukampelis/internal/domain/payment"
	"github.com/xenking/kaledukampelis/internal/domain/webhook"
)

// Body size limits.
const (
	maxJSONBody    = 64 << 10
	maxWebhookBody = 1 << 20
)

// Payments starts and captures payments.
type Payments interface {
	Quote(cart payment.Cart) (order.Breakdown, error)
	CreatePaymentIntent(ctx context.Context, req payment.IntentRequest) (*payment.IntentResult, error)
	CreateCheckoutSession(ctx context.Context, req payment.SessionRequest) (*payment.SessionResult, error)
	CreatePayPalOrder(ctx context.Context, req payment.PayPalOrderRequest) (*payment.PayPalOrderResult, error)
	CapturePayPalOrder(ctx context.Context, orderID string) (*payment.PayPalCapture, error)
}

// Webhooks processes provider deliveries.
type Webhooks interface {
	HandleStripe(ctx context.Context, payload []byte, signature string) (webhook.Outcome, error)
	HandlePayPal(ctx context.Context, h webhook.PayPalHeaders, body []byte) (webhook.Outcome, error)
}

// Notifier delivers order notifications.
type Notifier interface {
	Dispatch(ctx context.Context, n *order.Notification) (notify.Result, error)
}

// Subscriptions registers newsletter subscribers.
type Subscriptions interface {
	Subscribe(ctx context.Context, email, clientKey string) error
}

var (
	_ Payments      = (*payment.Service)(nil)
	_ Webhooks      = (*webhook.Service)(nil)
	_ Notifier      = (*notify.Dispatcher)(nil)
	_ Subscriptions = (*newsletter.Service)(nil)
)

// HandlerConfig holds non-dependency configuration for the Handler.
type HandlerConfig struct {
	// DevEndpoints exposes the mock verify-payment endpoint.
	DevEndpoints bool
}

// Handler serves the API routes.
type Handler struct {
	payments   Payments
	webhooks   Webhooks
	notifier   Notifier
	newsletter Subscriptions
	// orders is optional; verify-payment consults it when set.
	orders order.Finder
	dev    bool
}

// NewHandler constructs a Handler. orders may be nil.
func NewHandler(
	cfg HandlerConfig,
	payments Payments,
	webhooks Webhooks,
	notifier Notifier,
	newsletter Subscriptions,
	orders order.Finder,
) *Handler {
	return &Handler{
		payments:   payments,
		webhooks:   webhooks,
		notifier:   notifier,
		newsletter: newsletter,
		orders:     orders,
		dev:        cfg.DevEndpoints,
	}
}

// Router returns a router with every API route registered.
func (h *Handler) Router() *chi.Mux {
	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/quote", h.Quote)
		r.Post("/create-payment-intent", h.CreatePaymentIntent)
		r.Post("/create-checkout-session", h.CreateCheckoutSession)
		r.Post("/create-paypal-order", h.CreatePayPalOrder)
		r.Post("/capture-paypal-order", h.CapturePayPalOrder)
		r.Post("/stripe-webhook", h.StripeWebhook)
		r.Post("/paypal-webhook", h.PayPalWebhook)
		r.Post("/notify-discord", h.NotifyDiscord)
		r.Post("/newsletter-subscribe", h.NewsletterSubscribe)
		if h.dev {
			r.Post("/verify-payment", h.VerifyPayment)
		}
	})
	return r
}
