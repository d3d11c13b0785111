package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kaledukampelis/internal/domain/newsletter"
	"github.com/xenking/kaledukampelis/internal/domain/notify"
	"github.com/xenking/kaledukampelis/internal/domain/order"
	"github.com/xenking/kaledukampelis/internal/domain/payment"
	"github.com/xenking/kaledukampelis/internal/domain/provider"
	"github.com/xenking/kaledukampelis/internal/domain/webhook"
)

// --- Mock implementations ---

type mockPayments struct {
	lastIntent  payment.IntentRequest
	lastSession payment.SessionRequest
	lastPayPal  payment.PayPalOrderRequest
	lastCapture string
	err         error
}

func (m *mockPayments) Quote(cart payment.Cart) (order.Breakdown, error) {
	if m.err != nil {
		return order.Breakdown{}, m.err
	}
	return order.Quote(cart.Items, cart.GiftWrap, order.DefaultPricing)
}

func (m *mockPayments) CreatePaymentIntent(_ context.Context, req payment.IntentRequest) (*payment.IntentResult, error) {
	m.lastIntent = req
	if m.err != nil {
		return nil, m.err
	}
	return &payment.IntentResult{PaymentIntentID: "pi_1", ClientSecret: "pi_1_secret", OrderNumber: "ORD-1-1"}, nil
}

func (m *mockPayments) CreateCheckoutSession(_ context.Context, req payment.SessionRequest) (*payment.SessionResult, error) {
	m.lastSession = req
	if m.err != nil {
		return nil, m.err
	}
	return &payment.SessionResult{ID: "cs_1", URL: "https://checkout.test/cs_1", OrderNumber: "ORD-1-1"}, nil
}

func (m *mockPayments) CreatePayPalOrder(_ context.Context, req payment.PayPalOrderRequest) (*payment.PayPalOrderResult, error) {
	m.lastPayPal = req
	if m.err != nil {
		return nil, m.err
	}
	return &payment.PayPalOrderResult{
		ID:          "PP-1",
		Status:      "CREATED",
		ApproveURL:  "https://paypal.test/approve",
		OrderNumber: "ORD-1-1",
		Amount:      decimal.RequireFromString("10.66"),
	}, nil
}

func (m *mockPayments) CapturePayPalOrder(_ context.Context, orderID string) (*payment.PayPalCapture, error) {
	m.lastCapture = orderID
	if m.err != nil {
		return nil, m.err
	}
	return &payment.PayPalCapture{
		OrderID:     orderID,
		CaptureID:   "CAP-1",
		Status:      "COMPLETED",
		OrderNumber: "ORD-1-1",
		Amount:      decimal.RequireFromString("10.66"),
		Currency:    "EUR",
	}, nil
}

type mockWebhooks struct {
	lastPayload   []byte
	lastSignature string
	lastHeaders   webhook.PayPalHeaders
	outcome       webhook.Outcome
	err           error
}

func (m *mockWebhooks) HandleStripe(_ context.Context, payload []byte, signature string) (webhook.Outcome, error) {
	m.lastPayload = payload
	m.lastSignature = signature
	return m.outcome, m.err
}

func (m *mockWebhooks) HandlePayPal(_ context.Context, h webhook.PayPalHeaders, body []byte) (webhook.Outcome, error) {
	m.lastHeaders = h
	m.lastPayload = body
	return m.outcome, m.err
}

type mockNotifier struct {
	last *order.Notification
	err  error
}

func (m *mockNotifier) Dispatch(_ context.Context, n *order.Notification) (notify.Result, error) {
	m.last = n
	if m.err != nil {
		return "", m.err
	}
	if err := n.Validate(); err != nil {
		return "", err
	}
	return notify.ResultSent, nil
}

type mockSubscriptions struct {
	lastEmail string
	lastKey   string
	err       error
}

func (m *mockSubscriptions) Subscribe(_ context.Context, email, clientKey string) error {
	m.lastEmail = email
	m.lastKey = clientKey
	return m.err
}

type mockFinder struct {
	records map[string]*order.Record
	err     error
}

func (m *mockFinder) Get(_ context.Context, orderNumber string) (*order.Record, error) {
	if m.err != nil {
		return nil, m.err
	}
	rec, ok := m.records[orderNumber]
	if !ok {
		return nil, order.ErrNotFound
	}
	return rec, nil
}

// --- Helpers ---

type testDeps struct {
	payments   *mockPayments
	webhooks   *mockWebhooks
	notifier   *mockNotifier
	newsletter *mockSubscriptions
}

func newTestRouter(t *testing.T, cfg HandlerConfig, orders order.Finder) (http.Handler, *testDeps) {
	t.Helper()
	deps := &testDeps{
		payments:   &mockPayments{},
		webhooks:   &mockWebhooks{outcome: webhook.OutcomeProcessed},
		notifier:   &mockNotifier{},
		newsletter: &mockSubscriptions{},
	}
	h := NewHandler(cfg, deps.payments, deps.webhooks, deps.notifier, deps.newsletter, orders)
	return h.Router(), deps
}

func do(t *testing.T, h http.Handler, path, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// --- Tests ---

func TestRouter_NotFound(t *testing.T) {
	r, _ := newTestRouter(t, HandlerConfig{}, nil)

	rec := do(t, r, "/api/nope", "{}", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"Not found"}`, rec.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/api/create-payment-intent", nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestQuote(t *testing.T) {
	r, _ := newTestRouter(t, HandlerConfig{}, nil)

	rec := do(t, r, "/api/quote", `{"items":[{"id":"p1","name":"Kalėdinė žvakė","price":12.5,"quantity":2}],"giftWrap":true}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{
		"subtotalCents": 2500,
		"shippingCents": 299,
		"giftWrapCents": 299,
		"totalCents": 3098,
		"freeShipping": false,
		"total": "30.98"
	}`, rec.Body.String())
}

func TestQuote_ExponentPriceRejected(t *testing.T) {
	r, _ := newTestRouter(t, HandlerConfig{}, nil)

	rec := do(t, r, "/api/quote", `{"items":[{"id":"p1","name":"A","price":1e10000000,"quantity":1}]}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQuote_EmptyCart(t *testing.T) {
	r, _ := newTestRouter(t, HandlerConfig{}, nil)

	rec := do(t, r, "/api/quote", `{"items":[]}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"Cart is empty"}`, rec.Body.String())
}

func TestCreatePaymentIntent(t *testing.T) {
	r, deps := newTestRouter(t, HandlerConfig{}, nil)

	body := `{"amount":2799,"name":"Ona","surname":"Onaitė","email":"ona@example.com","items":"Žvakė × 1","orderNumber":"ORD-5-1"}`
	rec := do(t, r, "/api/create-payment-intent", body, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"clientSecret":"pi_1_secret","orderNumber":"ORD-1-1","paymentIntentId":"pi_1"}`, rec.Body.String())

	got := deps.payments.lastIntent
	assert.Equal(t, int64(2799), got.AmountCents)
	assert.Equal(t, "Ona", got.Customer.Name)
	assert.Equal(t, "ona@example.com", got.Customer.Email)
	assert.Equal(t, "Žvakė × 1", got.ItemsSummary)
	assert.Equal(t, "ORD-5-1", got.OrderNumber)
	assert.Nil(t, got.Cart)
}

func TestCreatePaymentIntent_InvalidAmount(t *testing.T) {
	r, _ := newTestRouter(t, HandlerConfig{}, nil)

	for _, body := range []string{
		`{"amount":"2799"}`,
		`{"amount":0}`,
		`{"amount":-5}`,
		`{"amount":12.5}`,
		`{"amount":1e3}`,
		`{"amount":1e10000000}`,
		`{"amount":"1e10000000"}`,
		`{}`,
		`not json`,
	} {
		t.Run(body, func(t *testing.T) {
			rec := do(t, r, "/api/create-payment-intent", body, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.JSONEq(t, `{"error":"Invalid amount"}`, rec.Body.String())
		})
	}
}

func TestCreatePaymentIntent_BodyTooLarge(t *testing.T) {
	r, _ := newTestRouter(t, HandlerConfig{}, nil)

	body := `{"amount":100,"items":"` + strings.Repeat("x", maxJSONBody) + `"}`
	rec := do(t, r, "/api/create-payment-intent", body, nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestCreatePaymentIntent_Errors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		body   string
	}{
		{
			name:   "not configured",
			err:    &provider.ConfigError{Variable: "STRIPE_SECRET_KEY"},
			status: http.StatusInternalServerError,
			body:   `{"error":"Missing STRIPE_SECRET_KEY"}`,
		},
		{
			name:   "provider message",
			err:    &provider.Error{Provider: provider.Stripe, Message: "Your card was declined."},
			status: http.StatusInternalServerError,
			body:   `{"error":"Your card was declined."}`,
		},
		{
			name:   "cart mismatch",
			err:    &payment.AmountMismatchError{Requested: 2500, Expected: 2799},
			status: http.StatusBadRequest,
			body:   `{"error":"Amount does not match cart total"}`,
		},
		{
			name:   "unexpected",
			err:    errors.New("boom"),
			status: http.StatusInternalServerError,
			body:   `{"error":"Internal error"}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, deps := newTestRouter(t, HandlerConfig{}, nil)
			deps.payments.err = tt.err

			rec := do(t, r, "/api/create-payment-intent", `{"amount":2500}`, nil)
			assert.Equal(t, tt.status, rec.Code)
			assert.JSONEq(t, tt.body, rec.Body.String())
		})
	}
}

func TestCreateCheckoutSession(t *testing.T) {
	r, deps := newTestRouter(t, HandlerConfig{}, nil)

	body := `{"amount":1000,"orderId":"ORD-7-2","cart":{"items":[{"id":"p1","name":"A","price":10,"quantity":1}],"giftWrap":false},"successUrl":"https://shop.test/ok"}`
	rec := do(t, r, "/api/create-checkout-session", body, http.Header{"Origin": {"https://shop.test"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"id":"cs_1","url":"https://checkout.test/cs_1","orderNumber":"ORD-1-1"}`, rec.Body.String())

	got := deps.payments.lastSession
	assert.Equal(t, "https://shop.test", got.Origin)
	assert.Equal(t, "ORD-7-2", got.OrderNumber)
	assert.Equal(t, "https://shop.test/ok", got.SuccessURL)
	require.NotNil(t, got.Cart)
	require.Len(t, got.Cart.Items, 1)
	assert.Equal(t, "p1", got.Cart.Items[0].ProductID)
}

func TestCreatePayPalOrder(t *testing.T) {
	r, deps := newTestRouter(t, HandlerConfig{}, nil)

	rec := do(t, r, "/api/create-paypal-order", `{"amount":1000}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{
		"id": "PP-1",
		"status": "CREATED",
		"amount": "10.66",
		"orderNumber": "ORD-1-1",
		"approveUrl": "https://paypal.test/approve"
	}`, rec.Body.String())
	assert.Equal(t, int64(1000), deps.payments.lastPayPal.AmountCents)
}

func TestCapturePayPalOrder(t *testing.T) {
	r, deps := newTestRouter(t, HandlerConfig{}, nil)

	rec := do(t, r, "/api/capture-paypal-order", `{"orderID":"PP-1"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "PP-1", deps.payments.lastCapture)
	assert.JSONEq(t, `{
		"id": "PP-1",
		"status": "COMPLETED",
		"captureId": "CAP-1",
		"amount": "10.66",
		"currency": "EUR",
		"orderNumber": "ORD-1-1"
	}`, rec.Body.String())
}

func TestCapturePayPalOrder_MissingID(t *testing.T) {
	r, deps := newTestRouter(t, HandlerConfig{}, nil)
	deps.payments.err = payment.ErrMissingOrderID

	rec := do(t, r, "/api/capture-paypal-order", `{}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"Missing orderID"}`, rec.Body.String())
}

func TestStripeWebhook(t *testing.T) {
	r, deps := newTestRouter(t, HandlerConfig{}, nil)

	payload := `{"id":"evt_1","type":"payment_intent.succeeded"}`
	rec := do(t, r, "/api/stripe-webhook", payload, http.Header{"Stripe-Signature": {"t=1,v1=abc"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
	assert.Equal(t, payload, string(deps.webhooks.lastPayload))
	assert.Equal(t, "t=1,v1=abc", deps.webhooks.lastSignature)
}

func TestPayPalWebhook_Headers(t *testing.T) {
	r, deps := newTestRouter(t, HandlerConfig{}, nil)

	rec := do(t, r, "/api/paypal-webhook", `{"id":"WH-1"}`, http.Header{
		"Paypal-Transmission-Id":   {"tid"},
		"Paypal-Transmission-Time": {"2026-01-01T00:00:00Z"},
		"Paypal-Cert-Url":          {"https://api.paypal.com/cert"},
		"Paypal-Auth-Algo":         {"SHA256withRSA"},
		"Paypal-Transmission-Sig":  {"sig"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, webhook.PayPalHeaders{
		TransmissionID:   "tid",
		TransmissionTime: "2026-01-01T00:00:00Z",
		CertURL:          "https://api.paypal.com/cert",
		AuthAlgo:         "SHA256withRSA",
		TransmissionSig:  "sig",
	}, deps.webhooks.lastHeaders)
}

func TestWebhook_Errors(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		err    error
		status int
		body   string
	}{
		{"stripe signature", "/api/stripe-webhook", webhook.ErrInvalidSignature, http.StatusBadRequest, `{"error":"Invalid signature"}`},
		{"stripe not configured", "/api/stripe-webhook", &provider.ConfigError{Variable: "STRIPE_WEBHOOK_SECRET"}, http.StatusInternalServerError, `{"error":"Server not configured for Stripe verification"}`},
		{"paypal auth", "/api/paypal-webhook", errors.Wrap(webhook.ErrProviderAuth, "token"), http.StatusUnauthorized, `{"error":"PayPal auth failed"}`},
		{"paypal signature", "/api/paypal-webhook", webhook.ErrInvalidSignature, http.StatusBadRequest, `{"error":"Invalid signature"}`},
		{"paypal payload", "/api/paypal-webhook", errors.Wrap(webhook.ErrInvalidPayload, "json"), http.StatusBadRequest, `{"error":"Invalid payload"}`},
		{"paypal total", "/api/paypal-webhook", webhook.ErrMissingTotal, http.StatusBadRequest, `{"error":"No total in webhook payload"}`},
		{"paypal not configured", "/api/paypal-webhook", &provider.ConfigError{Variable: "PAYPAL_WEBHOOK_ID"}, http.StatusInternalServerError, `{"error":"Server not configured for PayPal verification"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, deps := newTestRouter(t, HandlerConfig{}, nil)
			deps.webhooks.err = tt.err

			rec := do(t, r, tt.path, `{}`, nil)
			assert.Equal(t, tt.status, rec.Code)
			assert.JSONEq(t, tt.body, rec.Body.String())
		})
	}
}

func TestNotifyDiscord(t *testing.T) {
	r, deps := newTestRouter(t, HandlerConfig{}, nil)

	body := `{
		"provider": "paypal",
		"orderNumber": "ORD-9-1",
		"total": "€27,99",
		"items": [{"name":"Žvakė","quantity":1,"price":27.99}],
		"customer": {"name":"Ona","email":"ona@example.com"}
	}`
	rec := do(t, r, "/api/notify-discord", body, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())

	n := deps.notifier.last
	require.NotNil(t, n)
	assert.Equal(t, provider.PayPal, n.Provider)
	assert.Equal(t, "ORD-9-1", n.OrderNumber)
	assert.True(t, n.Total.Equal(decimal.RequireFromString("27.99")))
	assert.Equal(t, "Ona", n.Customer.Name)
	require.Len(t, n.Items, 1)
}

func TestNotifyDiscord_Errors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		status int
	}{
		{"bad json", `{`, nil, http.StatusBadRequest},
		{"bad total", `{"orderNumber":"ORD-1-1","total":"abc"}`, nil, http.StatusBadRequest},
		{"exponent total", `{"orderNumber":"ORD-1-1","total":"1e10000000"}`, nil, http.StatusBadRequest},
		{"exponent item price", `{"orderNumber":"ORD-1-1","total":10,"items":[{"name":"x","quantity":1,"price":1e10000000}]}`, nil, http.StatusBadRequest},
		{"missing order number", `{"total":10}`, nil, http.StatusBadRequest},
		{"not configured", `{"orderNumber":"ORD-1-1","total":10}`, &provider.ConfigError{Variable: "DISCORD_WEBHOOK_URL"}, http.StatusInternalServerError},
		{"delivery failed", `{"orderNumber":"ORD-1-1","total":10}`, errors.New("discord 500"), http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, deps := newTestRouter(t, HandlerConfig{}, nil)
			deps.notifier.err = tt.err

			rec := do(t, r, "/api/notify-discord", tt.body, nil)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

func TestNewsletterSubscribe(t *testing.T) {
	r, deps := newTestRouter(t, HandlerConfig{}, nil)

	rec := do(t, r, "/api/newsletter-subscribe", `{"email":"Ona@Example.com"}`, http.Header{"X-Forwarded-For": {"203.0.113.7, 10.0.0.1"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
	assert.Equal(t, "Ona@Example.com", deps.newsletter.lastEmail)
	assert.Equal(t, "203.0.113.7", deps.newsletter.lastKey)
}

func TestNewsletterSubscribe_Errors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		body   string
	}{
		{"invalid", newsletter.ErrInvalidEmail, http.StatusBadRequest, `{"error":"Invalid email"}`},
		{"duplicate", newsletter.ErrAlreadySubscribed, http.StatusConflict, `{"error":"Šis el. paštas jau užregistruotas."}`},
		{"not configured", &provider.ConfigError{Variable: "RESEND_API_KEY"}, http.StatusInternalServerError, `{"error":"Missing RESEND_API_KEY"}`},
		{"rate limited", &newsletter.RateLimitedError{RetryAfter: 90 * time.Second}, http.StatusTooManyRequests, `{"error":"Too many requests"}`},
		{
			"delivery",
			&newsletter.DeliveryError{Err: &provider.Error{Message: "Invalid from field."}},
			http.StatusBadGateway,
			`{"error":"Failed to deliver","details":"Invalid from field."}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, deps := newTestRouter(t, HandlerConfig{}, nil)
			deps.newsletter.err = tt.err

			rec := do(t, r, "/api/newsletter-subscribe", `{"email":"a@b.lt"}`, nil)
			assert.Equal(t, tt.status, rec.Code)
			assert.JSONEq(t, tt.body, rec.Body.String())
			if tt.status == http.StatusTooManyRequests {
				assert.Equal(t, "90", rec.Header().Get("Retry-After"))
			}
		})
	}
}

func TestVerifyPayment_DevOnly(t *testing.T) {
	r, _ := newTestRouter(t, HandlerConfig{}, nil)

	rec := do(t, r, "/api/verify-payment", `{"orderNumber":"ORD-1-1","amount":10}`, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestVerifyPayment_Mock(t *testing.T) {
	r, _ := newTestRouter(t, HandlerConfig{DevEndpoints: true}, nil)

	rec := do(t, r, "/api/verify-payment", `{"orderNumber":"ORD-1-1","amount":10}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"paid","orderNumber":"ORD-1-1"}`, rec.Body.String())

	rec = do(t, r, "/api/verify-payment", `{"orderNumber":"ORD-1-1"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, r, "/api/verify-payment", `{"orderNumber":"ORD-1-1","amount":0}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVerifyPayment_Ledger(t *testing.T) {
	finder := &mockFinder{records: map[string]*order.Record{
		"ORD-1-1": {OrderNumber: "ORD-1-1", Total: decimal.RequireFromString("27.99")},
	}}
	r, _ := newTestRouter(t, HandlerConfig{DevEndpoints: true}, finder)

	rec := do(t, r, "/api/verify-payment", `{"orderNumber":"ORD-1-1","amount":27.99}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, r, "/api/verify-payment", `{"orderNumber":"ORD-1-1","amount":20}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, r, "/api/verify-payment", `{"orderNumber":"ORD-2-1","amount":20}`, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
