package app

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	stripewebhook "github.com/stripe/stripe-go/v82/webhook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

const testWebhookSecret = "whsec_test"

// --- Helpers ---

type discordSink struct {
	posts atomic.Int32
	srv   *httptest.Server
}

func newDiscordSink(t *testing.T) *discordSink {
	t.Helper()
	s := &discordSink{}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		s.posts.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func testConfig() *Config {
	return &Config{
		Addr:   defaultAddr,
		PayPal: PayPalConfig{Env: "sandbox", FeeFixed: "0.35", FeeRate: "0.029"},
		Resend: ResendConfig{From: "onboarding@resend.dev"},
		Pricing: PricingConfig{
			FreeShippingCents: 3000,
			ShippingCents:     299,
			GiftWrapCents:     299,
		},
		Dedup: DedupConfig{EventTTL: 72 * time.Hour, NotifyTTL: 24 * time.Hour},
		Timeouts: TimeoutsConfig{
			Provider: 2 * time.Second,
			Notify:   2 * time.Second,
			Store:    time.Second,
		},
		RateLimit: RateLimitConfig{Max: 100, Window: time.Minute},
		CORS:      CORSConfig{Origins: []string{"*"}},
	}
}

func newTestService(t *testing.T, cfg *Config) http.Handler {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	svc, err := build(ctx, zap.NewNop(), tracenoop.NewTracerProvider(), metricnoop.NewMeterProvider(), cfg)
	require.NoError(t, err)
	t.Cleanup(svc.close)
	svc.health.SetReady(true)
	return svc.handler
}

func post(t *testing.T, h http.Handler, path, body string, header http.Header) *httptest.ResponseRecorder {
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

func signedStripeEvent(eventID, orderNumber string) (string, http.Header) {
	payload := `{
		"id": "` + eventID + `",
		"object": "event",
		"type": "payment_intent.succeeded",
		"api_version": "2020-08-27",
		"data": {"object": {
			"id": "pi_e2e",
			"object": "payment_intent",
			"amount": 2799,
			"currency": "eur",
			"metadata": {"order_id": "` + orderNumber + `", "name": "Ona", "email": "ona@example.com"}
		}}
	}`
	signed := stripewebhook.GenerateTestSignedPayload(&stripewebhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
	})
	return payload, http.Header{"Stripe-Signature": {signed.Header}}
}

// --- Tests ---

func TestService_Probes(t *testing.T) {
	h := newTestService(t, testConfig())

	for _, path := range []string{"/livez", "/readyz"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.NotEmpty(t, rec.Header().Get("X-Request-ID"), path)
	}
}

func TestService_RequestIDEchoed(t *testing.T) {
	h := newTestService(t, testConfig())

	req := httptest.NewRequest(http.MethodGet, "/livez", nil)
	req.Header.Set("X-Request-ID", "custom-request-id-12345")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "custom-request-id-12345", rec.Header().Get("X-Request-ID"))
}

func TestService_CORSPreflight(t *testing.T) {
	h := newTestService(t, testConfig())

	req := httptest.NewRequest(http.MethodOptions, "/api/create-payment-intent", nil)
	req.Header.Set("Origin", "https://kaledukampelis.lt")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, rec.Header().Get("Access-Control-Allow-Methods"))
}

func TestService_UnconfiguredProviders(t *testing.T) {
	h := newTestService(t, testConfig())

	rec := post(t, h, "/api/create-payment-intent", `{"amount":2799}`, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"Missing STRIPE_SECRET_KEY"}`, rec.Body.String())

	rec = post(t, h, "/api/create-paypal-order", `{"amount":2799}`, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"Missing PAYPAL_CLIENT_ID, PAYPAL_CLIENT_SECRET"}`, rec.Body.String())

	rec = post(t, h, "/api/stripe-webhook", `{}`, http.Header{"Stripe-Signature": {"t=1,v1=x"}})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"Server not configured for Stripe verification"}`, rec.Body.String())

	rec = post(t, h, "/api/paypal-webhook", `{}`, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"Server not configured for PayPal verification"}`, rec.Body.String())

	rec = post(t, h, "/api/newsletter-subscribe", `{"email":"ona@example.com"}`, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"Missing RESEND_API_KEY"}`, rec.Body.String())

	rec = post(t, h, "/api/notify-discord", `{"orderNumber":"ORD-1-1","total":10}`, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"Missing DISCORD_WEBHOOK_URL"}`, rec.Body.String())
}

func TestService_StripeWebhookNotifiesOnce(t *testing.T) {
	sink := newDiscordSink(t)
	cfg := testConfig()
	cfg.Discord.WebhookURL = sink.srv.URL
	cfg.Stripe.WebhookSecret = testWebhookSecret
	h := newTestService(t, cfg)

	payload, header := signedStripeEvent("evt_e2e_1", "ORD-1700000000000-7")
	rec := post(t, h, "/api/stripe-webhook", payload, header)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "OK", rec.Body.String())
	assert.EqualValues(t, 1, sink.posts.Load())

	// Provider retry of the same event.
	rec = post(t, h, "/api/stripe-webhook", payload, header)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, sink.posts.Load())

	// A different event for the same order.
	payload, header = signedStripeEvent("evt_e2e_2", "ORD-1700000000000-7")
	rec = post(t, h, "/api/stripe-webhook", payload, header)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, sink.posts.Load())

	// The storefront's own report after redirect.
	rec = post(t, h, "/api/notify-discord", `{"provider":"stripe","orderNumber":"ORD-1700000000000-7","total":"27.99"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
	assert.EqualValues(t, 1, sink.posts.Load())
}

func TestService_StripeWebhookBadSignature(t *testing.T) {
	cfg := testConfig()
	cfg.Stripe.WebhookSecret = testWebhookSecret
	h := newTestService(t, cfg)

	payload, _ := signedStripeEvent("evt_e2e_3", "ORD-1700000000000-8")
	rec := post(t, h, "/api/stripe-webhook", payload, http.Header{"Stripe-Signature": {"t=1,v1=deadbeef"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"Invalid signature"}`, rec.Body.String())
}

func TestService_RateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit = RateLimitConfig{Max: 2, Window: time.Minute}
	cfg.Stripe.WebhookSecret = testWebhookSecret
	h := newTestService(t, cfg)

	for range 2 {
		rec := post(t, h, "/api/quote", `{"items":[{"id":"p","name":"A","price":1,"quantity":1}]}`, nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := post(t, h, "/api/quote", `{"items":[{"id":"p","name":"A","price":1,"quantity":1}]}`, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// Webhooks are exempt.
	payload, header := signedStripeEvent("evt_e2e_4", "ORD-1700000000000-9")
	rec = post(t, h, "/api/stripe-webhook", payload, header)
	assert.NotEqual(t, http.StatusTooManyRequests, rec.Code)
}
