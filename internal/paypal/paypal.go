// Package paypal adapts the PayPal REST API to the payment and webhook
// services: order creation and capture, order and capture lookups, and
// webhook signature verification.
package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-faster/errors"
	paypalsdk "github.com/plutov/paypal/v4"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/xenking/kaledukampelis/internal/domain/provider"
	"github.com/xenking/kaledukampelis/internal/domain/webhook"
)

// API endpoints by environment.
const (
	SandboxBaseURL = paypalsdk.APIBaseSandBox
	LiveBaseURL    = paypalsdk.APIBaseLive
)

// maxResponse caps how much of a response body is read.
const maxResponse = 1 << 20

// BaseURLFor returns the API endpoint for PAYPAL_ENV. Anything but "live"
// is the sandbox.
func BaseURLFor(env string) string {
	if strings.EqualFold(strings.TrimSpace(env), "live") {
		return LiveBaseURL
	}
	return SandboxBaseURL
}

// Config configures a Client.
type Config struct {
	ClientID     string
	ClientSecret string
	// WebhookID is required only for webhook verification.
	WebhookID string
	BaseURL   string
	Timeout   time.Duration
	// Transport overrides the base HTTP transport, mainly for tests.
	Transport http.RoundTripper
}

// Client calls the PayPal REST API. The SDK client fetches the
// client-credentials token lazily and renews it before expiry.
type Client struct {
	api       *paypalsdk.Client
	base      *url.URL
	webhookID string
}

var _ webhook.PayPalAPI = (*Client)(nil)

// New creates a Client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = SandboxBaseURL
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, errors.Wrap(err, "parse base url")
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, errors.Errorf("invalid base url %q", cfg.BaseURL)
	}

	api, err := paypalsdk.NewClient(cfg.ClientID, cfg.ClientSecret, base.String())
	if err != nil {
		return nil, errors.Wrap(err, "create paypal client")
	}
	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	api.SetHTTPClient(&http.Client{
		Timeout:   cfg.Timeout,
		Transport: otelhttp.NewTransport(limitedTransport{next: transport}),
	})

	return &Client{
		api:       api,
		base:      base,
		webhookID: cfg.WebhookID,
	}, nil
}

// VerifyWebhookSignature asks PayPal to verify a delivery. It succeeds only
// on verification_status SUCCESS.
func (c *Client) VerifyWebhookSignature(ctx context.Context, h webhook.PayPalHeaders, body []byte) error {
	if c.webhookID == "" {
		return &provider.ConfigError{Variable: "PAYPAL_WEBHOOK_ID"}
	}
	if !json.Valid(body) {
		return errors.Wrap(webhook.ErrInvalidPayload, "event is not json")
	}

	// The SDK reads the transmission headers and the event from a request.
	delivery, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base.String(), bytes.NewReader(bytes.TrimSpace(body)))
	if err != nil {
		return errors.Wrap(err, "create delivery")
	}
	delivery.Header.Set("Paypal-Transmission-Id", h.TransmissionID)
	delivery.Header.Set("Paypal-Transmission-Time", h.TransmissionTime)
	delivery.Header.Set("Paypal-Cert-Url", h.CertURL)
	delivery.Header.Set("Paypal-Auth-Algo", h.AuthAlgo)
	delivery.Header.Set("Paypal-Transmission-Sig", h.TransmissionSig)

	res, err := c.api.VerifyWebhookSignature(ctx, delivery, c.webhookID)
	if err != nil {
		err = apiError(http.MethodPost, "/v1/notifications/verify-webhook-signature", err)
		if errors.Is(err, webhook.ErrProviderAuth) {
			return err
		}
		return errors.Wrap(webhook.ErrInvalidSignature, err.Error())
	}
	if res.VerificationStatus != "SUCCESS" {
		return errors.Wrapf(webhook.ErrInvalidSignature, "verification status %q", res.VerificationStatus)
	}
	return nil
}

// GetOrder fetches a checkout order.
func (c *Client) GetOrder(ctx context.Context, id string) (*webhook.PayPalResource, error) {
	return c.getResource(ctx, c.endpoint("/v2/checkout/orders/"+url.PathEscape(id)))
}

// GetCapture fetches a payment capture.
func (c *Client) GetCapture(ctx context.Context, id string) (*webhook.PayPalResource, error) {
	return c.getResource(ctx, c.endpoint("/v2/payments/captures/"+url.PathEscape(id)))
}

// GetByHref follows a HATEOAS link. Links must point at the configured API
// host so that a token is never sent elsewhere.
func (c *Client) GetByHref(ctx context.Context, href string) (*webhook.PayPalResource, error) {
	u, err := url.Parse(href)
	if err != nil {
		return nil, errors.Wrap(err, "parse link")
	}
	if !strings.EqualFold(u.Scheme, c.base.Scheme) || !strings.EqualFold(u.Host, c.base.Host) {
		return nil, errors.Errorf("link host %q is not the api host", u.Host)
	}
	return c.getResource(ctx, u.String())
}

// getResource decodes orders and captures into the model webhook events
// use, so enrichment sees links, invoice ids and shipping the same way.
func (c *Client) getResource(ctx context.Context, target string) (*webhook.PayPalResource, error) {
	req, err := c.api.NewRequest(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, errors.Wrap(err, "create request")
	}
	var out webhook.PayPalResource
	if err := c.send(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) endpoint(path string) string {
	return c.base.String() + path
}

// send performs an authenticated request and decodes a 2xx response into out.
func (c *Client) send(req *http.Request, out any) error {
	if err := c.api.SendWithAuth(req, out); err != nil {
		return apiError(req.Method, req.URL.Path, err)
	}
	return nil
}

// apiError maps SDK failures. A 401, including a rejected token request,
// wraps webhook.ErrProviderAuth; other error responses become a
// provider.Error carrying PayPal's message.
func apiError(method, path string, err error) error {
	var resp *paypalsdk.ErrorResponse
	if !errors.As(err, &resp) || resp.Response == nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	status := resp.Response.StatusCode
	if status == http.StatusUnauthorized {
		return errors.Wrapf(webhook.ErrProviderAuth, "%s %s: 401", method, path)
	}
	return &provider.Error{
		Provider: provider.PayPal,
		Message:  errorMessage(resp),
		Err:      errors.Errorf("%s %s: status %d", method, path, status),
	}
}

// errorMessage picks the most specific message of a PayPal error body.
func errorMessage(resp *paypalsdk.ErrorResponse) string {
	if len(resp.Details) > 0 && resp.Details[0].Description != "" {
		return resp.Details[0].Description
	}
	if resp.Message != "" {
		return resp.Message
	}
	return provider.DefaultMessage
}

// limitedTransport caps response bodies at maxResponse.
type limitedTransport struct {
	next http.RoundTripper
}

func (t limitedTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	resp, err := t.next.RoundTrip(r)
	if err != nil {
		return nil, err
	}
	resp.Body = limitedBody{Reader: io.LimitReader(resp.Body, maxResponse), Closer: resp.Body}
	return resp, nil
}

type limitedBody struct {
	io.Reader
	io.Closer
}
