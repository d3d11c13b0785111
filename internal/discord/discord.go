// Package discord posts order and subscriber notifications to a Discord
// channel webhook.
package discord

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/xenking/kaledukampelis/internal/domain/order"
)

// Config configures a webhook client.
type Config struct {
	WebhookURL string
	Timeout    time.Duration
	// Transport overrides the base HTTP transport, mainly for tests.
	Transport http.RoundTripper
}

// Client posts embeds to one Discord webhook URL.
type Client struct {
	url    string
	client *http.Client
	now    func() time.Time
}

// New creates a Client.
func New(cfg Config) *Client {
	base := cfg.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	return &Client{
		url: cfg.WebhookURL,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(base),
		},
		now: time.Now,
	}
}

// SendOrder posts the paid-order embed.
func (c *Client) SendOrder(ctx context.Context, n *order.Notification) error {
	return c.post(ctx, encodeOrder(n, c.now()))
}

// SendSubscriber posts the newsletter subscriber embed.
func (c *Client) SendSubscriber(ctx context.Context, email string) error {
	return c.post(ctx, encodeSubscriber(email, c.now()))
}

func (c *Client) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "post webhook")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errors.Errorf("discord returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
