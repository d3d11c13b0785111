// Package resend sends subscriber e-mails through the Resend API.
package resend

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/go-faster/errors"
	resendapi "github.com/resend/resend-go/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Config configures a Client.
type Config struct {
	APIKey  string
	From    string
	To      string
	Timeout time.Duration
	// BaseURL overrides the API endpoint, mainly for tests.
	BaseURL   string
	Transport http.RoundTripper
}

// Client delivers messages to a fixed inbox.
type Client struct {
	api  *resendapi.Client
	from string
	to   string
}

// New creates a Client.
func New(cfg Config) (*Client, error) {
	base := cfg.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	api := resendapi.NewCustomClient(&http.Client{
		Timeout:   cfg.Timeout,
		Transport: otelhttp.NewTransport(base),
	}, cfg.APIKey)
	if cfg.BaseURL != "" {
		u, err := url.Parse(cfg.BaseURL)
		if err != nil {
			return nil, errors.Wrap(err, "parse base url")
		}
		api.BaseURL = u
	}
	return &Client{api: api, from: cfg.From, to: cfg.To}, nil
}

// Send sends a plain-text message and returns the Resend message id.
func (c *Client) Send(ctx context.Context, subject, text string) (string, error) {
	resp, err := c.api.Emails.SendWithContext(ctx, &resendapi.SendEmailRequest{
		From:    c.from,
		To:      []string{c.to},
		Subject: subject,
		Text:    text,
	})
	if err != nil {
		return "", errors.Wrap(err, "send email")
	}
	return resp.Id, nil
}
