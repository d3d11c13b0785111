package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kaledukampelis/internal/domain/order"
	"github.com/xenking/kaledukampelis/internal/domain/payment"
	"github.com/xenking/kaledukampelis/internal/paypal"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables, flags, or YAML config files. Environment names match
// the storefront's deployment settings, so there is no common prefix.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" env:"ADDR" usage:"API server listen address"`
	PublicURL   string `env:"NEXT_PUBLIC_URL" usage:"Storefront URL used for checkout redirects" flag:"public-url"`
	RedisURL    string `env:"REDIS_URL" usage:"Redis URL for dedup state (optional)" flag:"redis-url"`
	DatabaseURL string `env:"DATABASE_URL" usage:"PostgreSQL URL for the order ledger (optional)" flag:"database-url"`
	// DevEndpoints exposes the mock verify-payment route.
	DevEndpoints bool `default:"false" env:"DEV_ENDPOINTS" usage:"Expose development-only endpoints" flag:"dev-endpoints"`

	Stripe     StripeConfig     `env:"STRIPE"`
	PayPal     PayPalConfig     `env:"PAYPAL"`
	Discord    DiscordConfig    `env:"DISCORD"`
	Resend     ResendConfig     `env:"RESEND"`
	Newsletter NewsletterConfig `env:"NEWSLETTER"`
	Upstash    UpstashConfig    `env:"UPSTASH_REDIS_REST"`
	Pricing    PricingConfig    `env:"PRICING"`
	Dedup      DedupConfig      `env:"DEDUP"`
	Timeouts   TimeoutsConfig   `env:"TIMEOUTS"`
	RateLimit  RateLimitConfig  `env:"RATE_LIMIT"`
	CORS       CORSConfig       `env:"CORS"`
	Graceful   GracefulConfig   `env:"GRACEFUL"`
}

// StripeConfig holds Stripe credentials.
type StripeConfig struct {
	SecretKey     string `env:"SECRET_KEY" usage:"Stripe secret key"`
	WebhookSecret string `env:"WEBHOOK_SECRET" usage:"Stripe webhook signing secret"`
}

// PayPalConfig holds PayPal credentials and the fee pass-through policy.
type PayPalConfig struct {
	ClientID     string `env:"CLIENT_ID" usage:"PayPal REST client id"`
	ClientSecret string `env:"CLIENT_SECRET" usage:"PayPal REST client secret"`
	WebhookID    string `env:"WEBHOOK_ID" usage:"PayPal webhook id used for signature verification"`
	// APIBase wins over Env when set.
	APIBase string `env:"API_BASE" usage:"PayPal API base URL"`
	Env     string `default:"sandbox" env:"ENV" usage:"PayPal environment: sandbox or live"`

	FeePassthrough bool   `default:"false" env:"FEE_PASSTHROUGH" usage:"Add the PayPal fee to PayPal orders"`
	FeeFixed       string `default:"0.35" env:"FEE_FIXED" usage:"Fixed PayPal fee in EUR"`
	FeeRate        string `default:"0.029" env:"FEE_RATE" usage:"Proportional PayPal fee"`
}

// BaseURL returns the REST endpoint to use.
func (c PayPalConfig) BaseURL() string {
	if c.APIBase != "" {
		return c.APIBase
	}
	return paypal.BaseURLFor(c.Env)
}

// Configured reports whether client credentials are present.
func (c PayPalConfig) Configured() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// Fee parses the fee settings.
func (c PayPalConfig) Fee() (payment.FeePolicy, error) {
	fixed, err := decimal.NewFromString(c.FeeFixed)
	if err != nil {
		return payment.FeePolicy{}, errors.Wrap(err, "parse PAYPAL_FEE_FIXED")
	}
	rate, err := decimal.NewFromString(c.FeeRate)
	if err != nil {
		return payment.FeePolicy{}, errors.Wrap(err, "parse PAYPAL_FEE_RATE")
	}
	if fixed.IsNegative() || rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return payment.FeePolicy{}, errors.Errorf("invalid PayPal fee %s + %s", fixed, rate)
	}
	return payment.FeePolicy{Enabled: c.FeePassthrough, Fixed: fixed, Rate: rate}, nil
}

// DiscordConfig holds the staff channel webhooks.
type DiscordConfig struct {
	WebhookURL string `env:"WEBHOOK_URL" usage:"Discord webhook for paid orders"`
	// NewsletterWebhookURL falls back to WebhookURL when empty.
	NewsletterWebhookURL string `env:"NEWSLETTER_WEBHOOK_URL" usage:"Discord webhook for newsletter sign-ups"`
}

// ResendConfig holds the e-mail API settings.
type ResendConfig struct {
	APIKey string `env:"API_KEY" usage:"Resend API key"`
	From   string `default:"onboarding@resend.dev" env:"FROM" usage:"Sender address"`
}

// NewsletterConfig holds the subscription inbox.
type NewsletterConfig struct {
	Inbox string `default:"kaleddovanos@gmail.com" env:"INBOX" usage:"Inbox that receives sign-ups"`
}

// UpstashConfig holds Upstash REST credentials.
type UpstashConfig struct {
	URL   string `env:"URL" usage:"Upstash Redis REST URL"`
	Token string `env:"TOKEN" usage:"Upstash Redis REST token"`
}

// PricingConfig is the published cart pricing, in cents.
type PricingConfig struct {
	FreeShippingCents int64 `default:"3000" env:"FREE_SHIPPING_CENTS" usage:"Free shipping threshold"`
	ShippingCents     int64 `default:"299" env:"SHIPPING_CENTS" usage:"Shipping fee"`
	GiftWrapCents     int64 `default:"299" env:"GIFT_WRAP_CENTS" usage:"Gift wrapping fee"`
}

// Policy converts the settings to an order.PricingPolicy.
func (c PricingConfig) Policy() order.PricingPolicy {
	return order.PricingPolicy{
		FreeShippingThreshold: c.FreeShippingCents,
		ShippingFee:           c.ShippingCents,
		GiftWrapFee:           c.GiftWrapCents,
	}
}

// DedupConfig controls how long processed keys are remembered.
type DedupConfig struct {
	EventTTL  time.Duration `default:"72h" env:"EVENT_TTL" usage:"Webhook event dedup TTL"`
	NotifyTTL time.Duration `default:"24h" env:"NOTIFY_TTL" usage:"Order notification dedup TTL"`
	// NewsletterTTL of zero remembers addresses forever.
	NewsletterTTL time.Duration `default:"0s" env:"NEWSLETTER_TTL" usage:"Newsletter address dedup TTL"`
}

// TimeoutsConfig bounds outbound calls.
type TimeoutsConfig struct {
	Provider time.Duration `default:"10s" env:"PROVIDER" usage:"Stripe, PayPal and Resend call timeout"`
	Notify   time.Duration `default:"5s" env:"NOTIFY" usage:"Discord call timeout"`
	Store    time.Duration `default:"2s" env:"STORE" usage:"Dedup store and ledger call timeout"`
}

// WriteTimeout bounds writing a response. The slowest route is the PayPal
// webhook: verification and enrichment take a provider call each, followed
// by the event and order claims, the ledger write and the Discord post.
func (c TimeoutsConfig) WriteTimeout() time.Duration {
	return 2*c.Provider + c.Notify + 3*c.Store + writeSlack
}

// writeSlack covers request decoding and encoding around the outbound calls.
const writeSlack = 2 * time.Second

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" env:"MAX" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  env:"WINDOW" usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" env:"ORIGINS" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" env:"ALLOW_CREDENTIALS" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  env:"READINESS_DELAY" usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" env:"SHUTDOWN_TIMEOUT" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults. Provider credentials are optional;
// their absence is reported per request.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		Files: []string{"config.yaml", "/etc/kaledukampelis/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyPlatformDefaults maps the PORT variable set by hosting platforms onto
// the listen address.
func (c *Config) applyPlatformDefaults() {
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}

func (c *Config) validate() error {
	if _, err := c.PayPal.Fee(); err != nil {
		return err
	}
	if (c.Upstash.URL == "") != (c.Upstash.Token == "") {
		return errors.New("UPSTASH_REDIS_REST_URL and UPSTASH_REDIS_REST_TOKEN must be set together")
	}
	if c.Pricing.FreeShippingCents < 0 || c.Pricing.ShippingCents < 0 || c.Pricing.GiftWrapCents < 0 {
		return errors.New("pricing values must not be negative")
	}
	return nil
}
