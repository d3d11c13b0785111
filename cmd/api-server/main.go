// Command api-server runs the checkout API: payment creation, provider
// webhooks, staff notifications and newsletter sign-ups.
package main

import (
	"context"

	"github.com/go-faster/sdk/app"
	"go.uber.org/zap"

	appkg "github.com/xenking/kaledukampelis/internal/app"
)

func main() {
	app.Run(func(ctx context.Context, lg *zap.Logger, m *app.Telemetry) error {
		cfg, err := appkg.LoadConfig()
		if err != nil {
			return err
		}
		lg.Info("Configuration loaded",
			zap.Bool("stripe", cfg.Stripe.SecretKey != ""),
			zap.Bool("paypal", cfg.PayPal.Configured()),
			zap.Bool("discord", cfg.Discord.WebhookURL != ""),
			zap.Bool("resend", cfg.Resend.APIKey != ""),
			zap.Bool("ledger", cfg.DatabaseURL != ""),
			zap.Bool("dev_endpoints", cfg.DevEndpoints),
		)
		return appkg.Run(ctx, lg, m, cfg)
	})
}
