package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kaledukampelis/internal/domain/provider"
	"github.com/xenking/kaledukampelis/internal/domain/webhook"
)

// StripeWebhook receives Stripe event deliveries. The body is read raw
// because the signature covers the exact bytes.
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r, maxWebhookBody)
	if err != nil {
		writeBodyError(w, err, "Invalid payload")
		return
	}

	outcome, err := h.webhooks.HandleStripe(r.Context(), body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		writeWebhookError(w, r, provider.Stripe, err)
		return
	}

	zctx.From(r.Context()).Debug("Stripe webhook handled", zap.String("outcome", string(outcome)))
	writeText(w, http.StatusOK, "OK")
}

// PayPalWebhook receives PayPal event deliveries.
func (h *Handler) PayPalWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r, maxWebhookBody)
	if err != nil {
		writeBodyError(w, err, "Invalid payload")
		return
	}

	headers := webhook.PayPalHeaders{
		TransmissionID:   r.Header.Get("Paypal-Transmission-Id"),
		TransmissionTime: r.Header.Get("Paypal-Transmission-Time"),
		CertURL:          r.Header.Get("Paypal-Cert-Url"),
		AuthAlgo:         r.Header.Get("Paypal-Auth-Algo"),
		TransmissionSig:  r.Header.Get("Paypal-Transmission-Sig"),
	}

	outcome, err := h.webhooks.HandlePayPal(r.Context(), headers, body)
	if err != nil {
		writeWebhookError(w, r, provider.PayPal, err)
		return
	}

	zctx.From(r.Context()).Debug("PayPal webhook handled", zap.String("outcome", string(outcome)))
	writeText(w, http.StatusOK, "OK")
}

func writeWebhookError(w http.ResponseWriter, r *http.Request, p provider.Name, err error) {
	lg := zctx.From(r.Context()).With(zap.String("provider", string(p)))

	var cfgErr *provider.ConfigError
	switch {
	case errors.Is(err, webhook.ErrInvalidSignature):
		lg.Warn("Webhook signature rejected", zap.Error(err))
		writeError(w, http.StatusBadRequest, "Invalid signature")
	case errors.Is(err, webhook.ErrProviderAuth):
		lg.Error("Webhook verification auth failed", zap.Error(err))
		writeError(w, http.StatusUnauthorized, "PayPal auth failed")
	case errors.Is(err, webhook.ErrInvalidPayload):
		writeError(w, http.StatusBadRequest, "Invalid payload")
	case errors.Is(err, webhook.ErrMissingTotal):
		writeError(w, http.StatusBadRequest, "No total in webhook payload")
	case errors.As(err, &cfgErr):
		lg.Error("Webhook verification not configured", zap.String("missing", cfgErr.Variable))
		if p == provider.Stripe {
			writeError(w, http.StatusInternalServerError, "Server not configured for Stripe verification")
		} else {
			writeError(w, http.StatusInternalServerError, "Server not configured for PayPal verification")
		}
	default:
		lg.Error("Webhook processing failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Webhook processing failed")
	}
}
