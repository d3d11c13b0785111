package handler

import (
	"net/http"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kaledukampelis/internal/domain/newsletter"
	"github.com/xenking/kaledukampelis/internal/domain/provider"
	"github.com/xenking/kaledukampelis/pkg/httpmiddleware"
)

const alreadySubscribedMsg = "Šis el. paštas jau užregistruotas."

// NewsletterSubscribe forwards a sign-up to the store inbox once per address.
func (h *Handler) NewsletterSubscribe(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeBodyError(w, err, "Invalid email")
		return
	}

	err := h.newsletter.Subscribe(r.Context(), req.Email, httpmiddleware.ClientIP(r))

	var (
		cfgErr      *provider.ConfigError
		limitErr    *newsletter.RateLimitedError
		deliveryErr *newsletter.DeliveryError
	)
	switch {
	case err == nil:
		writeOK(w)
	case errors.Is(err, newsletter.ErrInvalidEmail):
		writeError(w, http.StatusBadRequest, "Invalid email")
	case errors.Is(err, newsletter.ErrAlreadySubscribed):
		writeError(w, http.StatusConflict, alreadySubscribedMsg)
	case errors.As(err, &limitErr):
		w.Header().Set("Retry-After", strconv.Itoa(httpmiddleware.RetryAfterSeconds(limitErr.RetryAfter)))
		writeError(w, http.StatusTooManyRequests, "Too many requests")
	case errors.As(err, &cfgErr):
		writeError(w, http.StatusInternalServerError, cfgErr.Error())
	case errors.As(err, &deliveryErr):
		zctx.From(r.Context()).Error("Newsletter delivery failed", zap.Error(err))
		writeJSON(w, http.StatusBadGateway, func(e *jx.Encoder) {
			e.Field("error", func(e *jx.Encoder) { e.Str("Failed to deliver") })
			e.Field("details", func(e *jx.Encoder) { e.Str(deliveryDetails(deliveryErr)) })
		})
	default:
		zctx.From(r.Context()).Error("Newsletter subscription failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal error")
	}
}

func deliveryDetails(err *newsletter.DeliveryError) string {
	var providerErr *provider.Error
	if errors.As(err.Err, &providerErr) && providerErr.Message != "" {
		return providerErr.Message
	}
	return err.Err.Error()
}
