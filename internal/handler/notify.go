package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kaledukampelis/internal/domain/order"
	"github.com/xenking/kaledukampelis/internal/domain/provider"
)

type notifyRequest struct {
	Provider    string                   `json:"provider"`
	OrderNumber string                   `json:"orderNumber"`
	Total       json.RawMessage          `json:"total"`
	Currency    string                   `json:"currency"`
	Items       []order.NotificationItem `json:"items"`
	Customer    order.Customer           `json:"customer"`
}

// NotifyDiscord posts a client-reported paid order to the staff channel.
// Repeated reports for the same order number are acknowledged without a
// second message.
func (h *Handler) NotifyDiscord(w http.ResponseWriter, r *http.Request) {
	var req notifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBodyError(w, err, "Invalid payload")
		return
	}
	total, err := order.ParseAmount(req.Total)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid payload")
		return
	}

	n := &order.Notification{
		Provider:    provider.ParseName(req.Provider),
		OrderNumber: req.OrderNumber,
		Total:       total,
		Currency:    req.Currency,
		Customer:    req.Customer,
		Items:       req.Items,
	}

	_, err = h.notifier.Dispatch(r.Context(), n)
	var cfgErr *provider.ConfigError
	switch {
	case err == nil:
		writeOK(w)
	case errors.Is(err, order.ErrMissingOrderNumber), errors.Is(err, order.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, "Invalid payload")
	case errors.As(err, &cfgErr):
		writeError(w, http.StatusInternalServerError, cfgErr.Error())
	default:
		zctx.From(r.Context()).Error("Discord notification failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "Failed to send notification")
	}
}
