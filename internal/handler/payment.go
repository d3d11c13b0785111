package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kaledukampelis/internal/domain/order"
	"github.com/xenking/kaledukampelis/internal/domain/payment"
	"github.com/xenking/kaledukampelis/internal/domain/provider"
)

type cartRequest struct {
	Items    []order.LineItem `json:"items"`
	GiftWrap bool             `json:"giftWrap"`
}

func (c *cartRequest) toCart() *payment.Cart {
	if c == nil {
		return nil
	}
	return &payment.Cart{Items: c.Items, GiftWrap: c.GiftWrap}
}

// checkoutRequest is the body shared by the card endpoints. Items is the
// human-readable summary; Cart, when sent, is re-priced on the server.
type checkoutRequest struct {
	Amount      json.RawMessage `json:"amount"`
	Name        string          `json:"name"`
	Surname     string          `json:"surname"`
	Email       string          `json:"email"`
	Phone       string          `json:"phone"`
	Address     string          `json:"address"`
	City        string          `json:"city"`
	PostalCode  string          `json:"postalCode"`
	Items       string          `json:"items"`
	OrderNumber string          `json:"orderNumber"`
	OrderID     string          `json:"orderId"`
	Cart        *cartRequest    `json:"cart"`
	SuccessURL  string          `json:"successUrl"`
	CancelURL   string          `json:"cancelUrl"`
}

func (c *checkoutRequest) customer() order.Customer {
	return order.Customer{
		Name:       c.Name,
		Surname:    c.Surname,
		Email:      c.Email,
		Phone:      c.Phone,
		Address:    c.Address,
		City:       c.City,
		PostalCode: c.PostalCode,
	}
}

func (c *checkoutRequest) orderNumber() string {
	if c.OrderNumber != "" {
		return c.OrderNumber
	}
	return c.OrderID
}

// Quote prices a cart with the server-side policy.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	var req cartRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBodyError(w, err, "Invalid payload")
		return
	}

	b, err := h.payments.Quote(payment.Cart{Items: req.Items, GiftWrap: req.GiftWrap})
	if err != nil {
		writePaymentError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Field("subtotalCents", func(e *jx.Encoder) { e.Int64(b.SubtotalCents) })
		e.Field("shippingCents", func(e *jx.Encoder) { e.Int64(b.ShippingCents) })
		e.Field("giftWrapCents", func(e *jx.Encoder) { e.Int64(b.GiftWrapCents) })
		e.Field("totalCents", func(e *jx.Encoder) { e.Int64(b.TotalCents) })
		e.Field("freeShipping", func(e *jx.Encoder) { e.Bool(b.FreeShipping) })
		e.Field("total", func(e *jx.Encoder) { e.Str(order.FormatCents(b.TotalCents)) })
	})
}

// CreatePaymentIntent starts a card payment and returns its client secret.
func (h *Handler) CreatePaymentIntent(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBodyError(w, err, "Invalid amount")
		return
	}
	amount, err := order.ValidateAmount(req.Amount)
	if err != nil {
		writePaymentError(w, r, err)
		return
	}

	res, err := h.payments.CreatePaymentIntent(r.Context(), payment.IntentRequest{
		AmountCents:  amount,
		Customer:     req.customer(),
		ItemsSummary: req.Items,
		OrderNumber:  req.orderNumber(),
		Cart:         req.Cart.toCart(),
	})
	if err != nil {
		writePaymentError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Field("clientSecret", func(e *jx.Encoder) { e.Str(res.ClientSecret) })
		e.Field("orderNumber", func(e *jx.Encoder) { e.Str(res.OrderNumber) })
		e.Field("paymentIntentId", func(e *jx.Encoder) { e.Str(res.PaymentIntentID) })
	})
}

// CreateCheckoutSession starts a hosted card checkout.
func (h *Handler) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBodyError(w, err, "Invalid amount")
		return
	}
	amount, err := order.ValidateAmount(req.Amount)
	if err != nil {
		writePaymentError(w, r, err)
		return
	}

	res, err := h.payments.CreateCheckoutSession(r.Context(), payment.SessionRequest{
		AmountCents:  amount,
		Customer:     req.customer(),
		ItemsSummary: req.Items,
		OrderNumber:  req.orderNumber(),
		Cart:         req.Cart.toCart(),
		Origin:       r.Header.Get("Origin"),
		SuccessURL:   req.SuccessURL,
		CancelURL:    req.CancelURL,
	})
	if err != nil {
		writePaymentError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(res.ID) })
		e.Field("url", func(e *jx.Encoder) { e.Str(res.URL) })
		e.Field("orderNumber", func(e *jx.Encoder) { e.Str(res.OrderNumber) })
	})
}

// CreatePayPalOrder creates a PayPal order server-side.
func (h *Handler) CreatePayPalOrder(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBodyError(w, err, "Invalid amount")
		return
	}
	amount, err := order.ValidateAmount(req.Amount)
	if err != nil {
		writePaymentError(w, r, err)
		return
	}

	res, err := h.payments.CreatePayPalOrder(r.Context(), payment.PayPalOrderRequest{
		AmountCents: amount,
		OrderNumber: req.orderNumber(),
		Cart:        req.Cart.toCart(),
	})
	if err != nil {
		writePaymentError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(res.ID) })
		e.Field("status", func(e *jx.Encoder) { e.Str(res.Status) })
		e.Field("amount", func(e *jx.Encoder) { e.Str(res.Amount.StringFixed(2)) })
		e.Field("orderNumber", func(e *jx.Encoder) { e.Str(res.OrderNumber) })
		if res.ApproveURL != "" {
			e.Field("approveUrl", func(e *jx.Encoder) { e.Str(res.ApproveURL) })
		}
	})
}

// CapturePayPalOrder captures an approved PayPal order.
func (h *Handler) CapturePayPalOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OrderID string `json:"orderID"`
		ID      string `json:"orderId"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeBodyError(w, err, "Invalid payload")
		return
	}
	id := req.OrderID
	if id == "" {
		id = req.ID
	}

	res, err := h.payments.CapturePayPalOrder(r.Context(), id)
	if err != nil {
		writePaymentError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(res.OrderID) })
		e.Field("status", func(e *jx.Encoder) { e.Str(res.Status) })
		e.Field("captureId", func(e *jx.Encoder) { e.Str(res.CaptureID) })
		e.Field("amount", func(e *jx.Encoder) { e.Str(res.Amount.StringFixed(2)) })
		e.Field("currency", func(e *jx.Encoder) { e.Str(res.Currency) })
		if res.OrderNumber != "" {
			e.Field("orderNumber", func(e *jx.Encoder) { e.Str(res.OrderNumber) })
		}
	})
}

// VerifyPayment is the development stand-in for payment verification. With
// an order ledger it reports what the ledger recorded.
func (h *Handler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OrderNumber string          `json:"orderNumber"`
		Amount      json.RawMessage `json:"amount"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeBodyError(w, err, "Invalid payload")
		return
	}
	if req.OrderNumber == "" || len(req.Amount) == 0 {
		writeError(w, http.StatusBadRequest, "Missing orderNumber or amount")
		return
	}
	amount, err := order.ParseAmount(req.Amount)
	if err != nil || !amount.IsPositive() {
		writeError(w, http.StatusBadRequest, "Invalid amount")
		return
	}

	if h.orders != nil {
		rec, err := h.orders.Get(r.Context(), req.OrderNumber)
		switch {
		case errors.Is(err, order.ErrNotFound):
			writeError(w, http.StatusNotFound, "Order not found")
			return
		case err != nil:
			zctx.From(r.Context()).Error("Look up order", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "Internal error")
			return
		case !rec.Total.Equal(amount.Round(2)):
			writeError(w, http.StatusBadRequest, "Amount does not match order")
			return
		}
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Field("status", func(e *jx.Encoder) { e.Str("paid") })
		e.Field("orderNumber", func(e *jx.Encoder) { e.Str(req.OrderNumber) })
	})
}

// writePaymentError maps payment domain errors to HTTP responses.
func writePaymentError(w http.ResponseWriter, r *http.Request, err error) {
	lg := zctx.From(r.Context())

	var (
		qtyErr      *order.InvalidQuantityError
		priceErr    *order.InvalidPriceError
		mismatchErr *payment.AmountMismatchError
		cfgErr      *provider.ConfigError
		providerErr *provider.Error
	)
	switch {
	case errors.Is(err, order.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, "Invalid amount")
	case errors.Is(err, order.ErrEmptyCart):
		writeError(w, http.StatusBadRequest, "Cart is empty")
	case errors.Is(err, payment.ErrMissingOrderID):
		writeError(w, http.StatusBadRequest, "Missing orderID")
	case errors.As(err, &qtyErr):
		writeError(w, http.StatusBadRequest, qtyErr.Error())
	case errors.As(err, &priceErr):
		writeError(w, http.StatusBadRequest, priceErr.Error())
	case errors.As(err, &mismatchErr):
		writeError(w, http.StatusBadRequest, "Amount does not match cart total")
	case errors.As(err, &cfgErr):
		lg.Error("Payment provider not configured", zap.String("missing", cfgErr.Variable))
		writeError(w, http.StatusInternalServerError, cfgErr.Error())
	case errors.As(err, &providerErr):
		writeError(w, http.StatusInternalServerError, providerErr.Message)
	default:
		lg.Error("Payment request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal error")
	}
}
