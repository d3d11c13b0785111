package paypal

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	paypalsdk "github.com/plutov/paypal/v4"
	"github.com/shopspring/decimal"

	"github.com/xenking/kaledukampelis/internal/domain/order"
	"github.com/xenking/kaledukampelis/internal/domain/payment"
	"github.com/xenking/kaledukampelis/internal/domain/webhook"
)

// maxItemName is PayPal's limit on item names.
const maxItemName = 127

var _ payment.PayPalGateway = (*Client)(nil)

// CreateOrder creates a CAPTURE intent order with one purchase unit keyed
// by the storefront order number.
func (c *Client) CreateOrder(ctx context.Context, p payment.PayPalOrderParams) (*payment.PayPalOrder, error) {
	units := []paypalsdk.PurchaseUnitRequest{{
		ReferenceID: p.OrderNumber,
		InvoiceID:   p.OrderNumber,
		Amount:      purchaseAmount(p),
		Items:       purchaseItems(p),
	}}
	appCtx := &paypalsdk.ApplicationContext{
		ShippingPreference: paypalsdk.ShippingPreferenceNoShipping,
	}

	out, err := c.api.CreateOrderWithPaypalRequestID(ctx, paypalsdk.OrderIntentCapture, units, nil, appCtx, uuid.NewString())
	if err != nil {
		return nil, apiError(http.MethodPost, "/v2/checkout/orders", err)
	}

	created := &payment.PayPalOrder{ID: out.ID, Status: out.Status}
	for _, l := range out.Links {
		if l.Rel == "approve" || l.Rel == "payer-action" {
			created.ApproveURL = l.Href
			break
		}
	}
	return created, nil
}

// CaptureOrder captures an approved order and reports the first capture.
// Retries reuse the request id, so PayPal captures at most once.
func (c *Client) CaptureOrder(ctx context.Context, orderID string) (*payment.PayPalCapture, error) {
	target := c.endpoint("/v2/checkout/orders/" + url.PathEscape(orderID) + "/capture")
	req, err := c.api.NewRequest(ctx, http.MethodPost, target, struct{}{})
	if err != nil {
		return nil, errors.Wrap(err, "create request")
	}
	req.Header.Set("PayPal-Request-Id", "capture-"+orderID)
	req.Header.Set("Prefer", "return=representation")

	var out webhook.PayPalResource
	if err := c.send(req, &out); err != nil {
		return nil, err
	}

	res := &payment.PayPalCapture{OrderID: out.ID, Status: out.Status}
	if len(out.PurchaseUnits) == 0 {
		return res, nil
	}
	pu := out.PurchaseUnits[0]
	for _, num := range []string{pu.InvoiceID, pu.ReferenceID} {
		if order.IsOrderNumber(num) {
			res.OrderNumber = num
			break
		}
	}
	if pu.Payments != nil && len(pu.Payments.Captures) > 0 {
		capture := pu.Payments.Captures[0]
		res.CaptureID = capture.ID
		if capture.Status != "" {
			res.Status = capture.Status
		}
		if res.OrderNumber == "" && order.IsOrderNumber(capture.InvoiceID) {
			res.OrderNumber = capture.InvoiceID
		}
		if m := capture.Amount; m != nil {
			res.Amount, _ = order.ParseAmountString(m.Value)
			res.Currency = m.CurrencyCode
		}
	}
	return res, nil
}

func purchaseAmount(p payment.PayPalOrderParams) *paypalsdk.PurchaseUnitAmount {
	amount := &paypalsdk.PurchaseUnitAmount{
		Currency: p.Currency,
		Value:    p.Amount.StringFixed(2),
	}
	if b := p.Breakdown; b != nil {
		amount.Breakdown = &paypalsdk.PurchaseUnitAmountBreakdown{
			ItemTotal: money(p.Currency, b.ItemTotal),
			Shipping:  money(p.Currency, b.Shipping),
			Handling:  money(p.Currency, b.Handling),
		}
	}
	return amount
}

func purchaseItems(p payment.PayPalOrderParams) []paypalsdk.Item {
	if len(p.Items) == 0 {
		return nil
	}
	items := make([]paypalsdk.Item, 0, len(p.Items))
	for _, it := range p.Items {
		name := []rune(it.Name)
		if len(name) > maxItemName {
			name = name[:maxItemName]
		}
		items = append(items, paypalsdk.Item{
			Name:       string(name),
			Quantity:   strconv.Itoa(it.Quantity),
			UnitAmount: money(p.Currency, it.UnitAmount),
		})
	}
	return items
}

func money(currency string, v decimal.Decimal) *paypalsdk.Money {
	return &paypalsdk.Money{Currency: currency, Value: v.StringFixed(2)}
}
