package webhook

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/xenking/kaledukampelis/internal/domain/order"
	"github.com/xenking/kaledukampelis/internal/domain/provider"
)

// Stripe event types handled by the service.
const (
	StripePaymentIntentSucceeded = "payment_intent.succeeded"
)

// StripePaymentIntent is the part of a Stripe PaymentIntent the webhook uses.
type StripePaymentIntent struct {
	ID           string
	Amount       int64
	Currency     string
	ReceiptEmail string
	Metadata     map[string]string
}

// StripeEvent is a verified Stripe webhook event. PaymentIntent is set for
// payment_intent.* events.
type StripeEvent struct {
	ID            string
	Type          string
	PaymentIntent *StripePaymentIntent
}

// ToNotification maps a payment_intent.succeeded event to an order
// notification. It reports false for any other event.
func (e *StripeEvent) ToNotification() (*order.Notification, bool) {
	if e.Type != StripePaymentIntentSucceeded || e.PaymentIntent == nil {
		return nil, false
	}
	pi := e.PaymentIntent
	md := pi.Metadata

	orderNumber := strings.TrimSpace(md["order_id"])
	if orderNumber == "" {
		orderNumber = order.DerivedOrderNumber(pi.ID)
	}
	email := md["email"]
	if email == "" {
		email = pi.ReceiptEmail
	}

	n := &order.Notification{
		Provider:    provider.Stripe,
		OrderNumber: orderNumber,
		Total:       decimal.New(pi.Amount, -2),
		Currency:    strings.ToUpper(pi.Currency),
		Customer: order.Customer{
			Name:    md["name"],
			Surname: md["surname"],
			Email:   email,
			Phone:   md["phone"],
			Address: md["address"],
		},
	}
	if items, ok := parseItemsSummary(md["items"]); ok {
		n.Items = items
	} else {
		n.ItemsText = strings.TrimSpace(md["items"])
	}
	return n, true
}

var summaryLineRe = regexp.MustCompile(`^(.+) × ([0-9]+) — €([0-9]{1,9}(?:\.[0-9]{1,2})?)$`)

// parseItemsSummary recovers line items from the "name × qty — €line"
// summary stored in metadata. It reports false if any line does not match.
func parseItemsSummary(summary string) ([]order.NotificationItem, bool) {
	var items []order.NotificationItem
	for _, line := range strings.Split(summary, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		m := summaryLineRe.FindStringSubmatch(line)
		if m == nil {
			return nil, false
		}
		qty, err := strconv.Atoi(m[2])
		if err != nil || qty <= 0 {
			return nil, false
		}
		lineTotal, err := order.ParsePrice(m[3])
		if err != nil {
			return nil, false
		}
		items = append(items, order.NotificationItem{
			Name:      m[1],
			Quantity:  qty,
			UnitPrice: lineTotal.Div(decimal.NewFromInt(int64(qty))).Round(2),
			Total:     &lineTotal,
		})
	}
	return items, true
}
