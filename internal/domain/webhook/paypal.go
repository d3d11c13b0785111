package webhook

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/xenking/kaledukampelis/internal/domain/order"
	"github.com/xenking/kaledukampelis/internal/domain/provider"
)

// PayPal event types with dedicated enrichment.
const (
	PayPalCheckoutOrderApproved   = "CHECKOUT.ORDER.APPROVED"
	PayPalPaymentCaptureCompleted = "PAYMENT.CAPTURE.COMPLETED"
)

// PayPalHeaders are the transmission headers PayPal signs each delivery with.
type PayPalHeaders struct {
	TransmissionID   string
	TransmissionTime string
	CertURL          string
	AuthAlgo         string
	TransmissionSig  string
}

// PayPalMoney is an amount as PayPal encodes it.
type PayPalMoney struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

// PayPalItem is one purchase unit line.
type PayPalItem struct {
	Name       string       `json:"name"`
	Quantity   string       `json:"quantity"`
	UnitAmount *PayPalMoney `json:"unit_amount,omitempty"`
}

// PayPalAddress is a PayPal postal address.
type PayPalAddress struct {
	AddressLine1 string `json:"address_line_1,omitempty"`
	AddressLine2 string `json:"address_line_2,omitempty"`
	AdminArea2   string `json:"admin_area_2,omitempty"`
	PostalCode   string `json:"postal_code,omitempty"`
	CountryCode  string `json:"country_code,omitempty"`
}

// PayPalShippingName is the recipient name on a shipping block.
type PayPalShippingName struct {
	FullName string `json:"full_name"`
}

// PayPalShipping is the shipping block of a purchase unit.
type PayPalShipping struct {
	Name    *PayPalShippingName `json:"name,omitempty"`
	Address *PayPalAddress      `json:"address,omitempty"`
}

// PayPalPayments lists the captures made against a purchase unit.
type PayPalPayments struct {
	Captures []PayPalResource `json:"captures,omitempty"`
}

// PayPalPurchaseUnit is one purchase unit of an order.
type PayPalPurchaseUnit struct {
	ReferenceID string          `json:"reference_id,omitempty"`
	InvoiceID   string          `json:"invoice_id,omitempty"`
	Amount      *PayPalMoney    `json:"amount,omitempty"`
	Items       []PayPalItem    `json:"items,omitempty"`
	Shipping    *PayPalShipping `json:"shipping,omitempty"`
	Payments    *PayPalPayments `json:"payments,omitempty"`
}

// PayPalPayerName is the buyer's name.
type PayPalPayerName struct {
	GivenName string `json:"given_name"`
	Surname   string `json:"surname"`
}

// PayPalPayer identifies the buyer.
type PayPalPayer struct {
	Name         *PayPalPayerName `json:"name,omitempty"`
	EmailAddress string           `json:"email_address,omitempty"`
}

// PayPalLink is a HATEOAS link.
type PayPalLink struct {
	Href   string `json:"href"`
	Rel    string `json:"rel"`
	Method string `json:"method,omitempty"`
}

// PayPalResource is the shape shared by orders and captures, both as event
// resources and as API responses.
type PayPalResource struct {
	ID            string               `json:"id"`
	Status        string               `json:"status,omitempty"`
	InvoiceID     string               `json:"invoice_id,omitempty"`
	Amount        *PayPalMoney         `json:"amount,omitempty"`
	PurchaseUnits []PayPalPurchaseUnit `json:"purchase_units,omitempty"`
	Payer         *PayPalPayer         `json:"payer,omitempty"`
	Links         []PayPalLink         `json:"links,omitempty"`
}

// PayPalEvent is a PayPal webhook event.
type PayPalEvent struct {
	ID        string         `json:"id"`
	EventType string         `json:"event_type"`
	Resource  PayPalResource `json:"resource"`
}

// firstUnit returns the first purchase unit or nil.
func (r *PayPalResource) firstUnit() *PayPalPurchaseUnit {
	if r == nil || len(r.PurchaseUnits) == 0 {
		return nil
	}
	return &r.PurchaseUnits[0]
}

// OrderLink returns the href of the parent order of a capture, preferring
// an "up" link that points at a checkout order.
func (r *PayPalResource) OrderLink() string {
	var up string
	for _, l := range r.Links {
		if l.Rel != "up" {
			continue
		}
		if strings.Contains(l.Href, "/checkout/orders/") {
			return l.Href
		}
		if up == "" {
			up = l.Href
		}
	}
	return up
}

// ToNotification maps the event into a notification using only the data in
// the event itself. The total is zero when the event carries none.
func (e *PayPalEvent) ToNotification() *order.Notification {
	res := &e.Resource
	n := &order.Notification{
		Provider:    provider.PayPal,
		OrderNumber: res.ID,
		Currency:    "EUR",
	}

	if e.EventType == PayPalCheckoutOrderApproved {
		if pu := res.firstUnit(); pu != nil {
			setTotal(n, pu.Amount)
		}
		if p := res.Payer; p != nil {
			if p.Name != nil {
				n.Customer.Name = p.Name.GivenName
				n.Customer.Surname = p.Name.Surname
			}
			n.Customer.Email = p.EmailAddress
		}
	}

	// Captures carry the amount on the resource itself.
	if n.Total.IsZero() {
		setTotal(n, res.Amount)
	}
	if n.Total.IsZero() {
		if pu := res.firstUnit(); pu != nil {
			setTotal(n, pu.Amount)
		}
	}

	if num := storefrontOrderNumber(res); num != "" {
		n.OrderNumber = num
	}
	return n
}

// Enrich fills items and shipping details from the full order.
func Enrich(n *order.Notification, ord *PayPalResource) {
	pu := ord.firstUnit()
	if pu == nil {
		return
	}
	if n.Total.IsZero() {
		setTotal(n, pu.Amount)
	}
	// Key notifications by the order so that approval and capture events
	// for the same purchase dedupe against each other.
	if num := storefrontOrderNumber(ord); num != "" {
		n.OrderNumber = num
	} else if ord.ID != "" {
		n.OrderNumber = ord.ID
	}

	n.Items = n.Items[:0]
	for _, it := range pu.Items {
		qty, err := strconv.Atoi(it.Quantity)
		if err != nil || qty <= 0 {
			qty = 1
		}
		var price decimal.Decimal
		if it.UnitAmount != nil {
			price, _ = order.ParsePrice(it.UnitAmount.Value)
		}
		n.Items = append(n.Items, order.NotificationItem{
			Name:      it.Name,
			Quantity:  qty,
			UnitPrice: price,
		})
	}

	ship := pu.Shipping
	if ship == nil {
		return
	}
	if n.Customer.Name == "" && ship.Name != nil && ship.Name.FullName != "" {
		first, rest, _ := strings.Cut(strings.TrimSpace(ship.Name.FullName), " ")
		n.Customer.Name = first
		n.Customer.Surname = strings.TrimSpace(rest)
	}
	if a := ship.Address; a != nil {
		var lines []string
		for _, l := range []string{a.AddressLine1, a.AddressLine2} {
			if l != "" {
				lines = append(lines, l)
			}
		}
		n.Customer.Address = strings.Join(lines, ", ")
		n.Customer.City = a.AdminArea2
		n.Customer.PostalCode = a.PostalCode
	}
}

// storefrontOrderNumber returns the ORD- number the storefront attached to
// a PayPal order or capture, or "".
func storefrontOrderNumber(r *PayPalResource) string {
	candidates := []string{r.InvoiceID}
	if pu := r.firstUnit(); pu != nil {
		candidates = append(candidates, pu.InvoiceID, pu.ReferenceID)
	}
	for _, c := range candidates {
		if order.IsOrderNumber(c) {
			return c
		}
	}
	return ""
}

func setTotal(n *order.Notification, m *PayPalMoney) {
	if m == nil || m.Value == "" {
		return
	}
	v, err := order.ParseAmountString(m.Value)
	if err != nil {
		return
	}
	n.Total = v
	if m.CurrencyCode != "" {
		n.Currency = m.CurrencyCode
	}
}
