package order

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kaledukampelis/internal/domain/provider"
)

// ErrMissingOrderNumber is returned when a notification cannot be keyed.
var ErrMissingOrderNumber = errors.New("order number required")

// NotificationItem is one purchased line as shown to staff.
type NotificationItem struct {
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"price"`
	Color     string          `json:"selectedColor,omitempty"`
	// Total is the line total when the source states it, as provider
	// metadata does.
	Total *decimal.Decimal `json:"lineTotal,omitempty"`
}

func (i *NotificationItem) UnmarshalJSON(data []byte) error {
	type plain NotificationItem
	aux := struct {
		*plain
		Price json.RawMessage `json:"price"`
		Total json.RawMessage `json:"lineTotal"`
	}{plain: (*plain)(i)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	price, err := decodePrice(aux.Price)
	if err != nil {
		return errors.Wrapf(err, "price of %q", i.Name)
	}
	i.UnitPrice = price
	i.Total = nil
	if len(aux.Total) > 0 && string(aux.Total) != "null" {
		total, err := decodePrice(aux.Total)
		if err != nil {
			return errors.Wrapf(err, "line total of %q", i.Name)
		}
		i.Total = &total
	}
	return nil
}

// LineTotal returns the stated line total, or unit price times quantity. A
// missing quantity counts as one.
func (i NotificationItem) LineTotal() decimal.Decimal {
	if i.Total != nil {
		return *i.Total
	}
	qty := i.Quantity
	if qty <= 0 {
		qty = 1
	}
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(qty)))
}

// Notification is the payload describing a paid order, regardless of which
// provider confirmed it.
type Notification struct {
	Provider    provider.Name
	OrderNumber string
	Total       decimal.Decimal
	Currency    string
	Customer    Customer
	Items       []NotificationItem
	// ItemsText is a free-form item list used when structured items are
	// not available.
	ItemsText   string
}

// Validate checks the fields every delivery path relies on.
func (n *Notification) Validate() error {
	if strings.TrimSpace(n.OrderNumber) == "" {
		return ErrMissingOrderNumber
	}
	if !n.Total.IsPositive() {
		return ErrInvalidAmount
	}
	return nil
}

// Record converts the notification into a ledger record.
func (n *Notification) Record() *Record {
	currency := n.Currency
	if currency == "" {
		currency = "EUR"
	}
	return &Record{
		OrderNumber: n.OrderNumber,
		Provider:    n.Provider,
		Total:       n.Total.Round(2),
		Currency:    strings.ToUpper(currency),
		Customer:    n.Customer,
		Items:       n.Items,
	}
}

// ItemsSummary renders line items as "name × qty — €line" lines, the form
// the storefront stores in provider metadata.
func ItemsSummary(items []LineItem) string {
	var sb strings.Builder
	for i, item := range items {
		if i > 0 {
			sb.WriteByte('\n')
		}
		line := UnitCents(item) * int64(item.Quantity)
		sb.WriteString(item.Name)
		sb.WriteString(" × ")
		sb.WriteString(strconv.Itoa(item.Quantity))
		sb.WriteString(" — €")
		sb.WriteString(FormatCents(line))
	}
	return sb.String()
}
