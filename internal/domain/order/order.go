package order

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kaledukampelis/internal/domain/provider"
)

// LineItem is a single cart line as sent by the storefront. Prices are in
// euros; the catalog lives client-side so the server never looks them up.
type LineItem struct {
	ProductID     string          `json:"id"`
	Name          string          `json:"name"`
	UnitPrice     decimal.Decimal `json:"price"`
	Quantity      int             `json:"quantity"`
	SelectedColor string          `json:"selectedColor,omitempty"`
	SelectedSize  string          `json:"selectedSize,omitempty"`
}

func (i *LineItem) UnmarshalJSON(data []byte) error {
	type plain LineItem
	aux := struct {
		*plain
		Price json.RawMessage `json:"price"`
	}{plain: (*plain)(i)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	price, err := decodePrice(aux.Price)
	if err != nil {
		return errors.Wrapf(err, "price of %q", i.ProductID)
	}
	i.UnitPrice = price
	return nil
}

// Customer holds the shipping and contact details entered at checkout.
type Customer struct {
	Name       string `json:"name"`
	Surname    string `json:"surname"`
	Email      string `json:"email"`
	Phone      string `json:"phone"`
	Address    string `json:"address"`
	City       string `json:"city"`
	PostalCode string `json:"postalCode"`
}

// Record is a paid order kept in the optional order ledger.
type Record struct {
	OrderNumber string
	Provider    provider.Name
	Total       decimal.Decimal
	Currency    string
	Customer    Customer
	Items       []NotificationItem
	CreatedAt   time.Time
}

// ErrNotFound is returned when the ledger has no order with the given number.
var ErrNotFound = errors.New("order not found")

// Repository defines persistence operations for the order ledger.
type Repository interface {
	// Create stores the record. Storing an order number twice is a no-op.
	Create(ctx context.Context, rec *Record) error
}

// Finder looks up ledger records.
type Finder interface {
	Get(ctx context.Context, orderNumber string) (*Record, error)
}
