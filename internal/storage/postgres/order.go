package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/kaledukampelis/internal/domain/order"
	"github.com/xenking/kaledukampelis/internal/domain/provider"
)

var (
	_ order.Repository = (*OrderRepository)(nil)
	_ order.Finder     = (*OrderRepository)(nil)
)

const insertOrder = `
INSERT INTO orders (order_number, provider, total, currency, customer, items)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (order_number) DO NOTHING`

const selectOrder = `
SELECT order_number, provider, total, currency, customer, items, created_at
FROM orders
WHERE order_number = $1`

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists a paid order. Customer and items are serialized to JSON
// for the JSONB columns. A second insert of the same order number is ignored.
func (r *OrderRepository) Create(ctx context.Context, rec *order.Record) error {
	customerJSON, err := json.Marshal(rec.Customer)
	if err != nil {
		return errors.Wrap(err, "marshal customer")
	}
	items := rec.Items
	if items == nil {
		items = []order.NotificationItem{}
	}
	itemsJSON, err := json.Marshal(items)
	if err != nil {
		return errors.Wrap(err, "marshal items")
	}

	_, err = r.pool.Exec(ctx, insertOrder,
		rec.OrderNumber,
		string(rec.Provider),
		rec.Total,
		rec.Currency,
		customerJSON,
		itemsJSON,
	)
	if err != nil {
		return errors.Wrapf(err, "create order %q", rec.OrderNumber)
	}
	return nil
}

// Get loads a single order by number.
func (r *OrderRepository) Get(ctx context.Context, orderNumber string) (*order.Record, error) {
	var (
		rec          order.Record
		providerName string
		total        decimal.Decimal
		customerJSON []byte
		itemsJSON    []byte
		createdAt    time.Time
	)
	err := r.pool.QueryRow(ctx, selectOrder, orderNumber).Scan(
		&rec.OrderNumber,
		&providerName,
		&total,
		&rec.Currency,
		&customerJSON,
		&itemsJSON,
		&createdAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, order.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get order %q", orderNumber)
	}

	if err := json.Unmarshal(customerJSON, &rec.Customer); err != nil {
		return nil, errors.Wrap(err, "unmarshal customer")
	}
	if err := json.Unmarshal(itemsJSON, &rec.Items); err != nil {
		return nil, errors.Wrap(err, "unmarshal items")
	}
	rec.Provider = provider.Name(providerName)
	rec.Total = total
	rec.CreatedAt = createdAt

	return &rec, nil
}
