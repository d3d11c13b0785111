// Command ledger-db prepares the optional order ledger: it applies the
// embedded schema, backfills orders from a JSON export and looks single
// orders up.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"

	"github.com/xenking/kaledukampelis/internal/domain/order"
	"github.com/xenking/kaledukampelis/internal/domain/provider"
	"github.com/xenking/kaledukampelis/internal/storage/postgres"
)

// orderJSON is one exported order, in the shape notify-discord receives.
type orderJSON struct {
	Provider    string                   `json:"provider"`
	OrderNumber string                   `json:"orderNumber"`
	Total       json.RawMessage          `json:"total"`
	Currency    string                   `json:"currency"`
	Customer    order.Customer           `json:"customer"`
	Items       []order.NotificationItem `json:"items"`
}

func main() {
	var (
		databaseURL string
		importFile  string
		lookup      string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&importFile, "import", "", "path to a JSON array of orders to backfill")
	flag.StringVar(&lookup, "order", "", "order number to print")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, importFile, lookup); err != nil {
		slog.Error("ledger-db failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, databaseURL, importFile, lookup string) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	repo := postgres.NewOrderRepository(pool)

	if importFile != "" {
		if err := importOrders(ctx, repo, importFile); err != nil {
			return errors.Wrap(err, "import orders")
		}
	}

	if lookup != "" {
		if err := printOrder(ctx, repo, lookup); err != nil {
			return errors.Wrap(err, "print order")
		}
	}

	return nil
}

func importOrders(ctx context.Context, repo order.Repository, path string) error {
	slog.Info("reading orders file", slog.String("path", path))

	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "read orders file")
	}

	var orders []orderJSON
	if err := json.Unmarshal(data, &orders); err != nil {
		return errors.Wrap(err, "parse orders JSON")
	}

	slog.Info("importing orders", slog.Int("count", len(orders)))

	for _, o := range orders {
		total, err := order.ParseAmount(o.Total)
		if err != nil {
			return errors.Wrapf(err, "order %q", o.OrderNumber)
		}
		n := &order.Notification{
			Provider:    provider.ParseName(o.Provider),
			OrderNumber: o.OrderNumber,
			Total:       total,
			Currency:    o.Currency,
			Customer:    o.Customer,
			Items:       o.Items,
		}
		if err := n.Validate(); err != nil {
			return errors.Wrapf(err, "order %q", o.OrderNumber)
		}
		if err := repo.Create(ctx, n.Record()); err != nil {
			return errors.Wrapf(err, "create order %s", o.OrderNumber)
		}

		slog.Info("imported order", slog.String("order_number", o.OrderNumber), slog.String("total", total.StringFixed(2)))
	}

	return nil
}

func printOrder(ctx context.Context, repo order.Finder, orderNumber string) error {
	rec, err := repo.Get(ctx, orderNumber)
	if err != nil {
		return err
	}

	total, err := rec.Total.MarshalJSON()
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(orderJSON{
		Provider:    string(rec.Provider),
		OrderNumber: rec.OrderNumber,
		Total:       total,
		Currency:    rec.Currency,
		Customer:    rec.Customer,
		Items:       rec.Items,
	})
}
