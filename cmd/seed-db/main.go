// Command seed-db loads demo catalog data, promo codes, and a demo account
// into the database. It is idempotent: rerunning upserts the same rows.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/telshop/storefront/internal/repository"
)

type productJSON struct {
	ID          string          `json:"id"`
	SKU         string          `json:"sku"`
	Name        string          `json:"name"`
	Brand       string          `json:"brand"`
	Price       decimal.Decimal `json:"price"`
	OldPrice    decimal.Decimal `json:"old_price"`
	Stock       int             `json:"stock"`
	Purchasable bool            `json:"purchasable"`
}

type promoSeed struct {
	code        string
	kind        string
	value       decimal.Decimal
	minOrder    decimal.Decimal
	description string
	maxUses     int
}

const (
	upsertProductSQL = `INSERT INTO products (id, sku, name, brand, price, old_price, stock, purchasable)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			sku = EXCLUDED.sku, name = EXCLUDED.name, brand = EXCLUDED.brand,
			price = EXCLUDED.price, old_price = EXCLUDED.old_price,
			stock = EXCLUDED.stock, purchasable = EXCLUDED.purchasable`

	upsertPromoSQL = `INSERT INTO promo_codes (code, kind, value, min_order_amount,
			description, valid_from, valid_until, max_uses, uses, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, TRUE)
		ON CONFLICT (code) DO UPDATE SET
			kind = EXCLUDED.kind, value = EXCLUDED.value,
			min_order_amount = EXCLUDED.min_order_amount,
			description = EXCLUDED.description,
			valid_from = EXCLUDED.valid_from, valid_until = EXCLUDED.valid_until,
			max_uses = EXCLUDED.max_uses, active = TRUE`

	upsertAddressSQL = `INSERT INTO addresses (id, account_id, city, street, house, apartment, postal_code)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			city = EXCLUDED.city, street = EXCLUDED.street, house = EXCLUDED.house,
			apartment = EXCLUDED.apartment, postal_code = EXCLUDED.postal_code`

	upsertBalanceSQL = `INSERT INTO bonus_balances (account_id, points) VALUES ($1, $2)
		ON CONFLICT (account_id) DO UPDATE SET points = EXCLUDED.points`
)

func main() {
	var (
		databaseURL  string
		productsFile string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&productsFile, "products-file", "db/seed/products.json", "path to products JSON file")
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

	if err := run(ctx, databaseURL, productsFile); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, productsFile string) error {
	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedProducts(ctx, pool, productsFile); err != nil {
		return errors.Wrap(err, "seed products")
	}
	if err := seedPromoCodes(ctx, pool); err != nil {
		return errors.Wrap(err, "seed promo codes")
	}
	if err := seedDemoAccount(ctx, pool); err != nil {
		return errors.Wrap(err, "seed demo account")
	}

	return nil
}

func seedProducts(ctx context.Context, pool *pgxpool.Pool, productsFile string) error {
	slog.Info("reading products file", slog.String("path", productsFile))

	data, err := os.ReadFile(productsFile)
	if err != nil {
		return errors.Wrap(err, "read products file")
	}

	var products []productJSON
	if err := json.Unmarshal(data, &products); err != nil {
		return errors.Wrap(err, "parse products JSON")
	}

	slog.Info("upserting products", slog.Int("count", len(products)))

	for _, p := range products {
		if _, err := pool.Exec(ctx, upsertProductSQL,
			p.ID, p.SKU, p.Name, p.Brand, p.Price, p.OldPrice, p.Stock, p.Purchasable,
		); err != nil {
			return errors.Wrapf(err, "upsert product %s", p.ID)
		}

		slog.Info("upserted product", slog.String("id", p.ID), slog.String("name", p.Name))
	}

	return nil
}

func seedPromoCodes(ctx context.Context, pool *pgxpool.Pool) error {
	slog.Info("seeding promo codes")

	now := time.Now()
	validFrom := now.AddDate(0, -1, 0)
	validUntil := now.AddDate(1, 0, 0)

	promos := []promoSeed{
		{
			code:        "WELCOME10",
			kind:        "percentage",
			value:       decimal.NewFromInt(10),
			minOrder:    decimal.Zero,
			description: "Welcome: 10% off your order",
			maxUses:     0,
		},
		{
			code:        "SAVE500",
			kind:        "fixed",
			value:       decimal.NewFromInt(500),
			minOrder:    decimal.NewFromInt(2500),
			description: "500 off orders from 2500",
			maxUses:     0,
		},
		{
			code:        "SHIPFREE",
			kind:        "free_shipping",
			value:       decimal.Zero,
			minOrder:    decimal.Zero,
			description: "Free delivery on any order",
			maxUses:     1000,
		},
		{
			code:        "FLASH50",
			kind:        "fixed",
			value:       decimal.NewFromInt(50),
			minOrder:    decimal.Zero,
			description: "Flash sale: 50 off, one redemption",
			maxUses:     1,
		},
	}

	for _, p := range promos {
		if _, err := pool.Exec(ctx, upsertPromoSQL,
			p.code, p.kind, p.value, p.minOrder, p.description,
			validFrom, validUntil, p.maxUses,
		); err != nil {
			return errors.Wrapf(err, "upsert promo code %s", p.code)
		}

		slog.Info("upserted promo code", slog.String("code", p.code), slog.String("description", p.description))
	}

	return nil
}

func seedDemoAccount(ctx context.Context, pool *pgxpool.Pool) error {
	const accountID = "demo-account"

	slog.Info("seeding demo account", slog.String("account_id", accountID))

	addresses := [][7]string{
		{"demo-addr-home", accountID, "Springfield", "Evergreen Terrace", "742", "", "49007"},
		{"demo-addr-office", accountID, "Springfield", "Main Street", "100", "4B", "49001"},
		{"demo-addr-second", "demo-account-2", "Shelbyville", "Elm Street", "13", "", "49100"},
	}
	for _, a := range addresses {
		if _, err := pool.Exec(ctx, upsertAddressSQL, a[0], a[1], a[2], a[3], a[4], a[5], a[6]); err != nil {
			return errors.Wrapf(err, "upsert address %s", a[0])
		}

		slog.Info("upserted address", slog.String("id", a[0]))
	}

	if _, err := pool.Exec(ctx, upsertBalanceSQL, accountID, 500); err != nil {
		return errors.Wrap(err, "upsert bonus balance")
	}

	slog.Info("upserted bonus balance", slog.String("account_id", accountID), slog.Int("points", 500))

	return nil
}
