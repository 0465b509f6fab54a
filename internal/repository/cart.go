package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/telshop/storefront/internal/domain/cart"
	"github.com/telshop/storefront/internal/domain/pricing"
)

const (
	findActiveCartSQL = `SELECT id, account_id, session_key, promo_code,
		subtotal, line_discount, promo_discount, delivery_cost, final_price, free_delivery,
		active, completed, version, created_at, updated_at
		FROM carts WHERE active = TRUE
		AND ((account_id = $1 AND $1 <> '') OR (session_key = $2 AND $2 <> ''))`

	getCartLinesSQL = `SELECT product_id, product_name, product_sku, product_brand,
		quantity, unit_price, prior_price, discount, total, added_at
		FROM cart_lines WHERE cart_id = $1 ORDER BY added_at`

	createCartSQL = `INSERT INTO carts (id, account_id, session_key, promo_code,
		subtotal, line_discount, promo_discount, delivery_cost, final_price, free_delivery,
		active, completed, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	saveCartSQL = `UPDATE carts SET promo_code = $2,
		subtotal = $3, line_discount = $4, promo_discount = $5, delivery_cost = $6,
		final_price = $7, free_delivery = $8, active = $9, completed = $10,
		version = version + 1, updated_at = $11
		WHERE id = $1 AND version = $12`

	deleteCartLinesSQL = `DELETE FROM cart_lines WHERE cart_id = $1`

	insertCartLineSQL = `INSERT INTO cart_lines (cart_id, product_id, product_name,
		product_sku, product_brand, quantity, unit_price, prior_price, discount, total, added_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
)

var _ cart.Repository = (*CartRepository)(nil)

// CartRepository implements cart.Repository backed by PostgreSQL. Saves are
// guarded by the cart's version column; lines are replaced wholesale, which
// keeps the write path simple at cart-sized row counts.
type CartRepository struct {
	db *DB
}

// NewCartRepository returns a CartRepository that uses the given DB.
func NewCartRepository(db *DB) *CartRepository {
	return &CartRepository{db: db}
}

// FindActive returns the owner's active cart with its lines.
func (r *CartRepository) FindActive(ctx context.Context, owner cart.Owner) (*cart.Cart, error) {
	rows, err := r.db.q(ctx).Query(ctx, findActiveCartSQL, owner.AccountID, owner.SessionKey)
	if err != nil {
		return nil, fmt.Errorf("finding active cart: %w", err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCart)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, cart.ErrNotFound
		}
		return nil, fmt.Errorf("finding active cart: %w", err)
	}

	if err := r.loadLines(ctx, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// Create inserts a fresh cart. The version column starts at the cart's
// in-memory version so the first Save's check lines up.
func (r *CartRepository) Create(ctx context.Context, c *cart.Cart) error {
	_, err := r.db.q(ctx).Exec(ctx, createCartSQL,
		c.ID, c.Owner.AccountID, c.Owner.SessionKey, c.PromoCode,
		c.Totals.Subtotal, c.Totals.LineDiscount, c.Totals.PromoDiscount,
		c.Totals.DeliveryCost, c.Totals.FinalPrice, c.Totals.FreeDelivery,
		c.Active, c.Completed, c.Version, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating cart %q: %w", c.ID, err)
	}
	return r.replaceLines(ctx, c)
}

// Save persists the cart under the optimistic version check and replaces its
// lines. On success the in-memory version advances to match the row.
func (r *CartRepository) Save(ctx context.Context, c *cart.Cart) error {
	return r.db.InTx(ctx, func(ctx context.Context) error {
		tag, err := r.db.q(ctx).Exec(ctx, saveCartSQL,
			c.ID, c.PromoCode,
			c.Totals.Subtotal, c.Totals.LineDiscount, c.Totals.PromoDiscount,
			c.Totals.DeliveryCost, c.Totals.FinalPrice, c.Totals.FreeDelivery,
			c.Active, c.Completed, c.UpdatedAt, c.Version,
		)
		if err != nil {
			return fmt.Errorf("saving cart %q: %w", c.ID, err)
		}
		if tag.RowsAffected() == 0 {
			return cart.ErrVersionConflict
		}

		if err := r.replaceLines(ctx, c); err != nil {
			return err
		}
		c.Version++
		return nil
	})
}

func (r *CartRepository) loadLines(ctx context.Context, c *cart.Cart) error {
	rows, err := r.db.q(ctx).Query(ctx, getCartLinesSQL, c.ID)
	if err != nil {
		return fmt.Errorf("loading lines for cart %q: %w", c.ID, err)
	}
	lines, err := pgx.CollectRows(rows, scanCartLine)
	if err != nil {
		return fmt.Errorf("loading lines for cart %q: %w", c.ID, err)
	}
	c.Lines = lines
	return nil
}

func (r *CartRepository) replaceLines(ctx context.Context, c *cart.Cart) error {
	q := r.db.q(ctx)
	if _, err := q.Exec(ctx, deleteCartLinesSQL, c.ID); err != nil {
		return fmt.Errorf("clearing lines for cart %q: %w", c.ID, err)
	}
	for _, l := range c.Lines {
		_, err := q.Exec(ctx, insertCartLineSQL,
			c.ID, l.ProductID, l.ProductName, l.ProductSKU, l.ProductBrand,
			l.Quantity, l.UnitPrice, l.PriorPrice, l.Discount, l.Total, l.AddedAt,
		)
		if err != nil {
			return fmt.Errorf("inserting line for cart %q: %w", c.ID, err)
		}
	}
	return nil
}

func scanCart(row pgx.CollectableRow) (cart.Cart, error) {
	var (
		c      cart.Cart
		totals pricing.Totals
	)
	err := row.Scan(
		&c.ID, &c.Owner.AccountID, &c.Owner.SessionKey, &c.PromoCode,
		&totals.Subtotal, &totals.LineDiscount, &totals.PromoDiscount,
		&totals.DeliveryCost, &totals.FinalPrice, &totals.FreeDelivery,
		&c.Active, &c.Completed, &c.Version, &c.CreatedAt, &c.UpdatedAt,
	)
	c.Totals = totals
	return c, err
}

func scanCartLine(row pgx.CollectableRow) (cart.Line, error) {
	var l cart.Line
	err := row.Scan(
		&l.ProductID, &l.ProductName, &l.ProductSKU, &l.ProductBrand,
		&l.Quantity, &l.UnitPrice, &l.PriorPrice, &l.Discount, &l.Total, &l.AddedAt,
	)
	return l, err
}
