package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/telshop/storefront/internal/domain/catalog"
)

const (
	getProductByIDSQL = `SELECT id, sku, name, brand, price, old_price, stock, purchasable
		FROM products WHERE id = $1`

	getProductsByIDsSQL = `SELECT id, sku, name, brand, price, old_price, stock, purchasable
		FROM products WHERE id = ANY($1)`

	listProductsSQL = `SELECT id, sku, name, brand, price, old_price, stock, purchasable
		FROM products ORDER BY id`

	decrementStockSQL = `UPDATE products SET stock = stock - $2
		WHERE id = $1 AND stock >= $2`

	restoreStockSQL = `UPDATE products SET stock = stock + $2 WHERE id = $1`

	getStockSQL = `SELECT stock FROM products WHERE id = $1`
)

var _ catalog.Repository = (*CatalogRepository)(nil)

// CatalogRepository implements catalog.Repository backed by PostgreSQL.
type CatalogRepository struct {
	db *DB
}

// NewCatalogRepository returns a CatalogRepository that uses the given DB.
func NewCatalogRepository(db *DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

// GetByID returns a single product by its identifier.
func (r *CatalogRepository) GetByID(ctx context.Context, id string) (*catalog.Product, error) {
	rows, err := r.db.q(ctx).Query(ctx, getProductByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrNotFound
		}
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}
	return &p, nil
}

// GetByIDs returns products matching any of the given IDs. Missing IDs are
// simply absent from the result.
func (r *CatalogRepository) GetByIDs(ctx context.Context, ids []string) ([]catalog.Product, error) {
	rows, err := r.db.q(ctx).Query(ctx, getProductsByIDsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("getting products by ids: %w", err)
	}
	return pgx.CollectRows(rows, scanProduct)
}

// List returns all products ordered by ID.
func (r *CatalogRepository) List(ctx context.Context) ([]catalog.Product, error) {
	rows, err := r.db.q(ctx).Query(ctx, listProductsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	return pgx.CollectRows(rows, scanProduct)
}

// DecrementStock conditionally reserves qty units. The guard in the UPDATE
// keeps stock from ever going negative; on failure the current stock is read
// back to build the error.
func (r *CatalogRepository) DecrementStock(ctx context.Context, id string, qty int) error {
	tag, err := r.db.q(ctx).Exec(ctx, decrementStockSQL, id, qty)
	if err != nil {
		return fmt.Errorf("decrementing stock for product %q: %w", id, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var available int
	err = r.db.q(ctx).QueryRow(ctx, getStockSQL, id).Scan(&available)
	if errors.Is(err, pgx.ErrNoRows) {
		return catalog.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("reading stock for product %q: %w", id, err)
	}
	return &catalog.InsufficientStockError{ProductID: id, Requested: qty, Available: available}
}

// RestoreStock returns qty units to the shelf.
func (r *CatalogRepository) RestoreStock(ctx context.Context, id string, qty int) error {
	tag, err := r.db.q(ctx).Exec(ctx, restoreStockSQL, id, qty)
	if err != nil {
		return fmt.Errorf("restoring stock for product %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return catalog.ErrNotFound
	}
	return nil
}

func scanProduct(row pgx.CollectableRow) (catalog.Product, error) {
	var p catalog.Product
	err := row.Scan(
		&p.ID, &p.SKU, &p.Name, &p.Brand,
		&p.Price, &p.OldPrice, &p.Stock, &p.Purchasable,
	)
	return p, err
}
