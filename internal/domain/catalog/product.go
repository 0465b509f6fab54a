package catalog

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// ErrUnavailable is returned when a product exists but cannot be purchased
// (inactive, discontinued, or otherwise withheld from sale).
var ErrUnavailable = errors.New("product unavailable")

// InsufficientStockError indicates a requested quantity exceeds the stock
// available for a product.
type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

// Product is the catalog's view of a purchasable item. Price is the current
// unit price; OldPrice, when greater than Price, marks the item as discounted
// and is used for per-line discount display.
type Product struct {
	ID          string
	SKU         string
	Name        string
	Brand       string
	Price       decimal.Decimal
	OldPrice    decimal.Decimal
	Stock       int
	Purchasable bool
}

// Discounted reports whether the product carries a prior price higher than
// the current one.
func (p *Product) Discounted() bool {
	return p.OldPrice.GreaterThan(p.Price)
}

// Repository is the catalog lookup collaborator. Stock mutations must be
// atomic: DecrementStock is a conditional update that fails with
// InsufficientStockError instead of ever driving stock negative.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Product, error)
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
	DecrementStock(ctx context.Context, id string, qty int) error
	RestoreStock(ctx context.Context, id string, qty int) error
}
