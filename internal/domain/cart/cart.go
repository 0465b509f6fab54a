package cart

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/telshop/storefront/internal/domain/pricing"
)

var (
	// ErrNotFound is returned when no active cart exists for an owner.
	ErrNotFound = errors.New("cart not found")
	// ErrNoOwner is returned when a cart is created with neither an account
	// nor a session key.
	ErrNoOwner = errors.New("cart requires an account or a session key")
	// ErrAmbiguousOwner is returned when both owner kinds are set at once.
	ErrAmbiguousOwner = errors.New("cart cannot belong to both an account and a session")
	// ErrVersionConflict is returned when a concurrent mutation won the
	// optimistic version check. The caller should reload and retry.
	ErrVersionConflict = errors.New("cart was modified concurrently")
	// ErrInvalidQuantity is returned for non-positive add quantities.
	ErrInvalidQuantity = errors.New("quantity must be greater than 0")
)

// Owner identifies who a cart belongs to: a customer account or an anonymous
// session, never both.
type Owner struct {
	AccountID  string
	SessionKey string
}

func (o Owner) validate() error {
	switch {
	case o.AccountID == "" && o.SessionKey == "":
		return ErrNoOwner
	case o.AccountID != "" && o.SessionKey != "":
		return ErrAmbiguousOwner
	}
	return nil
}

// Line is one product entry in a cart. Prices are captured at recompute time;
// Discount and Total are derived:
// Discount == Quantity*max(0, PriorPrice-UnitPrice) and
// Total == Quantity*UnitPrice - Discount.
type Line struct {
	ProductID    string
	ProductName  string
	ProductSKU   string
	ProductBrand string
	Quantity     int
	UnitPrice    decimal.Decimal
	PriorPrice   decimal.Decimal
	Discount     decimal.Decimal
	Total        decimal.Decimal
	AddedAt      time.Time
}

// Cart is the mutable per-owner aggregate. Totals are cached but always
// recomputed synchronously before the cart is persisted or read back, so a
// stored cart's totals are derivable from its lines and promo state.
type Cart struct {
	ID        string
	Owner     Owner
	Lines     []Line
	PromoCode string
	Totals    pricing.Totals
	Active    bool
	Completed bool
	// Version backs the optimistic concurrency check on saves.
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// New creates an empty active cart for the given owner.
func New(owner Owner) (*Cart, error) {
	if err := owner.validate(); err != nil {
		return nil, err
	}
	now := time.Now()
	return &Cart{
		ID:        uuid.New().String(),
		Owner:     owner,
		Totals:    pricing.Zero(),
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Line returns the line for the given product, or nil.
func (c *Cart) Line(productID string) *Line {
	for i := range c.Lines {
		if c.Lines[i].ProductID == productID {
			return &c.Lines[i]
		}
	}
	return nil
}

func (c *Cart) removeLine(productID string) bool {
	for i := range c.Lines {
		if c.Lines[i].ProductID == productID {
			c.Lines = append(c.Lines[:i], c.Lines[i+1:]...)
			return true
		}
	}
	return false
}

// IsEmpty reports whether the cart has no lines.
func (c *Cart) IsEmpty() bool {
	return len(c.Lines) == 0
}

// TotalQuantity returns the summed quantity across all lines.
func (c *Cart) TotalQuantity() int {
	total := 0
	for _, l := range c.Lines {
		total += l.Quantity
	}
	return total
}

func (c *Cart) pricingLines() []pricing.Line {
	lines := make([]pricing.Line, len(c.Lines))
	for i, l := range c.Lines {
		lines[i] = pricing.Line{
			ProductID:  l.ProductID,
			Quantity:   l.Quantity,
			UnitPrice:  l.UnitPrice,
			PriorPrice: l.PriorPrice,
		}
	}
	return lines
}

// Repository defines persistence for carts. Save must enforce the optimistic
// version check and return ErrVersionConflict on a lost race.
type Repository interface {
	FindActive(ctx context.Context, owner Owner) (*Cart, error)
	Create(ctx context.Context, c *Cart) error
	Save(ctx context.Context, c *Cart) error
}
