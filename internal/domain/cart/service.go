package cart

import (
	"context"
	"time"

	"github.com/go-faster/errors"

	"github.com/telshop/storefront/internal/domain/catalog"
	"github.com/telshop/storefront/internal/domain/pricing"
	"github.com/telshop/storefront/internal/domain/promo"
)

// Service owns all cart mutations. Every mutating operation re-resolves
// product data, recomputes the cached totals, and persists the cart before
// returning, so callers always observe totals consistent with the lines.
type Service struct {
	carts    Repository
	products catalog.Repository
	promos   promo.Repository
	policy   pricing.Policy
	now      func() time.Time
}

// NewService creates a cart Service with the required collaborators.
func NewService(
	carts Repository,
	products catalog.Repository,
	promos promo.Repository,
	policy pricing.Policy,
) *Service {
	return &Service{
		carts:    carts,
		products: products,
		promos:   promos,
		policy:   policy,
		now:      time.Now,
	}
}

// Get returns the owner's active cart, creating an empty one on first
// interaction. The returned cart's totals are recomputed against current
// catalog prices.
func (s *Service) Get(ctx context.Context, owner Owner) (*Cart, error) {
	c, err := s.carts.FindActive(ctx, owner)
	if errors.Is(err, ErrNotFound) {
		c, err = New(owner)
		if err != nil {
			return nil, err
		}
		if err := s.carts.Create(ctx, c); err != nil {
			return nil, errors.Wrap(err, "create cart")
		}
		return c, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "find cart")
	}

	if err := s.recompute(ctx, c); err != nil {
		return nil, err
	}
	if err := s.carts.Save(ctx, c); err != nil {
		return nil, errors.Wrap(err, "save cart")
	}
	return c, nil
}

// AddItem creates or increments the line for a product after checking the
// product is purchasable and the cumulative quantity fits the stock. The cart
// is left unchanged on any failure.
func (s *Service) AddItem(ctx context.Context, owner Owner, productID string, quantity int) (*Cart, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}

	c, err := s.Get(ctx, owner)
	if err != nil {
		return nil, err
	}

	p, err := s.products.GetByID(ctx, productID)
	if err != nil {
		return nil, err
	}
	if !p.Purchasable {
		return nil, catalog.ErrUnavailable
	}

	cumulative := quantity
	if line := c.Line(productID); line != nil {
		cumulative += line.Quantity
	}
	if p.Stock < cumulative {
		return nil, &catalog.InsufficientStockError{
			ProductID: productID,
			Requested: cumulative,
			Available: p.Stock,
		}
	}

	if line := c.Line(productID); line != nil {
		line.Quantity = cumulative
	} else {
		c.Lines = append(c.Lines, Line{
			ProductID:    p.ID,
			ProductName:  p.Name,
			ProductSKU:   p.SKU,
			ProductBrand: p.Brand,
			Quantity:     quantity,
			UnitPrice:    p.Price,
			PriorPrice:   p.OldPrice,
			AddedAt:      s.now(),
		})
	}

	return c, s.finish(ctx, c)
}

// UpdateQuantity sets a line's quantity; zero or below removes the line.
func (s *Service) UpdateQuantity(ctx context.Context, owner Owner, productID string, quantity int) (*Cart, error) {
	c, err := s.Get(ctx, owner)
	if err != nil {
		return nil, err
	}

	line := c.Line(productID)
	if line == nil {
		return nil, catalog.ErrNotFound
	}

	if quantity <= 0 {
		c.removeLine(productID)
		return c, s.finish(ctx, c)
	}

	p, err := s.products.GetByID(ctx, productID)
	if err != nil {
		return nil, err
	}
	if p.Stock < quantity {
		return nil, &catalog.InsufficientStockError{
			ProductID: productID,
			Requested: quantity,
			Available: p.Stock,
		}
	}

	line.Quantity = quantity
	return c, s.finish(ctx, c)
}

// RemoveItem removes the line for a product. Removing an absent product is
// not an error.
func (s *Service) RemoveItem(ctx context.Context, owner Owner, productID string) (*Cart, error) {
	c, err := s.Get(ctx, owner)
	if err != nil {
		return nil, err
	}

	c.removeLine(productID)
	return c, s.finish(ctx, c)
}

// Clear removes all lines and detaches any promo code.
func (s *Service) Clear(ctx context.Context, owner Owner) (*Cart, error) {
	c, err := s.Get(ctx, owner)
	if err != nil {
		return nil, err
	}

	c.Lines = nil
	c.PromoCode = ""
	return c, s.finish(ctx, c)
}

// ApplyPromoCode validates and attaches a promo code. Applying a second code
// replaces the first; codes do not stack.
func (s *Service) ApplyPromoCode(ctx context.Context, owner Owner, code string) (*Cart, error) {
	if code == "" {
		return nil, promo.ErrInvalid
	}

	c, err := s.Get(ctx, owner)
	if err != nil {
		return nil, err
	}

	rule, err := s.promos.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, promo.ErrNotFound) {
			return nil, promo.ErrInvalid
		}
		return nil, errors.Wrap(err, "find promo code")
	}
	if !rule.ValidAt(s.now()) {
		return nil, promo.ErrInvalid
	}

	net := c.Totals.Subtotal.Sub(c.Totals.LineDiscount)
	if net.LessThan(rule.MinOrderAmount) {
		return nil, &promo.MinimumOrderError{Code: rule.Code, Min: rule.MinOrderAmount}
	}

	c.PromoCode = rule.Code
	return c, s.finish(ctx, c)
}

// RemovePromoCode detaches any applied code. Idempotent.
func (s *Service) RemovePromoCode(ctx context.Context, owner Owner) (*Cart, error) {
	c, err := s.Get(ctx, owner)
	if err != nil {
		return nil, err
	}

	c.PromoCode = ""
	return c, s.finish(ctx, c)
}

func (s *Service) finish(ctx context.Context, c *Cart) error {
	if err := s.recompute(ctx, c); err != nil {
		return err
	}
	if err := s.carts.Save(ctx, c); err != nil {
		return errors.Wrap(err, "save cart")
	}
	return nil
}

// recompute refreshes line prices from the catalog, resolves the applied promo
// code, and recalculates the cached totals. A code that is no longer valid is
// silently detached rather than surfaced as an error; the next read simply
// shows the cart without the discount.
func (s *Service) recompute(ctx context.Context, c *Cart) error {
	if len(c.Lines) > 0 {
		ids := make([]string, len(c.Lines))
		for i, l := range c.Lines {
			ids[i] = l.ProductID
		}
		products, err := s.products.GetByIDs(ctx, ids)
		if err != nil {
			return errors.Wrap(err, "refresh products")
		}
		byID := make(map[string]catalog.Product, len(products))
		for _, p := range products {
			byID[p.ID] = p
		}
		// Lines whose product vanished from the catalog keep their captured
		// prices; checkout re-validates stock anyway.
		for i := range c.Lines {
			if p, ok := byID[c.Lines[i].ProductID]; ok {
				c.Lines[i].UnitPrice = p.Price
				c.Lines[i].PriorPrice = p.OldPrice
			}
		}
	}

	var rule *promo.Rule
	if c.PromoCode != "" {
		found, err := s.promos.FindByCode(ctx, c.PromoCode)
		switch {
		case errors.Is(err, promo.ErrNotFound):
			c.PromoCode = ""
		case err != nil:
			return errors.Wrap(err, "refresh promo code")
		case !found.ValidAt(s.now()):
			c.PromoCode = ""
		default:
			rule = found
		}
	}

	c.Totals = pricing.Compute(c.pricingLines(), rule, s.now(), s.policy)
	for i := range c.Lines {
		pl := pricing.Line{
			Quantity:   c.Lines[i].Quantity,
			UnitPrice:  c.Lines[i].UnitPrice,
			PriorPrice: c.Lines[i].PriorPrice,
		}
		c.Lines[i].Discount = pl.Discount()
		c.Lines[i].Total = pl.Total()
	}
	c.UpdatedAt = s.now()
	return nil
}
