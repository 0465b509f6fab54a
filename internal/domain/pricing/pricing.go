// Package pricing holds the pure totals computation for carts and orders.
// Nothing here touches a store: the cart service feeds it lines and an
// optional promo rule and persists whatever comes back.
package pricing

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/telshop/storefront/internal/domain/promo"
)

var hundred = decimal.NewFromInt(100)

// Policy carries the configurable delivery pricing knobs.
type Policy struct {
	// FreeDeliveryThreshold is the net amount at which delivery becomes free.
	FreeDeliveryThreshold decimal.Decimal
	// DeliveryFee is the flat fee charged below the threshold.
	DeliveryFee decimal.Decimal
}

// DefaultPolicy mirrors the production defaults: free delivery from 3000,
// flat 299 fee below it.
func DefaultPolicy() Policy {
	return Policy{
		FreeDeliveryThreshold: decimal.NewFromInt(3000),
		DeliveryFee:           decimal.NewFromInt(299),
	}
}

// Line is one priced cart or order line. PriorPrice at or below UnitPrice
// means the product is not discounted.
type Line struct {
	ProductID  string
	Quantity   int
	UnitPrice  decimal.Decimal
	PriorPrice decimal.Decimal
}

// Discount returns the per-line discount: quantity * (prior - current),
// zero unless the prior price is strictly higher.
func (l Line) Discount() decimal.Decimal {
	if !l.PriorPrice.GreaterThan(l.UnitPrice) {
		return decimal.Zero
	}
	return l.PriorPrice.Sub(l.UnitPrice).Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Gross returns quantity * unit price, before the line discount.
func (l Line) Gross() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Total returns the line's payable amount: gross minus the line discount.
func (l Line) Total() decimal.Decimal {
	return l.Gross().Sub(l.Discount())
}

// Totals is the full monetary breakdown of a cart.
// FinalPrice == Subtotal - LineDiscount - PromoDiscount + DeliveryCost.
type Totals struct {
	Subtotal      decimal.Decimal
	LineDiscount  decimal.Decimal
	PromoDiscount decimal.Decimal
	DeliveryCost  decimal.Decimal
	FinalPrice    decimal.Decimal
	FreeDelivery  bool
}

// Zero returns the totals of an empty cart.
func Zero() Totals {
	return Totals{
		Subtotal:      decimal.Zero,
		LineDiscount:  decimal.Zero,
		PromoDiscount: decimal.Zero,
		DeliveryCost:  decimal.Zero,
		FinalPrice:    decimal.Zero,
		FreeDelivery:  true,
	}
}

// Compute derives the full breakdown for the given lines, optional promo rule,
// and delivery policy, at the given instant.
//
// A rule that is nil, not valid at now, or whose minimum order amount the net
// does not reach contributes no discount; detaching such a rule from the cart
// is the caller's concern. Percentage discounts round half-up to 2 places
// before subtraction.
func Compute(lines []Line, rule *promo.Rule, now time.Time, policy Policy) Totals {
	if len(lines) == 0 {
		return Zero()
	}

	subtotal := decimal.Zero
	lineDiscount := decimal.Zero
	for _, l := range lines {
		subtotal = subtotal.Add(l.Gross())
		lineDiscount = lineDiscount.Add(l.Discount())
	}
	net := subtotal.Sub(lineDiscount)

	promoDiscount := decimal.Zero
	freeShipping := false
	if rule != nil && rule.ValidAt(now) && net.GreaterThanOrEqual(rule.MinOrderAmount) {
		switch rule.Kind {
		case promo.KindPercentage:
			promoDiscount = net.Mul(rule.Value).Div(hundred).Round(2)
		case promo.KindFixed:
			promoDiscount = decimal.Min(rule.Value, net).Round(2)
		case promo.KindFreeShipping:
			freeShipping = true
		}
	}

	deliverySubtotal := net.Sub(promoDiscount)

	deliveryCost := decimal.Zero
	free := true
	switch {
	case freeShipping:
	case deliverySubtotal.GreaterThanOrEqual(policy.FreeDeliveryThreshold):
	case !deliverySubtotal.IsPositive():
	default:
		deliveryCost = policy.DeliveryFee
		free = false
	}

	return Totals{
		Subtotal:      subtotal,
		LineDiscount:  lineDiscount,
		PromoDiscount: promoDiscount,
		DeliveryCost:  deliveryCost,
		FinalPrice:    deliverySubtotal.Add(deliveryCost),
		FreeDelivery:  free,
	}
}

// AmountToFreeDelivery returns how much more needs to be spent for free
// delivery, zero when delivery is already free.
func AmountToFreeDelivery(t Totals, policy Policy) decimal.Decimal {
	if t.FreeDelivery {
		return decimal.Zero
	}
	net := t.Subtotal.Sub(t.LineDiscount).Sub(t.PromoDiscount)
	missing := policy.FreeDeliveryThreshold.Sub(net)
	if missing.IsNegative() {
		return decimal.Zero
	}
	return missing
}
