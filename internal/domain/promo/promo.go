package promo

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Kind enumerates the supported promo discount strategies.
type Kind string

const (
	// KindPercentage discounts the net order amount by a percentage.
	KindPercentage Kind = "percentage"
	// KindFixed discounts a fixed amount, capped at the net order amount.
	KindFixed Kind = "fixed"
	// KindFreeShipping zeroes the delivery cost instead of discounting.
	KindFreeShipping Kind = "free_shipping"
)

var (
	// ErrNotFound is returned by repositories when no rule carries the code.
	ErrNotFound = errors.New("promo code not found")
	// ErrInvalid is returned when a code does not exist, is inactive,
	// is outside its validity window, or has exhausted its usage cap.
	ErrInvalid = errors.New("invalid promo code")
	// ErrExhausted is returned when consuming a use would exceed the cap.
	// Unlike ErrInvalid it surfaces from the atomic consume at checkout,
	// where the last slot was lost to a concurrent order.
	ErrExhausted = errors.New("promo code exhausted")
)

// MinimumOrderError indicates the cart's net amount is below the code's
// minimum order requirement.
type MinimumOrderError struct {
	Code string
	Min  decimal.Decimal
}

func (e *MinimumOrderError) Error() string {
	return fmt.Sprintf("minimum order amount for code %s is %s", e.Code, e.Min)
}

// Rule defines a promo code's discount behaviour and eligibility constraints.
type Rule struct {
	Code           string
	Kind           Kind
	Value          decimal.Decimal
	MinOrderAmount decimal.Decimal
	Description    string
	ValidFrom      time.Time
	ValidUntil     time.Time
	// MaxUses of 0 means unlimited.
	MaxUses int
	Uses    int
	Active  bool
}

// ValidAt reports whether the rule can be applied at the given instant:
// active, inside the validity window, and under its usage cap.
func (r *Rule) ValidAt(now time.Time) bool {
	if !r.Active {
		return false
	}
	if now.Before(r.ValidFrom) || now.After(r.ValidUntil) {
		return false
	}
	if r.MaxUses > 0 && r.Uses >= r.MaxUses {
		return false
	}
	return true
}

// Repository is the promo code registry collaborator.
//
// ConsumeUse must be an atomic increment-with-cap-check: it either claims a
// usage slot or fails with ErrExhausted, never as a separate read and write.
type Repository interface {
	FindByCode(ctx context.Context, code string) (*Rule, error)
	ConsumeUse(ctx context.Context, code string) error
}
