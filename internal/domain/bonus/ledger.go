// Package bonus defines the bonus point ledger collaborator. All earn-rate
// arithmetic lives here so accrual cannot diverge between the order state
// machine and anything else that reports points.
package bonus

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// DefaultEarnDivisor is the configured earn rate: one point per 100 currency
// units of a completed order's total.
const DefaultEarnDivisor = 100

// ErrInsufficientBalance is returned when a debit exceeds the account's
// current point balance.
var ErrInsufficientBalance = errors.New("insufficient bonus balance")

// Ledger is the per-account bonus point balance collaborator.
//
// DebitIfSufficient must be atomic: under concurrent checkouts by the same
// account it either claims the points or reports false, never overdrawing.
type Ledger interface {
	Balance(ctx context.Context, accountID string) (int, error)
	Credit(ctx context.Context, accountID string, points int) error
	DebitIfSufficient(ctx context.Context, accountID string, points int) (bool, error)
}

// EarnedPoints returns the points accrued for a completed order total:
// floor(total / divisor). Non-positive totals earn nothing.
func EarnedPoints(total decimal.Decimal, divisor int) int {
	if divisor <= 0 || !total.IsPositive() {
		return 0
	}
	return int(total.Div(decimal.NewFromInt(int64(divisor))).IntPart())
}
