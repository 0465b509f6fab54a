package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/telshop/storefront/internal/domain/promo"
)

const (
	getPromoByCodeSQL = `SELECT code, kind, value, min_order_amount, description,
		valid_from, valid_until, max_uses, uses, active
		FROM promo_codes WHERE UPPER(code) = UPPER($1)`

	consumePromoUseSQL = `UPDATE promo_codes SET uses = uses + 1
		WHERE UPPER(code) = UPPER($1) AND active = TRUE
		AND (max_uses = 0 OR uses < max_uses)`
)

var _ promo.Repository = (*PromoRepository)(nil)

// PromoRepository implements promo.Repository backed by PostgreSQL.
type PromoRepository struct {
	db *DB
}

// NewPromoRepository returns a PromoRepository that uses the given DB.
func NewPromoRepository(db *DB) *PromoRepository {
	return &PromoRepository{db: db}
}

// FindByCode looks up a promo rule by its code (case-insensitive). Validity
// is the caller's concern; inactive and expired rules are returned as stored.
func (r *PromoRepository) FindByCode(ctx context.Context, code string) (*promo.Rule, error) {
	rows, err := r.db.q(ctx).Query(ctx, getPromoByCodeSQL, code)
	if err != nil {
		return nil, fmt.Errorf("finding promo code %q: %w", code, err)
	}

	rule, err := pgx.CollectExactlyOneRow(rows, scanPromoRule)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, promo.ErrNotFound
		}
		return nil, fmt.Errorf("finding promo code %q: %w", code, err)
	}
	return &rule, nil
}

// ConsumeUse claims one usage slot in a single conditional UPDATE. Zero rows
// affected means the code is gone, inactive, or at its cap; either way no
// slot was claimed and checkout must fail.
func (r *PromoRepository) ConsumeUse(ctx context.Context, code string) error {
	tag, err := r.db.q(ctx).Exec(ctx, consumePromoUseSQL, code)
	if err != nil {
		return fmt.Errorf("consuming use of promo code %q: %w", code, err)
	}
	if tag.RowsAffected() == 0 {
		return promo.ErrExhausted
	}
	return nil
}

func scanPromoRule(row pgx.CollectableRow) (promo.Rule, error) {
	var (
		rule promo.Rule
		kind string
	)
	err := row.Scan(
		&rule.Code, &kind, &rule.Value, &rule.MinOrderAmount, &rule.Description,
		&rule.ValidFrom, &rule.ValidUntil, &rule.MaxUses, &rule.Uses, &rule.Active,
	)
	rule.Kind = promo.Kind(kind)
	return rule, err
}
