package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/telshop/storefront/internal/domain/bonus"
)

const (
	getBalanceSQL = `SELECT points FROM bonus_balances WHERE account_id = $1`

	creditPointsSQL = `INSERT INTO bonus_balances (account_id, points) VALUES ($1, $2)
		ON CONFLICT (account_id) DO UPDATE SET points = bonus_balances.points + EXCLUDED.points`

	debitPointsSQL = `UPDATE bonus_balances SET points = points - $2
		WHERE account_id = $1 AND points >= $2`
)

var _ bonus.Ledger = (*BonusLedger)(nil)

// BonusLedger implements bonus.Ledger backed by PostgreSQL.
type BonusLedger struct {
	db *DB
}

// NewBonusLedger returns a BonusLedger that uses the given DB.
func NewBonusLedger(db *DB) *BonusLedger {
	return &BonusLedger{db: db}
}

// Balance returns the account's current point balance. An account without a
// ledger row has a zero balance.
func (r *BonusLedger) Balance(ctx context.Context, accountID string) (int, error) {
	var points int
	err := r.db.q(ctx).QueryRow(ctx, getBalanceSQL, accountID).Scan(&points)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading bonus balance for account %q: %w", accountID, err)
	}
	return points, nil
}

// Credit adds points to the account, creating the ledger row on first credit.
func (r *BonusLedger) Credit(ctx context.Context, accountID string, points int) error {
	_, err := r.db.q(ctx).Exec(ctx, creditPointsSQL, accountID, points)
	if err != nil {
		return fmt.Errorf("crediting %d points to account %q: %w", points, accountID, err)
	}
	return nil
}

// DebitIfSufficient removes points in a single conditional UPDATE. Zero rows
// affected means the balance was too low and nothing was taken.
func (r *BonusLedger) DebitIfSufficient(ctx context.Context, accountID string, points int) (bool, error) {
	tag, err := r.db.q(ctx).Exec(ctx, debitPointsSQL, accountID, points)
	if err != nil {
		return false, fmt.Errorf("debiting %d points from account %q: %w", points, accountID, err)
	}
	return tag.RowsAffected() > 0, nil
}
