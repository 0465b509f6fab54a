package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/telshop/storefront/internal/domain/address"
)

const getAddressSQL = `SELECT id, account_id, city, street, house, apartment, postal_code
	FROM addresses WHERE id = $1 AND account_id = $2`

var _ address.Book = (*AddressBook)(nil)

// AddressBook implements address.Book backed by PostgreSQL.
type AddressBook struct {
	db *DB
}

// NewAddressBook returns an AddressBook that uses the given DB.
func NewAddressBook(db *DB) *AddressBook {
	return &AddressBook{db: db}
}

// Get returns the address only when it belongs to the given account.
func (r *AddressBook) Get(ctx context.Context, id, accountID string) (*address.Address, error) {
	var a address.Address
	err := r.db.q(ctx).QueryRow(ctx, getAddressSQL, id, accountID).Scan(
		&a.ID, &a.AccountID, &a.City, &a.Street, &a.House, &a.Apartment, &a.PostalCode,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, address.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting address %q: %w", id, err)
	}
	return &a, nil
}
