// Package address defines the address book collaborator. Lookups are always
// scoped to the owning account: an order must never reference another
// account's address.
package address

import (
	"context"

	"github.com/go-faster/errors"
)

// ErrNotFound is returned when an address does not exist or belongs to a
// different account.
var ErrNotFound = errors.New("address not found")

// Address is a stored delivery or billing address.
type Address struct {
	ID         string
	AccountID  string
	City       string
	Street     string
	House      string
	Apartment  string
	PostalCode string
}

// Book provides account-scoped address lookup.
type Book interface {
	Get(ctx context.Context, id, accountID string) (*Address, error)
}
