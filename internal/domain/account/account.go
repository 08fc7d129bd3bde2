package account

import (
	"context"

	"github.com/go-faster/errors"
)

// ErrNotFound is returned when a referenced account does not exist.
var ErrNotFound = errors.New("account not found")

// Account holds the contact details copied onto orders placed by registered
// customers.
type Account struct {
	ID       string
	Username string
	Address  string
	Phone    string
}

// Repository provides account lookup for authenticated checkout.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Account, error)
}
