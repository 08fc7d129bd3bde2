package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront-api/internal/domain/account"
)

const getAccountByIDSQL = `SELECT id, username, address, phone
	FROM accounts WHERE id = $1`

var _ account.Repository = (*AccountRepository)(nil)

// AccountRepository implements account.Repository backed by PostgreSQL.
type AccountRepository struct {
	pool *pgxpool.Pool
}

// NewAccountRepository returns an AccountRepository that uses the given pool.
func NewAccountRepository(pool *pgxpool.Pool) *AccountRepository {
	return &AccountRepository{pool: pool}
}

// GetByID returns a registered customer account.
func (r *AccountRepository) GetByID(ctx context.Context, id string) (*account.Account, error) {
	var a account.Account
	err := r.pool.QueryRow(ctx, getAccountByIDSQL, id).Scan(
		&a.ID, &a.Username, &a.Address, &a.Phone,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, account.ErrNotFound
		}
		return nil, fmt.Errorf("getting account %q: %w", id, err)
	}
	return &a, nil
}
