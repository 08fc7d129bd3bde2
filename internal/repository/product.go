package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront-api/internal/domain/product"
)

const (
	productColumns = `id, number, name, category, image, sell_price, cost, quantity_on_hand, min_quantity`

	listProductsSQL = `SELECT ` + productColumns + ` FROM products ORDER BY number`

	getProductByIDSQL = `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	decrementProductSQL = `UPDATE products
		SET quantity_on_hand = quantity_on_hand - $2
		WHERE id = $1 AND quantity_on_hand >= $2
		RETURNING ` + productColumns

	incrementProductSQL = `UPDATE products
		SET quantity_on_hand = quantity_on_hand + $2
		WHERE id = $1`
)

var _ product.Repository = (*ProductRepository)(nil)

// ProductRepository implements product.Repository backed by PostgreSQL.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// List returns the full catalog ordered by product number.
func (r *ProductRepository) List(ctx context.Context) ([]product.Product, error) {
	rows, err := r.pool.Query(ctx, listProductsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	return pgx.CollectRows(rows, scanProduct)
}

// GetByID returns a single product by its identifier.
func (r *ProductRepository) GetByID(ctx context.Context, id string) (*product.Product, error) {
	rows, err := r.pool.Query(ctx, getProductByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, product.ErrNotFound
		}
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}
	return &p, nil
}

// DecrementIfAvailable atomically reserves qty units of stock. The update is
// conditional on sufficient quantity, so concurrent checkouts can never drive
// stock negative. Returns product.ErrInsufficientStock when the condition
// does not hold.
func (r *ProductRepository) DecrementIfAvailable(ctx context.Context, id string, qty int) (*product.Product, error) {
	rows, err := r.pool.Query(ctx, decrementProductSQL, id, qty)
	if err != nil {
		return nil, fmt.Errorf("reserving stock for product %q: %w", id, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, product.ErrInsufficientStock
		}
		return nil, fmt.Errorf("reserving stock for product %q: %w", id, err)
	}
	return &p, nil
}

// Increment returns qty units of stock, compensating a failed checkout.
func (r *ProductRepository) Increment(ctx context.Context, id string, qty int) error {
	_, err := r.pool.Exec(ctx, incrementProductSQL, id, qty)
	if err != nil {
		return fmt.Errorf("restoring stock for product %q: %w", id, err)
	}
	return nil
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var p product.Product
	err := row.Scan(
		&p.ID, &p.Number, &p.Name, &p.Category, &p.Image,
		&p.SellPrice, &p.Cost, &p.QuantityOnHand, &p.MinQuantity,
	)
	return p, err
}
