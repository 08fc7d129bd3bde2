package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-api/internal/domain/order"
	"github.com/xenking/storefront-api/internal/domain/promotion"
)

const (
	orderColumns = `id, account_id, order_number, customer, customer_phone, items, status,
		total_price, original_total_price, discount_amount, store_discount_amount, shipping_fee,
		coupon, store_discount, created_at, cancelled_at`

	createOrderSQL = `INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	getOrderByIDSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	getOrderByNumberSQL = `SELECT ` + orderColumns + ` FROM orders WHERE order_number = $1`

	latestOrderByPhoneSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE customer_phone = $1 ORDER BY created_at DESC LIMIT 1`

	listOrdersByPhoneSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE customer_phone = $1 ORDER BY created_at DESC`

	orderNumberExistsSQL = `SELECT EXISTS (SELECT 1 FROM orders WHERE order_number = $1)`

	markOrderCancelledSQL = `UPDATE orders
		SET status = $2, cancelled_at = $3 WHERE id = $1`

	clearOrderCouponSQL = `UPDATE orders
		SET total_price = $2, discount_amount = 0, coupon = NULL WHERE id = $1`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL. The
// customer details, line items and promotion snapshots live in JSONB
// columns; the customer phone is denormalized into its own indexed column
// for tracking lookups.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists a new order.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	customerJSON, err := json.Marshal(o.Customer)
	if err != nil {
		return fmt.Errorf("marshaling order customer: %w", err)
	}
	itemsJSON, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("marshaling order items: %w", err)
	}
	couponJSON, err := marshalNullable(o.Coupon)
	if err != nil {
		return fmt.Errorf("marshaling order coupon: %w", err)
	}
	storeJSON, err := marshalNullable(o.StoreDiscount)
	if err != nil {
		return fmt.Errorf("marshaling order store discount: %w", err)
	}

	_, err = r.pool.Exec(ctx, createOrderSQL,
		o.ID, o.AccountID, o.OrderNumber, customerJSON, o.Customer.Phone, itemsJSON, string(o.Status),
		o.TotalPrice, o.OriginalTotalPrice, o.DiscountAmount, o.StoreDiscountAmount, o.ShippingFee,
		couponJSON, storeJSON, o.CreatedAt, o.CancelledAt,
	)
	if err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}
	return nil
}

// GetByID returns a single order by its identifier.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	return r.getOne(ctx, getOrderByIDSQL, id)
}

// GetByNumber returns a single order by its public order number.
func (r *OrderRepository) GetByNumber(ctx context.Context, number string) (*order.Order, error) {
	return r.getOne(ctx, getOrderByNumberSQL, number)
}

// FindLatestByPhone returns the most recent order placed under a phone number.
func (r *OrderRepository) FindLatestByPhone(ctx context.Context, phone string) (*order.Order, error) {
	return r.getOne(ctx, latestOrderByPhoneSQL, phone)
}

func (r *OrderRepository) getOne(ctx context.Context, sql, arg string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, sql, arg)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", arg, err)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", arg, err)
	}
	return &o, nil
}

// ListByPhone returns every order placed under a phone number, newest first.
func (r *OrderRepository) ListByPhone(ctx context.Context, phone string) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, listOrdersByPhoneSQL, phone)
	if err != nil {
		return nil, fmt.Errorf("listing orders by phone: %w", err)
	}
	return pgx.CollectRows(rows, scanOrder)
}

// NumberExists reports whether an order number is already taken.
func (r *OrderRepository) NumberExists(ctx context.Context, number string) (bool, error) {
	var exists bool
	if err := r.pool.QueryRow(ctx, orderNumberExistsSQL, number).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking order number %q: %w", number, err)
	}
	return exists, nil
}

// MarkCancelled transitions an order to cancelled at the given instant.
func (r *OrderRepository) MarkCancelled(ctx context.Context, id string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, markOrderCancelledSQL, id, string(order.StatusCancelled), at)
	if err != nil {
		return fmt.Errorf("cancelling order %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

// ClearCoupon removes the applied coupon from an order and restores the
// given total.
func (r *OrderRepository) ClearCoupon(ctx context.Context, id string, total decimal.Decimal) error {
	tag, err := r.pool.Exec(ctx, clearOrderCouponSQL, id, total)
	if err != nil {
		return fmt.Errorf("clearing coupon on order %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o            order.Order
		status       string
		phone        string
		customerJSON []byte
		itemsJSON    []byte
		couponJSON   []byte
		storeJSON    []byte
	)
	err := row.Scan(
		&o.ID, &o.AccountID, &o.OrderNumber, &customerJSON, &phone, &itemsJSON, &status,
		&o.TotalPrice, &o.OriginalTotalPrice, &o.DiscountAmount, &o.StoreDiscountAmount, &o.ShippingFee,
		&couponJSON, &storeJSON, &o.CreatedAt, &o.CancelledAt,
	)
	if err != nil {
		return o, err
	}
	o.Status = order.Status(status)

	if err := json.Unmarshal(customerJSON, &o.Customer); err != nil {
		return o, fmt.Errorf("unmarshaling order customer: %w", err)
	}
	if err := json.Unmarshal(itemsJSON, &o.Items); err != nil {
		return o, fmt.Errorf("unmarshaling order items: %w", err)
	}
	if len(couponJSON) > 0 {
		o.Coupon = new(promotion.Snapshot)
		if err := json.Unmarshal(couponJSON, o.Coupon); err != nil {
			return o, fmt.Errorf("unmarshaling order coupon: %w", err)
		}
	}
	if len(storeJSON) > 0 {
		o.StoreDiscount = new(promotion.StoreSnapshot)
		if err := json.Unmarshal(storeJSON, o.StoreDiscount); err != nil {
			return o, fmt.Errorf("unmarshaling order store discount: %w", err)
		}
	}
	return o, nil
}

// marshalNullable serializes v unless it is a nil pointer, in which case a
// SQL NULL is written.
func marshalNullable[T any](v *T) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}
