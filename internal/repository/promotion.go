package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront-api/internal/domain/promotion"
)

const (
	getPromotionByCodeSQL = `SELECT code, kind, value, description, active,
		starts_at, ends_at, usage_limit, used_count
		FROM promotions WHERE UPPER(code) = UPPER($1) AND active = TRUE`

	// The guard mirrors the usage-limit check done in the engine so the
	// counter can never overshoot under concurrent checkouts.
	incrementPromotionUsedSQL = `UPDATE promotions
		SET used_count = used_count + 1
		WHERE UPPER(code) = UPPER($1) AND active = TRUE
			AND (usage_limit = 0 OR used_count < usage_limit)`

	decrementPromotionUsedSQL = `UPDATE promotions
		SET used_count = GREATEST(used_count - 1, 0)
		WHERE UPPER(code) = UPPER($1)`

	getStoreConfigSQL = `SELECT active, kind, value, min_total, shipping_enabled, shipping_amount
		FROM store_discount WHERE id = TRUE`

	upsertStoreConfigSQL = `INSERT INTO store_discount
		(id, active, kind, value, min_total, shipping_enabled, shipping_amount)
		VALUES (TRUE, $1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			active = EXCLUDED.active,
			kind = EXCLUDED.kind,
			value = EXCLUDED.value,
			min_total = EXCLUDED.min_total,
			shipping_enabled = EXCLUDED.shipping_enabled,
			shipping_amount = EXCLUDED.shipping_amount
		RETURNING active, kind, value, min_total, shipping_enabled, shipping_amount`
)

var _ promotion.Repository = (*PromotionRepository)(nil)

// PromotionRepository implements promotion.Repository backed by PostgreSQL.
type PromotionRepository struct {
	pool *pgxpool.Pool
}

// NewPromotionRepository returns a PromotionRepository that uses the given pool.
func NewPromotionRepository(pool *pgxpool.Pool) *PromotionRepository {
	return &PromotionRepository{pool: pool}
}

// FindByCode looks up an active coupon by its code (case-insensitive).
// Returns promotion.ErrInvalidCoupon when no matching active coupon exists.
func (r *PromotionRepository) FindByCode(ctx context.Context, code string) (*promotion.Coupon, error) {
	rows, err := r.pool.Query(ctx, getPromotionByCodeSQL, code)
	if err != nil {
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, promotion.ErrInvalidCoupon
		}
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}
	return &c, nil
}

// IncrementUsed atomically increments the usage counter for the given coupon
// code, refusing to pass its usage limit.
func (r *PromotionRepository) IncrementUsed(ctx context.Context, code string) error {
	tag, err := r.pool.Exec(ctx, incrementPromotionUsedSQL, code)
	if err != nil {
		return fmt.Errorf("incrementing usage for coupon %q: %w", code, err)
	}
	if tag.RowsAffected() == 0 {
		return promotion.ErrUsageLimitReached
	}
	return nil
}

// DecrementUsed releases one use of a coupon, flooring the counter at zero.
func (r *PromotionRepository) DecrementUsed(ctx context.Context, code string) error {
	_, err := r.pool.Exec(ctx, decrementPromotionUsedSQL, code)
	if err != nil {
		return fmt.Errorf("decrementing usage for coupon %q: %w", code, err)
	}
	return nil
}

// GetStoreConfig returns the storewide discount configuration, or nil when
// none has been set.
func (r *PromotionRepository) GetStoreConfig(ctx context.Context) (*promotion.StoreConfig, error) {
	rows, err := r.pool.Query(ctx, getStoreConfigSQL)
	if err != nil {
		return nil, fmt.Errorf("getting store discount config: %w", err)
	}

	cfg, err := pgx.CollectExactlyOneRow(rows, scanStoreConfig)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting store discount config: %w", err)
	}
	return &cfg, nil
}

// UpsertStoreConfig writes the storewide discount configuration. A single
// row holds the whole configuration, so writes are last-one-wins.
func (r *PromotionRepository) UpsertStoreConfig(ctx context.Context, cfg *promotion.StoreConfig) (*promotion.StoreConfig, error) {
	rows, err := r.pool.Query(ctx, upsertStoreConfigSQL,
		cfg.Active, string(cfg.Type), cfg.Value, cfg.MinTotal,
		cfg.Shipping.Enabled, cfg.Shipping.Amount,
	)
	if err != nil {
		return nil, fmt.Errorf("upserting store discount config: %w", err)
	}

	stored, err := pgx.CollectExactlyOneRow(rows, scanStoreConfig)
	if err != nil {
		return nil, fmt.Errorf("upserting store discount config: %w", err)
	}
	return &stored, nil
}

func scanCoupon(row pgx.CollectableRow) (promotion.Coupon, error) {
	var (
		c        promotion.Coupon
		kind     string
		startsAt *time.Time
		endsAt   *time.Time
	)
	err := row.Scan(
		&c.Code, &kind, &c.Value, &c.Description, &c.Active,
		&startsAt, &endsAt, &c.UsageLimit, &c.UsedCount,
	)
	c.Type = promotion.Type(kind)
	c.StartsAt = startsAt
	c.EndsAt = endsAt
	return c, err
}

func scanStoreConfig(row pgx.CollectableRow) (promotion.StoreConfig, error) {
	var (
		cfg  promotion.StoreConfig
		kind string
	)
	err := row.Scan(
		&cfg.Active, &kind, &cfg.Value, &cfg.MinTotal,
		&cfg.Shipping.Enabled, &cfg.Shipping.Amount,
	)
	cfg.Type = promotion.StoreType(kind)
	return cfg, err
}
