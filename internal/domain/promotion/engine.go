package promotion

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// ComputeCoupon checks a coupon's validity window and usage cap against now,
// then computes the discount it yields on baseTotal. The discount is clamped
// to baseTotal so the final price can never go negative.
//
// ComputeCoupon is pure: it never touches the usage counter. Callers that
// durably apply the coupon increment the counter themselves, after the order
// is persisted, so a failed checkout does not burn a use.
func ComputeCoupon(c *Coupon, baseTotal decimal.Decimal, now time.Time) (decimal.Decimal, *Snapshot, error) {
	if c == nil || !c.Active {
		return decimal.Zero, nil, ErrInvalidCoupon
	}
	if c.StartsAt != nil && now.Before(*c.StartsAt) {
		return decimal.Zero, nil, ErrNotYetActive
	}
	if c.EndsAt != nil && now.After(*c.EndsAt) {
		return decimal.Zero, nil, ErrExpired
	}
	if c.UsageLimit > 0 && c.UsedCount >= c.UsageLimit {
		return decimal.Zero, nil, ErrUsageLimitReached
	}

	var discount decimal.Decimal
	switch c.Type {
	case TypeAmount:
		discount = c.Value
	case TypePercent:
		discount = c.Value.Div(hundred).Mul(baseTotal).Round(2)
	default:
		return decimal.Zero, nil, errors.Errorf("unsupported coupon type: %q", c.Type)
	}
	if discount.GreaterThan(baseTotal) {
		discount = baseTotal
	}
	if discount.IsNegative() {
		discount = decimal.Zero
	}

	return discount, &Snapshot{Code: c.Code, Type: c.Type, Value: c.Value}, nil
}

// StoreDiscount is the result of applying the store-wide rule to an order.
type StoreDiscount struct {
	Amount      decimal.Decimal
	ShippingFee decimal.Decimal
	// Applied is nil when the order was not eligible for the discount.
	// The shipping fee can still be non-zero in that case.
	Applied *StoreSnapshot
}

// ApplyStoreDiscount evaluates the store-wide discount and shipping rule
// against baseTotal. A nil config means no rule is configured and yields
// zeroes. The shipping fee stacks with the discount rather than reducing it.
func ApplyStoreDiscount(cfg *StoreConfig, baseTotal decimal.Decimal) StoreDiscount {
	var out StoreDiscount
	if cfg == nil {
		return out
	}

	if cfg.Active && cfg.Value.IsPositive() {
		eligible := cfg.Type == StoreGeneral || baseTotal.GreaterThanOrEqual(cfg.MinTotal)
		if eligible {
			amount := baseTotal.Mul(cfg.Value.Div(hundred)).Round(2)
			if amount.GreaterThan(baseTotal) {
				amount = baseTotal
			}
			out.Amount = amount
			snap := StoreSnapshot{Type: cfg.Type, Value: cfg.Value}
			if cfg.Type == StoreThreshold {
				snap.MinTotal = cfg.MinTotal
			}
			out.Applied = &snap
		}
	}

	if cfg.Shipping.Enabled && cfg.Shipping.Amount.IsPositive() {
		out.ShippingFee = cfg.Shipping.Amount
	}

	return out
}

// Quote is a dry-run coupon evaluation used by the public validate endpoint.
type Quote struct {
	Code     string
	Type     Type
	Value    decimal.Decimal
	Discount decimal.Decimal
	Total    decimal.Decimal
}

// Engine evaluates coupon codes against a Repository without consuming a
// use. The checkout pipeline talks to the Repository directly because it
// also needs the full coupon row for snapshotting and the post-persist
// usage increment.
type Engine struct {
	repo Repository
	now  func() time.Time
}

// NewEngine creates an Engine backed by the given repository.
func NewEngine(repo Repository) *Engine {
	return &Engine{repo: repo, now: time.Now}
}

// QuoteCoupon evaluates a code against a hypothetical total without any side
// effect, returning what the discounted total would be.
func (e *Engine) QuoteCoupon(ctx context.Context, code string, total decimal.Decimal) (*Quote, error) {
	c, err := e.repo.FindByCode(ctx, NormalizeCode(code))
	if err != nil {
		if errors.Is(err, ErrInvalidCoupon) {
			return nil, ErrInvalidCoupon
		}
		return nil, errors.Wrap(err, "lookup coupon")
	}

	discount, _, err := ComputeCoupon(c, total, e.now())
	if err != nil {
		return nil, err
	}

	remaining := total.Sub(discount)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	return &Quote{
		Code:     c.Code,
		Type:     c.Type,
		Value:    c.Value,
		Discount: discount,
		Total:    remaining,
	}, nil
}
