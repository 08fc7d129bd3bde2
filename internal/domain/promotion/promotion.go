package promotion

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Type enumerates the supported coupon discount strategies.
type Type string

const (
	// TypeAmount subtracts a flat value from the order total.
	TypeAmount Type = "amount"
	// TypePercent subtracts a percentage of the order total.
	TypePercent Type = "percent"
)

var (
	// ErrInvalidCoupon is returned when a coupon code is unknown or inactive.
	ErrInvalidCoupon = errors.New("invalid or inactive coupon")
	// ErrNotYetActive is returned when a coupon's validity window has not started.
	ErrNotYetActive = errors.New("coupon not active yet")
	// ErrExpired is returned when a coupon's validity window has passed.
	ErrExpired = errors.New("coupon expired")
	// ErrUsageLimitReached is returned when a coupon has exhausted its allowed uses.
	ErrUsageLimitReached = errors.New("coupon usage limit reached")
)

// Coupon is a single-use-tracked discount code with an optional validity
// window and usage cap. Codes are stored uppercase and matched
// case-insensitively.
type Coupon struct {
	Code        string
	Type        Type
	Value       decimal.Decimal
	Description string
	Active      bool
	StartsAt    *time.Time
	EndsAt      *time.Time
	// UsageLimit caps successful applications; zero means unlimited.
	UsageLimit int
	UsedCount  int
}

// Snapshot is the coupon excerpt frozen onto an order at checkout time.
type Snapshot struct {
	Code  string          `json:"code"`
	Type  Type            `json:"type"`
	Value decimal.Decimal `json:"value"`
}

// StoreType enumerates store-wide discount eligibility modes.
type StoreType string

const (
	// StoreGeneral applies to every order.
	StoreGeneral StoreType = "general"
	// StoreThreshold applies only to orders meeting a minimum total.
	StoreThreshold StoreType = "threshold"
)

// StoreConfig is the merchant-wide promotional rule. It is a singleton
// record: at most one row exists and updates upsert it in place.
type StoreConfig struct {
	Active   bool
	Type     StoreType
	Value    decimal.Decimal // percentage, 0-100
	MinTotal decimal.Decimal // only meaningful for StoreThreshold
	Shipping ShippingConfig
}

// ShippingConfig is the flat shipping fee sub-rule of the store config.
type ShippingConfig struct {
	Enabled bool
	Amount  decimal.Decimal
}

// StoreSnapshot is the store-discount excerpt frozen onto an order.
type StoreSnapshot struct {
	Type     StoreType       `json:"type"`
	Value    decimal.Decimal `json:"value"`
	MinTotal decimal.Decimal `json:"minTotal"`
}

// NormalizeCode canonicalizes a coupon code for lookup and storage.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Repository provides coupon and store-config persistence.
//
// IncrementUsed and DecrementUsed must be atomic on the counter (no
// read-modify-write): the same code is redeemed by concurrent checkouts.
type Repository interface {
	// FindByCode returns the active coupon for a code, matched
	// case-insensitively. Returns ErrInvalidCoupon when absent or inactive.
	FindByCode(ctx context.Context, code string) (*Coupon, error)
	// IncrementUsed bumps the usage counter, guarded by the usage limit.
	// Returns ErrUsageLimitReached when the limit would be exceeded.
	IncrementUsed(ctx context.Context, code string) error
	// DecrementUsed lowers the usage counter, floored at zero.
	DecrementUsed(ctx context.Context, code string) error
	// GetStoreConfig returns the singleton store config, or (nil, nil)
	// when no row exists yet.
	GetStoreConfig(ctx context.Context) (*StoreConfig, error)
	// UpsertStoreConfig replaces the singleton store config in place.
	UpsertStoreConfig(ctx context.Context, cfg *StoreConfig) (*StoreConfig, error)
}
