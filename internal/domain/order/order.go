package order

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-api/internal/domain/promotion"
)

// Status is the order lifecycle state. The happy path advances
// pending -> paid -> processing -> shipped -> delivered; pending, paid and
// processing orders can still be cancelled. Delivered, cancelled and
// refunded are terminal.
type Status string

const (
	StatusPending    Status = "pending"
	StatusPaid       Status = "paid"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
	StatusRefunded   Status = "refunded"
)

// Cancellable reports whether self-service cancellation is still possible
// from this state, window permitting.
func (s Status) Cancellable() bool {
	switch s {
	case StatusShipped, StatusDelivered, StatusCancelled, StatusRefunded:
		return false
	}
	return true
}

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled || s == StatusRefunded
}

// CancellationWindow is the period after creation during which self-service
// cancellation is permitted. Expiry is evaluated lazily on cancel attempts;
// no background timer exists.
const CancellationWindow = 30 * time.Minute

// PhoneDigits is the exact digit count required of customer phone numbers.
const PhoneDigits = 11

// NormalizePhone reduces a phone number to digits only, dropping a leading
// plus sign and any separators. Phones are stored and compared in this form.
func NormalizePhone(v string) string {
	var b strings.Builder
	b.Grow(len(v))
	for _, r := range v {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ValidPhone reports whether v normalizes to exactly PhoneDigits digits.
func ValidPhone(v string) bool {
	return len(NormalizePhone(v)) == PhoneDigits
}

// Sentinel errors surfaced by the checkout pipeline and lifecycle manager.
var (
	ErrEmptyItems                = errors.New("no products provided")
	ErrInvalidPhone              = fmt.Errorf("phone number must be exactly %d digits", PhoneDigits)
	ErrNotFound                  = errors.New("order not found")
	ErrAccessDenied              = errors.New("access denied")
	ErrInvalidState              = errors.New("order can no longer be cancelled")
	ErrCancellationWindowExpired = errors.New("cancellation window expired")
	ErrNoCouponApplied           = errors.New("no coupon applied")
)

// ProductNotFoundError indicates a cart line references an unknown product.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

// InvalidQuantityError indicates a cart line has a non-positive quantity.
type InvalidQuantityError struct {
	ProductID string
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for product %s", e.ProductID)
}

// OutOfStockError indicates a product has zero available stock.
type OutOfStockError struct {
	Name string
}

func (e *OutOfStockError) Error() string {
	return fmt.Sprintf("%s is currently out of stock", e.Name)
}

// InsufficientStockError indicates the requested quantity exceeds stock.
type InsufficientStockError struct {
	Name      string
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("%s is only available in quantity %d", e.Name, e.Available)
}

// CustomerDetails is the contact block stored on every order: provided
// directly by guests, copied from the account for registered customers.
type CustomerDetails struct {
	Username string `json:"username"`
	Address  string `json:"address"`
	Phone    string `json:"phone"`
}

// ProductSnapshot is the frozen copy of product data embedded in a line item
// at purchase time. It is never re-read from the catalog, so later catalog
// edits cannot rewrite historical orders.
type ProductSnapshot struct {
	Number    int             `json:"number"`
	Name      string          `json:"name"`
	SellPrice decimal.Decimal `json:"sellPrice"`
	Cost      decimal.Decimal `json:"cost"`
	Category  string          `json:"category"`
	Image     string          `json:"image,omitempty"`
}

// LineItem is one ordered product with its frozen snapshot.
type LineItem struct {
	ProductID string          `json:"productId"`
	Snapshot  ProductSnapshot `json:"snapshot"`
	Quantity  int             `json:"quantity"`
}

// Order is a placed customer order.
//
// Pricing invariant:
//
//	TotalPrice = max(0, round2(OriginalTotalPrice - DiscountAmount - StoreDiscountAmount + ShippingFee))
type Order struct {
	ID                  string
	AccountID           string // empty for guest orders
	Customer            CustomerDetails
	OrderNumber         string // 5 ASCII digits, zero-padded, globally unique
	Items               []LineItem
	Status              Status
	TotalPrice          decimal.Decimal
	OriginalTotalPrice  decimal.Decimal
	DiscountAmount      decimal.Decimal
	StoreDiscountAmount decimal.Decimal
	ShippingFee         decimal.Decimal
	Coupon              *promotion.Snapshot
	StoreDiscount       *promotion.StoreSnapshot
	CreatedAt           time.Time
	CancelledAt         *time.Time
}

// Repository defines persistence operations for orders.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id string) (*Order, error)
	GetByNumber(ctx context.Context, orderNumber string) (*Order, error)
	// FindLatestByPhone returns the most recent order for a normalized
	// phone number, or ErrNotFound.
	FindLatestByPhone(ctx context.Context, phone string) (*Order, error)
	// ListByPhone returns all orders for a normalized phone number,
	// newest first.
	ListByPhone(ctx context.Context, phone string) ([]Order, error)
	NumberExists(ctx context.Context, orderNumber string) (bool, error)
	// MarkCancelled sets status=cancelled and cancelled_at.
	MarkCancelled(ctx context.Context, id string, at time.Time) error
	// ClearCoupon restores totalPrice, zeroes the discount and drops the
	// coupon snapshot.
	ClearCoupon(ctx context.Context, id string, totalPrice decimal.Decimal) error
}

// CanCancel reports whether the order is still cancellable at now: the
// status must allow it and the cancellation window must not have elapsed.
func CanCancel(o *Order, now time.Time) bool {
	if o == nil || !o.Status.Cancellable() {
		return false
	}
	return now.Sub(o.CreatedAt) <= CancellationWindow
}

// CancelableUntil returns the instant the cancellation window closes.
func CancelableUntil(o *Order) time.Time {
	return o.CreatedAt.Add(CancellationWindow)
}
