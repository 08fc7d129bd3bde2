package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/storefront-api/internal/domain/promotion"
)

// Lifecycle manages post-checkout order transitions: time-boxed
// cancellation, coupon removal and customer-facing tracking.
type Lifecycle struct {
	orders Repository
	promos promotion.Repository
	lg     *zap.Logger
	now    func() time.Time
}

// NewLifecycle creates a Lifecycle manager.
func NewLifecycle(orders Repository, promos promotion.Repository, lg *zap.Logger) *Lifecycle {
	return &Lifecycle{orders: orders, promos: promos, lg: lg, now: time.Now}
}

// CancelByOwner cancels an order on behalf of the registered customer who
// placed it. Ownership is checked by account ID.
func (l *Lifecycle) CancelByOwner(ctx context.Context, orderID, accountID string) (*Order, error) {
	o, err := l.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if accountID == "" || o.AccountID != accountID {
		return nil, ErrAccessDenied
	}
	return l.cancel(ctx, o)
}

// CancelByPhone cancels an order identified by its public order number,
// verifying ownership by exact match on the normalized phone number.
func (l *Lifecycle) CancelByPhone(ctx context.Context, orderNumber, phone string) (*Order, error) {
	o, err := l.orders.GetByNumber(ctx, orderNumber)
	if err != nil {
		return nil, err
	}
	if NormalizePhone(phone) == "" || o.Customer.Phone != NormalizePhone(phone) {
		return nil, ErrAccessDenied
	}
	return l.cancel(ctx, o)
}

func (l *Lifecycle) cancel(ctx context.Context, o *Order) (*Order, error) {
	if !o.Status.Cancellable() {
		return nil, ErrInvalidState
	}
	now := l.now()
	if now.Sub(o.CreatedAt) > CancellationWindow {
		return nil, ErrCancellationWindowExpired
	}

	if err := l.orders.MarkCancelled(ctx, o.ID, now); err != nil {
		return nil, errors.Wrap(err, "mark cancelled")
	}
	o.Status = StatusCancelled
	o.CancelledAt = &now

	l.lg.Info("order cancelled",
		zap.String("order_number", o.OrderNumber),
		zap.String("order_id", o.ID),
	)
	return o, nil
}

// RemoveCoupon detaches the applied coupon from an order, restoring the
// pre-coupon total. The promotion's usage counter is released best-effort:
// a failed decrement is logged and swallowed.
func (l *Lifecycle) RemoveCoupon(ctx context.Context, orderID string) (*Order, error) {
	o, err := l.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Coupon == nil {
		return nil, ErrNoCouponApplied
	}

	code := o.Coupon.Code
	if err := l.promos.DecrementUsed(ctx, code); err != nil {
		l.lg.Warn("failed to release coupon usage",
			zap.String("code", code),
			zap.Error(err),
		)
	}

	restored := o.OriginalTotalPrice
	if err := l.orders.ClearCoupon(ctx, o.ID, restored); err != nil {
		return nil, errors.Wrap(err, "clear coupon")
	}

	o.TotalPrice = restored
	o.DiscountAmount = decimal.Zero
	o.Coupon = nil
	return o, nil
}

// TrackByNumberAndPhone returns the order for a public order number when the
// supplied phone matches the one on record.
func (l *Lifecycle) TrackByNumberAndPhone(ctx context.Context, orderNumber, phone string) (*Order, error) {
	o, err := l.orders.GetByNumber(ctx, orderNumber)
	if err != nil {
		return nil, err
	}
	if NormalizePhone(phone) == "" || o.Customer.Phone != NormalizePhone(phone) {
		return nil, ErrAccessDenied
	}
	return o, nil
}

// PhoneOrders groups a customer's order history for list views.
type PhoneOrders struct {
	Phone      string
	InProgress []Order
	Completed  []Order
	Cancelled  []Order
}

// TrackByPhone returns every order placed under a phone number, grouped by
// coarse progress buckets, newest first within each bucket.
func (l *Lifecycle) TrackByPhone(ctx context.Context, phone string) (*PhoneOrders, error) {
	normalized := NormalizePhone(phone)
	if normalized == "" {
		return nil, ErrInvalidPhone
	}

	orders, err := l.orders.ListByPhone(ctx, normalized)
	if err != nil {
		return nil, errors.Wrap(err, "list orders by phone")
	}

	out := &PhoneOrders{Phone: normalized}
	for _, o := range orders {
		switch o.Status {
		case StatusCancelled, StatusRefunded:
			out.Cancelled = append(out.Cancelled, o)
		case StatusDelivered:
			out.Completed = append(out.Completed, o)
		default:
			out.InProgress = append(out.InProgress, o)
		}
	}
	return out, nil
}
