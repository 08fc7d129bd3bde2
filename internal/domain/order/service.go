package order

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront-api/internal/domain/account"
	"github.com/xenking/storefront-api/internal/domain/product"
	"github.com/xenking/storefront-api/internal/domain/promotion"
)

// orderNumberRetries bounds the collision probe when generating order numbers.
// The UNIQUE constraint on the column backstops an exhausted probe.
const orderNumberRetries = 10

// CartLine is one requested product in a checkout.
type CartLine struct {
	ProductID string
	Quantity  int
}

// CustomerInput identifies the buyer: an account ID for registered
// customers, or guest contact details.
type CustomerInput struct {
	AccountID string
	Name      string
	Address   string
	Phone     string
}

// CreateOrderRequest holds the input to the checkout pipeline.
type CreateOrderRequest struct {
	Lines      []CartLine
	Customer   CustomerInput
	CouponCode string
}

// Service orchestrates the checkout pipeline: identity resolution, product
// snapshotting, pricing, stock reservation with rollback, and persistence.
type Service struct {
	products product.Repository
	accounts account.Repository
	promos   promotion.Repository
	orders   Repository
	lg       *zap.Logger

	now          func() time.Time
	newNumber    func() string
	tracer       trace.Tracer
	ordersPlaced metric.Int64Counter
}

// NewService creates the checkout service. Telemetry uses the global otel
// providers, which go-faster/sdk installs at startup.
func NewService(
	products product.Repository,
	accounts account.Repository,
	promos promotion.Repository,
	orders Repository,
	lg *zap.Logger,
) *Service {
	s := &Service{
		products:  products,
		accounts:  accounts,
		promos:    promos,
		orders:    orders,
		lg:        lg,
		now:       time.Now,
		newNumber: randomOrderNumber,
		tracer:    otel.Tracer("storefront.order"),
	}

	counter, err := otel.Meter("storefront.order").Int64Counter("orders_created_total",
		metric.WithDescription("Number of successfully placed orders"),
	)
	if err != nil {
		lg.Warn("orders counter unavailable", zap.Error(err))
	} else {
		s.ordersPlaced = counter
	}
	return s
}

// CreateOrder runs the full checkout pipeline. Stock changes are
// all-or-nothing across the whole cart: every reserved line is released by a
// compensating increment if a later step fails, even though each per-product
// update is an independent atomic operation.
func (s *Service) CreateOrder(ctx context.Context, req CreateOrderRequest) (*Order, error) {
	ctx, span := s.tracer.Start(ctx, "CreateOrder")
	defer span.End()

	if len(req.Lines) == 0 {
		return nil, ErrEmptyItems
	}

	customer, accountID, err := s.resolveCustomer(ctx, req.Customer)
	if err != nil {
		return nil, err
	}

	items, err := s.resolveLines(ctx, req.Lines)
	if err != nil {
		return nil, err
	}

	// Base total is always computed from the frozen snapshots. A
	// client-supplied total is never trusted.
	baseTotal := decimal.Zero
	for _, it := range items {
		qty := decimal.NewFromInt(int64(it.Quantity))
		baseTotal = baseTotal.Add(it.Snapshot.SellPrice.Mul(qty))
	}

	discount := decimal.Zero
	var coupon *promotion.Snapshot
	if req.CouponCode != "" {
		c, err := s.promos.FindByCode(ctx, promotion.NormalizeCode(req.CouponCode))
		if err != nil {
			if errors.Is(err, promotion.ErrInvalidCoupon) {
				return nil, promotion.ErrInvalidCoupon
			}
			return nil, errors.Wrap(err, "lookup coupon")
		}
		discount, coupon, err = promotion.ComputeCoupon(c, baseTotal, s.now())
		if err != nil {
			return nil, err
		}
	}

	storeCfg, err := s.promos.GetStoreConfig(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "load store config")
	}
	store := promotion.ApplyStoreDiscount(storeCfg, baseTotal)

	total := baseTotal.Sub(discount).Sub(store.Amount).Add(store.ShippingFee).Round(2)
	if total.IsNegative() {
		total = decimal.Zero
	}

	reserved, err := s.reserveStock(ctx, items)
	if err != nil {
		s.releaseStock(ctx, reserved)
		return nil, err
	}

	o := &Order{
		ID:                  uuid.New().String(),
		AccountID:           accountID,
		Customer:            customer,
		OrderNumber:         s.uniqueOrderNumber(ctx),
		Items:               items,
		Status:              StatusPending,
		TotalPrice:          total,
		OriginalTotalPrice:  baseTotal,
		DiscountAmount:      discount,
		StoreDiscountAmount: store.Amount,
		ShippingFee:         store.ShippingFee,
		Coupon:              coupon,
		StoreDiscount:       store.Applied,
		CreatedAt:           s.now(),
	}
	if err := s.orders.Create(ctx, o); err != nil {
		s.releaseStock(ctx, items)
		return nil, errors.Wrap(err, "create order")
	}

	// The usage counter is bumped only after the order is durable, so a
	// failed checkout never burns a use. Failure here is non-critical.
	if coupon != nil {
		if err := s.promos.IncrementUsed(ctx, coupon.Code); err != nil {
			s.lg.Warn("failed to increment coupon usage",
				zap.String("code", coupon.Code),
				zap.String("order_number", o.OrderNumber),
				zap.Error(err),
			)
		}
	}

	if s.ordersPlaced != nil {
		s.ordersPlaced.Add(ctx, 1)
	}
	s.lg.Info("order created",
		zap.String("order_number", o.OrderNumber),
		zap.String("total", o.TotalPrice.String()),
		zap.Int("lines", len(o.Items)),
	)
	return o, nil
}

// resolveCustomer determines the customer details block: copied from the
// account for registered checkout, validated guest input otherwise.
func (s *Service) resolveCustomer(ctx context.Context, in CustomerInput) (CustomerDetails, string, error) {
	if in.AccountID != "" {
		acc, err := s.accounts.GetByID(ctx, in.AccountID)
		if err != nil {
			if errors.Is(err, account.ErrNotFound) {
				return CustomerDetails{}, "", account.ErrNotFound
			}
			return CustomerDetails{}, "", errors.Wrap(err, "lookup account")
		}
		return CustomerDetails{
			Username: acc.Username,
			Address:  acc.Address,
			Phone:    NormalizePhone(acc.Phone),
		}, acc.ID, nil
	}

	if !ValidPhone(in.Phone) {
		return CustomerDetails{}, "", ErrInvalidPhone
	}
	name := in.Name
	if name == "" {
		name = "Guest"
	}
	return CustomerDetails{
		Username: name,
		Address:  in.Address,
		Phone:    NormalizePhone(in.Phone),
	}, "", nil
}

// resolveLines fetches every cart line and freezes a product snapshot.
// Availability is only pre-checked here; the authoritative check is the
// conditional decrement in reserveStock.
func (s *Service) resolveLines(ctx context.Context, lines []CartLine) ([]LineItem, error) {
	items := make([]LineItem, 0, len(lines))
	for _, line := range lines {
		if line.Quantity <= 0 {
			return nil, &InvalidQuantityError{ProductID: line.ProductID}
		}

		p, err := s.products.GetByID(ctx, line.ProductID)
		if err != nil {
			if errors.Is(err, product.ErrNotFound) {
				return nil, &ProductNotFoundError{ProductID: line.ProductID}
			}
			return nil, errors.Wrapf(err, "get product %s", line.ProductID)
		}
		if p.QuantityOnHand <= 0 {
			return nil, &OutOfStockError{Name: p.Name}
		}
		if line.Quantity > p.QuantityOnHand {
			return nil, &InsufficientStockError{Name: p.Name, Available: p.QuantityOnHand}
		}

		items = append(items, LineItem{
			ProductID: p.ID,
			Quantity:  line.Quantity,
			Snapshot: ProductSnapshot{
				Number:    p.Number,
				Name:      p.Name,
				SellPrice: p.SellPrice,
				Cost:      p.Cost,
				Category:  p.Category,
				Image:     p.Image,
			},
		})
	}
	return items, nil
}

// reserveStock decrements stock line by line. It returns the lines that were
// successfully reserved before the first failure so the caller can release
// exactly those.
func (s *Service) reserveStock(ctx context.Context, items []LineItem) ([]LineItem, error) {
	for i, it := range items {
		_, err := s.products.DecrementIfAvailable(ctx, it.ProductID, it.Quantity)
		if err == nil {
			continue
		}
		reserved := items[:i]
		if errors.Is(err, product.ErrInsufficientStock) {
			// Re-read for an accurate "available" in the error; a failed
			// read degrades the message, not the outcome.
			available := 0
			if p, perr := s.products.GetByID(ctx, it.ProductID); perr == nil {
				available = p.QuantityOnHand
			}
			if available <= 0 {
				return reserved, &OutOfStockError{Name: it.Snapshot.Name}
			}
			return reserved, &InsufficientStockError{Name: it.Snapshot.Name, Available: available}
		}
		return reserved, errors.Wrapf(err, "reserve stock for %s", it.ProductID)
	}
	return items, nil
}

// releaseStock applies compensating increments for every reserved line.
// Compensation is mandatory: failures are logged loudly since they leave
// stock undercounted until corrected.
func (s *Service) releaseStock(ctx context.Context, reserved []LineItem) {
	if len(reserved) == 0 {
		return
	}
	g, ctx := errgroup.WithContext(ctx)
	for _, it := range reserved {
		g.Go(func() error {
			if err := s.products.Increment(ctx, it.ProductID, it.Quantity); err != nil {
				s.lg.Error("stock rollback failed",
					zap.String("product_id", it.ProductID),
					zap.Int("quantity", it.Quantity),
					zap.Error(err),
				)
				return err
			}
			return nil
		})
	}
	_ = g.Wait()
}

// uniqueOrderNumber draws random 5-digit numbers until one is unused, with a
// bounded number of probes. On exhaustion the last candidate is returned and
// the column's UNIQUE constraint decides.
func (s *Service) uniqueOrderNumber(ctx context.Context) string {
	num := s.newNumber()
	for attempt := 0; attempt < orderNumberRetries; attempt++ {
		exists, err := s.orders.NumberExists(ctx, num)
		if err != nil || !exists {
			break
		}
		num = s.newNumber()
	}
	return num
}

func randomOrderNumber() string {
	return fmt.Sprintf("%05d", rand.IntN(100000))
}
