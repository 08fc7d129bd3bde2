package product

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when a requested product does not exist.
	ErrNotFound = errors.New("product not found")
	// ErrInsufficientStock is returned by DecrementIfAvailable when the
	// on-hand quantity is lower than the requested amount.
	ErrInsufficientStock = errors.New("insufficient stock")
)

// Product represents a catalog item available for purchase. SellPrice is the
// customer-facing price; Cost is the per-unit purchase price kept for
// accounting.
type Product struct {
	ID             string
	Number         int
	Name           string
	Category       string
	Image          string
	SellPrice      decimal.Decimal
	Cost           decimal.Decimal
	QuantityOnHand int
	MinQuantity    int
}

// Repository defines catalog operations. DecrementIfAvailable must be a
// single atomic conditional update: it succeeds only when the on-hand
// quantity covers the requested amount, so concurrent checkouts against the
// same product are serialized by the store rather than by the application.
type Repository interface {
	List(ctx context.Context) ([]Product, error)
	GetByID(ctx context.Context, id string) (*Product, error)
	// DecrementIfAvailable reduces on-hand stock by qty and returns the
	// updated product. Returns ErrInsufficientStock when the condition
	// quantity_on_hand >= qty does not hold.
	DecrementIfAvailable(ctx context.Context, id string, qty int) (*Product, error)
	// Increment restores stock previously taken by DecrementIfAvailable.
	// Used as the compensating operation when a checkout fails midway.
	Increment(ctx context.Context, id string, qty int) error
}
