// Package handler exposes the storefront HTTP API, delegating business
// logic to the domain services.
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/storefront-api/internal/domain/account"
	"github.com/xenking/storefront-api/internal/domain/chat"
	"github.com/xenking/storefront-api/internal/domain/order"
	"github.com/xenking/storefront-api/internal/domain/product"
	"github.com/xenking/storefront-api/internal/domain/promotion"
)

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// ImageBaseURL is prepended to relative image paths in product responses.
	// When empty, image paths are returned as stored in the database.
	ImageBaseURL string
}

// Handler serves the public and admin API routes.
type Handler struct {
	products     product.Repository
	orderService *order.Service
	lifecycle    *order.Lifecycle
	promotions   *promotion.Engine
	promoStore   promotion.Repository
	chats        *chat.Service
	chatSocket   http.Handler
	imageBaseURL string
	lg           *zap.Logger
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(
	cfg Config,
	products product.Repository,
	orderService *order.Service,
	lifecycle *order.Lifecycle,
	promotions *promotion.Engine,
	promoStore promotion.Repository,
	chats *chat.Service,
	chatSocket http.Handler,
	lg *zap.Logger,
) *Handler {
	return &Handler{
		products:     products,
		orderService: orderService,
		lifecycle:    lifecycle,
		promotions:   promotions,
		promoStore:   promoStore,
		chats:        chats,
		chatSocket:   chatSocket,
		imageBaseURL: cfg.ImageBaseURL,
		lg:           lg,
	}
}

// Register wires every route into the mux. Admin routes are wrapped with
// the supplied authentication middleware.
func (h *Handler) Register(mux *http.ServeMux, adminAuth func(http.Handler) http.Handler) {
	mux.HandleFunc("GET /api/products", h.ListProducts)

	mux.HandleFunc("POST /api/orders", h.CreateOrder)
	mux.HandleFunc("GET /api/orders/track", h.TrackOrdersByPhone)
	mux.HandleFunc("GET /api/orders/track/{orderNumber}", h.TrackOrder)
	mux.HandleFunc("POST /api/orders/track/{orderNumber}/cancel", h.CancelOrderByPhone)
	mux.HandleFunc("POST /api/orders/{id}/cancel", h.CancelOrderByOwner)

	mux.HandleFunc("GET /api/promotions/validate", h.ValidateCoupon)

	mux.HandleFunc("POST /api/chat/sessions", h.StartChatSession)
	mux.HandleFunc("GET /api/chat/sessions/{id}", h.GetChatSession)
	mux.HandleFunc("POST /api/chat/sessions/{id}/messages", h.PostChatMessage)
	mux.HandleFunc("POST /api/chat/sessions/{id}/close", h.CloseChatSession)
	mux.Handle("GET /api/chat/ws", h.chatSocket)

	admin := http.NewServeMux()
	admin.HandleFunc("GET /api/admin/chat/sessions", h.ListChatSessions)
	admin.HandleFunc("POST /api/admin/chat/sessions/{id}/close", h.AdminCloseChatSession)
	admin.HandleFunc("POST /api/admin/orders/{id}/remove-coupon", h.RemoveOrderCoupon)
	admin.HandleFunc("GET /api/admin/store-discount", h.GetStoreDiscount)
	admin.HandleFunc("PUT /api/admin/store-discount", h.PutStoreDiscount)
	mux.Handle("/api/admin/", adminAuth(admin))
}

// errorResponse is the JSON envelope for every non-2xx response.
type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (h *Handler) respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.lg.Warn("failed to encode response", zap.Error(err))
	}
}

func (h *Handler) respondError(w http.ResponseWriter, status int, msg string) {
	h.respond(w, status, errorResponse{Code: status, Message: msg})
}

// fail maps a domain error onto an HTTP status and writes the envelope.
func (h *Handler) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.lg.Error("request failed", zap.Error(err))
		h.respondError(w, status, "internal error")
		return
	}
	h.respondError(w, status, err.Error())
}

func statusFor(err error) int {
	var (
		iqErr  *order.InvalidQuantityError
		pnfErr *order.ProductNotFoundError
		oosErr *order.OutOfStockError
		insErr *order.InsufficientStockError
	)
	switch {
	case errors.Is(err, order.ErrEmptyItems),
		errors.Is(err, order.ErrInvalidPhone),
		errors.Is(err, chat.ErrInvalidPhone),
		errors.Is(err, chat.ErrNameRequired),
		errors.Is(err, chat.ErrInvalidSender),
		errors.Is(err, promotion.ErrInvalidCoupon),
		errors.Is(err, promotion.ErrNotYetActive),
		errors.Is(err, promotion.ErrExpired),
		errors.As(err, &iqErr),
		errors.As(err, &pnfErr):
		return http.StatusBadRequest
	case errors.Is(err, order.ErrAccessDenied):
		return http.StatusForbidden
	case errors.Is(err, order.ErrNotFound),
		errors.Is(err, product.ErrNotFound),
		errors.Is(err, account.ErrNotFound),
		errors.Is(err, chat.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, promotion.ErrUsageLimitReached),
		errors.Is(err, order.ErrInvalidState),
		errors.Is(err, order.ErrCancellationWindowExpired),
		errors.Is(err, order.ErrNoCouponApplied),
		errors.Is(err, product.ErrInsufficientStock),
		errors.As(err, &oosErr),
		errors.As(err, &insErr):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// decode reads a JSON request body.
func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return errors.Wrap(err, "invalid request body")
	}
	return nil
}
