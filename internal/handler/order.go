package handler

import (
	"net/http"
	"time"

	"github.com/xenking/storefront-api/internal/domain/order"
	"github.com/xenking/storefront-api/internal/domain/promotion"
)

type orderItemRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type customerRequest struct {
	AccountID string `json:"accountId"`
	Name      string `json:"name"`
	Address   string `json:"address"`
	Phone     string `json:"phoneNumber"`
}

type createOrderRequest struct {
	Items      []orderItemRequest `json:"items"`
	Customer   customerRequest    `json:"customer"`
	CouponCode string             `json:"couponCode"`
}

type orderItemResponse struct {
	ProductID string                `json:"productId"`
	Quantity  int                   `json:"quantity"`
	Product   order.ProductSnapshot `json:"product"`
}

type orderResponse struct {
	ID                  string                    `json:"id"`
	OrderNumber         string                    `json:"orderNumber"`
	Status              order.Status              `json:"status"`
	Customer            order.CustomerDetails     `json:"customer"`
	Items               []orderItemResponse       `json:"items"`
	TotalPrice          float64                   `json:"totalPrice"`
	OriginalTotalPrice  float64                   `json:"originalTotalPrice"`
	DiscountAmount      float64                   `json:"discountAmount"`
	StoreDiscountAmount float64                   `json:"storeDiscountAmount"`
	ShippingFee         float64                   `json:"shippingFee"`
	Coupon              *promotion.Snapshot       `json:"coupon,omitempty"`
	StoreDiscount       *promotion.StoreSnapshot  `json:"storeDiscountApplied,omitempty"`
	CreatedAt           time.Time                 `json:"createdAt"`
	CancelledAt         *time.Time                `json:"cancelledAt,omitempty"`
	CancelableUntil     *time.Time                `json:"cancelableUntil,omitempty"`
}

func toOrderResponse(o *order.Order) orderResponse {
	items := make([]orderItemResponse, len(o.Items))
	for i, item := range o.Items {
		items[i] = orderItemResponse{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Product:   item.Snapshot,
		}
	}

	resp := orderResponse{
		ID:                  o.ID,
		OrderNumber:         o.OrderNumber,
		Status:              o.Status,
		Customer:            o.Customer,
		Items:               items,
		TotalPrice:          o.TotalPrice.InexactFloat64(),
		OriginalTotalPrice:  o.OriginalTotalPrice.InexactFloat64(),
		DiscountAmount:      o.DiscountAmount.InexactFloat64(),
		StoreDiscountAmount: o.StoreDiscountAmount.InexactFloat64(),
		ShippingFee:         o.ShippingFee.InexactFloat64(),
		Coupon:              o.Coupon,
		StoreDiscount:       o.StoreDiscount,
		CreatedAt:           o.CreatedAt,
		CancelledAt:         o.CancelledAt,
	}
	if order.CanCancel(o, time.Now()) {
		until := order.CancelableUntil(o)
		resp.CancelableUntil = &until
	}
	return resp
}

// CreateOrder runs the checkout pipeline for a cart.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := decode(r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	lines := make([]order.CartLine, len(req.Items))
	for i, item := range req.Items {
		lines[i] = order.CartLine{ProductID: item.ProductID, Quantity: item.Quantity}
	}

	o, err := h.orderService.CreateOrder(r.Context(), order.CreateOrderRequest{
		Lines: lines,
		Customer: order.CustomerInput{
			AccountID: req.Customer.AccountID,
			Name:      req.Customer.Name,
			Address:   req.Customer.Address,
			Phone:     req.Customer.Phone,
		},
		CouponCode: req.CouponCode,
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	h.respond(w, http.StatusCreated, toOrderResponse(o))
}

// TrackOrder returns a single order addressed by its public number, gated
// on the matching phone number.
func (h *Handler) TrackOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.lifecycle.TrackByNumberAndPhone(r.Context(),
		r.PathValue("orderNumber"), r.URL.Query().Get("phone"))
	if err != nil {
		h.fail(w, err)
		return
	}
	h.respond(w, http.StatusOK, toOrderResponse(o))
}

type phoneOrdersResponse struct {
	Phone      string          `json:"phoneNumber"`
	InProgress []orderResponse `json:"inProgress"`
	Completed  []orderResponse `json:"completed"`
	Cancelled  []orderResponse `json:"cancelled"`
}

// TrackOrdersByPhone returns a customer's order history grouped by progress.
func (h *Handler) TrackOrdersByPhone(w http.ResponseWriter, r *http.Request) {
	grouped, err := h.lifecycle.TrackByPhone(r.Context(), r.URL.Query().Get("phone"))
	if err != nil {
		h.fail(w, err)
		return
	}

	h.respond(w, http.StatusOK, phoneOrdersResponse{
		Phone:      grouped.Phone,
		InProgress: toOrderResponses(grouped.InProgress),
		Completed:  toOrderResponses(grouped.Completed),
		Cancelled:  toOrderResponses(grouped.Cancelled),
	})
}

func toOrderResponses(orders []order.Order) []orderResponse {
	out := make([]orderResponse, len(orders))
	for i := range orders {
		out[i] = toOrderResponse(&orders[i])
	}
	return out
}

type cancelByPhoneRequest struct {
	Phone string `json:"phoneNumber"`
}

// CancelOrderByPhone cancels a guest order within the cancellation window.
func (h *Handler) CancelOrderByPhone(w http.ResponseWriter, r *http.Request) {
	var req cancelByPhoneRequest
	if err := decode(r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	o, err := h.lifecycle.CancelByPhone(r.Context(), r.PathValue("orderNumber"), req.Phone)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.respond(w, http.StatusOK, toOrderResponse(o))
}

type cancelByOwnerRequest struct {
	AccountID string `json:"accountId"`
}

// CancelOrderByOwner cancels an order on behalf of its registered customer.
func (h *Handler) CancelOrderByOwner(w http.ResponseWriter, r *http.Request) {
	var req cancelByOwnerRequest
	if err := decode(r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	o, err := h.lifecycle.CancelByOwner(r.Context(), r.PathValue("id"), req.AccountID)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.respond(w, http.StatusOK, toOrderResponse(o))
}

// RemoveOrderCoupon strips an applied coupon from an order, restoring the
// undiscounted total. Admin only.
func (h *Handler) RemoveOrderCoupon(w http.ResponseWriter, r *http.Request) {
	o, err := h.lifecycle.RemoveCoupon(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	h.respond(w, http.StatusOK, toOrderResponse(o))
}
