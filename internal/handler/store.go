package handler

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-api/internal/domain/promotion"
)

type storeDiscountBody struct {
	Active          bool                `json:"active"`
	Type            promotion.StoreType `json:"type"`
	Value           float64             `json:"value"`
	MinTotal        float64             `json:"minTotal"`
	ShippingEnabled bool                `json:"shippingEnabled"`
	ShippingAmount  float64             `json:"shippingAmount"`
}

func toStoreDiscountBody(cfg *promotion.StoreConfig) storeDiscountBody {
	return storeDiscountBody{
		Active:          cfg.Active,
		Type:            cfg.Type,
		Value:           cfg.Value.InexactFloat64(),
		MinTotal:        cfg.MinTotal.InexactFloat64(),
		ShippingEnabled: cfg.Shipping.Enabled,
		ShippingAmount:  cfg.Shipping.Amount.InexactFloat64(),
	}
}

// GetStoreDiscount returns the storewide discount configuration. An unset
// configuration reads as inactive defaults.
func (h *Handler) GetStoreDiscount(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.promoStore.GetStoreConfig(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	if cfg == nil {
		cfg = &promotion.StoreConfig{Type: promotion.StoreGeneral}
	}
	h.respond(w, http.StatusOK, toStoreDiscountBody(cfg))
}

// PutStoreDiscount replaces the storewide discount configuration.
func (h *Handler) PutStoreDiscount(w http.ResponseWriter, r *http.Request) {
	var req storeDiscountBody
	if err := decode(r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.Type == "" {
		req.Type = promotion.StoreGeneral
	}
	if req.Type != promotion.StoreGeneral && req.Type != promotion.StoreThreshold {
		h.respondError(w, http.StatusBadRequest, "type must be general or threshold")
		return
	}
	if req.Value < 0 || req.Value > 100 {
		h.respondError(w, http.StatusBadRequest, "value must be between 0 and 100")
		return
	}
	if req.MinTotal < 0 || req.ShippingAmount < 0 {
		h.respondError(w, http.StatusBadRequest, "amounts must not be negative")
		return
	}

	stored, err := h.promoStore.UpsertStoreConfig(r.Context(), &promotion.StoreConfig{
		Active:   req.Active,
		Type:     req.Type,
		Value:    decimal.NewFromFloat(req.Value).Round(2),
		MinTotal: decimal.NewFromFloat(req.MinTotal).Round(2),
		Shipping: promotion.ShippingConfig{
			Enabled: req.ShippingEnabled,
			Amount:  decimal.NewFromFloat(req.ShippingAmount).Round(2),
		},
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	h.respond(w, http.StatusOK, toStoreDiscountBody(stored))
}
