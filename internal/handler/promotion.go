package handler

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-api/internal/domain/promotion"
)

type couponQuoteResponse struct {
	Code     string         `json:"code"`
	Type     promotion.Type `json:"type"`
	Value    float64        `json:"value"`
	Discount float64        `json:"discount"`
	Total    float64        `json:"total"`
}

// ValidateCoupon dry-runs a coupon code against a hypothetical total without
// consuming a use.
func (h *Handler) ValidateCoupon(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		h.respondError(w, http.StatusBadRequest, "code is required")
		return
	}

	total := decimal.Zero
	if raw := r.URL.Query().Get("total"); raw != "" {
		parsed, err := decimal.NewFromString(raw)
		if err != nil || parsed.IsNegative() {
			h.respondError(w, http.StatusBadRequest, "invalid total")
			return
		}
		total = parsed
	}

	quote, err := h.promotions.QuoteCoupon(r.Context(), code, total)
	if err != nil {
		h.fail(w, err)
		return
	}

	h.respond(w, http.StatusOK, couponQuoteResponse{
		Code:     quote.Code,
		Type:     quote.Type,
		Value:    quote.Value.InexactFloat64(),
		Discount: quote.Discount.InexactFloat64(),
		Total:    quote.Total.InexactFloat64(),
	})
}
