package handler

import (
	"net/http"
	"strings"

	"github.com/xenking/storefront-api/internal/domain/product"
)

type productResponse struct {
	ID        string  `json:"id"`
	Number    int     `json:"number"`
	Name      string  `json:"name"`
	Category  string  `json:"category"`
	Image     string  `json:"image,omitempty"`
	SellPrice float64 `json:"sellPrice"`
	InStock   bool    `json:"inStock"`
}

// ListProducts returns the storefront catalog.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.products.List(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}

	out := make([]productResponse, len(products))
	for i, p := range products {
		out[i] = h.toProductResponse(p)
	}
	h.respond(w, http.StatusOK, out)
}

func (h *Handler) toProductResponse(p product.Product) productResponse {
	image := p.Image
	if h.imageBaseURL != "" && image != "" && !strings.HasPrefix(image, "http") {
		image = strings.TrimSuffix(h.imageBaseURL, "/") + "/" + strings.TrimPrefix(image, "/")
	}
	return productResponse{
		ID:        p.ID,
		Number:    p.Number,
		Name:      p.Name,
		Category:  p.Category,
		Image:     image,
		SellPrice: p.SellPrice.InexactFloat64(),
		InStock:   p.QuantityOnHand > 0,
	}
}
