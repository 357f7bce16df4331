package http

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/utafrali/orderdesk/internal/catalog"
	"github.com/utafrali/orderdesk/internal/service"
	"github.com/utafrali/orderdesk/pkg/httputil"
)

// CatalogHandler serves the product catalog.
type CatalogHandler struct {
	desk   *service.Desk
	logger *slog.Logger
}

// NewCatalogHandler creates a new catalog HTTP handler.
func NewCatalogHandler(desk *service.Desk, logger *slog.Logger) *CatalogHandler {
	return &CatalogHandler{desk: desk, logger: logger}
}

// ListProducts handles GET /api/v1/catalog/products
func (h *CatalogHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	filter := catalog.Filter{Category: r.URL.Query().Get("category")}
	if raw := r.URL.Query().Get("in_stock"); raw != "" {
		inStock, err := strconv.ParseBool(raw)
		if err != nil {
			httputil.WriteBadRequest(w, "in_stock must be true or false")
			return
		}
		filter.InStockOnly = inStock
	}

	products, err := h.desk.Products(r.Context(), filter)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, products)
}

// ListCategories handles GET /api/v1/catalog/categories
func (h *CatalogHandler) ListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.desk.Categories(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, append([]string{catalog.AllCategories}, categories...))
}
