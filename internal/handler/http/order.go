package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/utafrali/orderdesk/internal/service"
	"github.com/utafrali/orderdesk/pkg/httputil"
)

// OrderHandler serves the production order board.
type OrderHandler struct {
	board  *service.OrderBoard
	logger *slog.Logger
}

// NewOrderHandler creates a new order HTTP handler.
func NewOrderHandler(board *service.OrderBoard, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{board: board, logger: logger}
}

// ListOrders handles GET /api/v1/orders
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.board.List(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, orders)
}

// GetOrder handles GET /api/v1/orders/{id}
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.board.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, order)
}

// FulfilOrder handles DELETE /api/v1/orders/{id}
func (h *OrderHandler) FulfilOrder(w http.ResponseWriter, r *http.Request) {
	if err := h.board.Fulfil(r.Context(), chi.URLParam(r, "id")); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
