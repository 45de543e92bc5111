package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/arena/internal/domain"
)

// OrderHandler serves the order log.
type OrderHandler struct {
	orders domain.OrderStore
	logger *slog.Logger
}

// NewOrderHandler creates an OrderHandler.
func NewOrderHandler(orders domain.OrderStore, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{orders: orders, logger: logger}
}

// ListOrders returns the newest orders first.
// GET /api/orders?limit=50
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r)
	orders, err := h.orders.ListRecent(r.Context(), limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list orders failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list orders")
		return
	}
	if orders == nil {
		orders = []domain.OrderRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": orders, "limit": limit})
}
