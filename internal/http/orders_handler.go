package http

import (
	"context"
	"net/http"
	"time"

	d "github.com/Mujojo03/BitMarket-sub000/internal/domain"
	"github.com/Mujojo03/BitMarket-sub000/internal/orders"
)

type OrderLister interface {
	ListOrdersByUserID(ctx context.Context, userID string) ([]*orders.Order, error)
}

type OrdersHandler struct {
	orders  OrderLister
	timeout time.Duration
}

func NewOrdersHandler(lister OrderLister, timeout time.Duration) *OrdersHandler {
	return &OrdersHandler{orders: lister, timeout: timeout}
}

type OrderDTO struct {
	ID         string               `json:"id"`
	CheckoutID string               `json:"checkout_id"`
	Status     string               `json:"status"`
	TotalSats  int64                `json:"total_sats"`
	IntentID   string               `json:"intent_id,omitempty"`
	Items      []d.CartSnapshotItem `json:"items"`
	CreatedAt  time.Time            `json:"created_at"`
	PaidAt     *time.Time           `json:"paid_at,omitempty"`
}

type ListOrdersResponseDTO struct {
	Orders []OrderDTO `json:"orders"`
}

// GET /api/v1/orders
func (h *OrdersHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	list, err := h.orders.ListOrdersByUserID(ctx, userID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := ListOrdersResponseDTO{Orders: make([]OrderDTO, 0, len(list))}
	for _, o := range list {
		resp.Orders = append(resp.Orders, OrderDTO{
			ID:         o.ID.String(),
			CheckoutID: o.CheckoutID,
			Status:     string(o.Status),
			TotalSats:  o.TotalSats,
			IntentID:   o.IntentID,
			Items:      o.Items,
			CreatedAt:  o.CreatedAt,
			PaidAt:     o.PaidAt,
		})
	}
	respondJSON(w, http.StatusOK, resp)
}
