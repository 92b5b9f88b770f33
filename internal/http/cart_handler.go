package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	d "github.com/Mujojo03/BitMarket-sub000/internal/domain"
	"github.com/go-chi/chi/v5"
)

type CartStore interface {
	CartReader
	PutItem(ctx context.Context, buyerID string, item d.CartItem) error
	RemoveItem(ctx context.Context, buyerID string, productID int64) error
}

type CartHandler struct {
	store   CartStore
	timeout time.Duration
}

func NewCartHandler(store CartStore, timeout time.Duration) *CartHandler {
	return &CartHandler{
		store:   store,
		timeout: timeout,
	}
}

type PutItemRequestDTO struct {
	ProductID     int64  `json:"product_id"`
	ProductName   string `json:"product_name"`
	UnitPriceSats int64  `json:"unit_price_sats"`
	Quantity      int32  `json:"quantity"`
}

// GET /api/v1/cart
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	cart, err := h.store.GetCart(ctx, userID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, cart)
}

// PUT /api/v1/cart/items
func (h *CartHandler) PutItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	var req PutItemRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.ProductID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id must be positive")
		return
	}
	if req.Quantity <= 0 || req.Quantity > 99 {
		respondError(w, http.StatusBadRequest, "invalid_quantity", "quantity must be between 1 and 99")
		return
	}
	if req.UnitPriceSats <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_price", "unit_price_sats must be positive")
		return
	}

	err := h.store.PutItem(ctx, userID, d.CartItem{
		ProductID:     req.ProductID,
		ProductName:   req.ProductName,
		UnitPriceSats: req.UnitPriceSats,
		Quantity:      req.Quantity,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	h.respondCart(ctx, w, r)
}

// DELETE /api/v1/cart/items/{product_id}
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	productID, err := strconv.ParseInt(chi.URLParam(r, "product_id"), 10, 64)
	if err != nil || productID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id must be a positive integer")
		return
	}

	if err := h.store.RemoveItem(ctx, userID, productID); err != nil {
		handleServiceError(w, r, err)
		return
	}

	h.respondCart(ctx, w, r)
}

func (h *CartHandler) respondCart(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	cart, err := h.store.GetCart(ctx, getUserIDFromContext(r.Context()))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, cart)
}
