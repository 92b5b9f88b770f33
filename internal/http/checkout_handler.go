package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	d "github.com/Mujojo03/BitMarket-sub000/internal/domain"
	"github.com/Mujojo03/BitMarket-sub000/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type CartReader interface {
	GetCart(ctx context.Context, buyerID string) (*d.Cart, error)
}

type HistoryReader interface {
	GetTransitions(ctx context.Context, sessionID string) ([]d.TransitionEntry, error)
}

type CheckoutHandler struct {
	checkout service.CheckoutService
	carts    CartReader
	history  HistoryReader
	timeout  time.Duration
	log      *slog.Logger
}

func NewCheckoutHandler(checkout service.CheckoutService, carts CartReader, history HistoryReader, timeout time.Duration, log *slog.Logger) *CheckoutHandler {
	if log == nil {
		log = slog.Default()
	}
	return &CheckoutHandler{
		checkout: checkout,
		carts:    carts,
		history:  history,
		timeout:  timeout,
		log:      log.With("component", "checkout_handler"),
	}
}

type SelectMethodRequestDTO struct {
	Method      string `json:"method"`
	PhoneNumber string `json:"phone_number,omitempty"`
}

type HistoryResponseDTO struct {
	CheckoutID  string              `json:"checkout_id"`
	Transitions []d.TransitionEntry `json:"transitions"`
}

// POST /api/v1/checkout
func (h *CheckoutHandler) BeginCheckout(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	cart, err := h.carts.GetCart(ctx, userID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	view, err := h.checkout.BeginCheckout(ctx, cart)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, view)
}

// GET /api/v1/checkout/{checkout_id}
func (h *CheckoutHandler) GetCheckout(w http.ResponseWriter, r *http.Request) {
	view, ok := h.ownedSession(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, view)
}

// PUT /api/v1/checkout/{checkout_id}/method
func (h *CheckoutHandler) SelectMethod(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	view, ok := h.ownedSession(w, r)
	if !ok {
		return
	}

	var req SelectMethodRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	updated, err := h.checkout.SelectMethod(ctx, view.ID, d.MethodSelection{
		Method:      d.PaymentMethod(req.Method),
		PhoneNumber: req.PhoneNumber,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

// POST /api/v1/checkout/{checkout_id}/intent
func (h *CheckoutHandler) RequestIntent(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	view, ok := h.ownedSession(w, r)
	if !ok {
		return
	}

	updated, err := h.checkout.RequestIntent(ctx, view.ID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

// POST /api/v1/checkout/{checkout_id}/cancel
func (h *CheckoutHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	view, ok := h.ownedSession(w, r)
	if !ok {
		return
	}

	updated, err := h.checkout.Cancel(ctx, view.ID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

// POST /api/v1/checkout/{checkout_id}/retry
func (h *CheckoutHandler) Retry(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	view, ok := h.ownedSession(w, r)
	if !ok {
		return
	}

	retried, err := h.checkout.Retry(ctx, view.ID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, retried)
}

// GET /api/v1/checkout/{checkout_id}/history
func (h *CheckoutHandler) History(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}
	checkoutID := chi.URLParam(r, "checkout_id")

	// evicted sessions are only in the journal, so ownership falls back to it
	if view, err := h.checkout.Session(checkoutID); err == nil && view.BuyerID != userID {
		respondError(w, http.StatusNotFound, "not_found", service.ErrSessionNotFound.Error())
		return
	}

	entries, err := h.history.GetTransitions(ctx, checkoutID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if len(entries) == 0 {
		respondError(w, http.StatusNotFound, "not_found", service.ErrSessionNotFound.Error())
		return
	}
	respondJSON(w, http.StatusOK, HistoryResponseDTO{CheckoutID: checkoutID, Transitions: entries})
}

// GET /api/v1/checkout/{checkout_id}/events
//
// Events streams every view of the session over a websocket, current view
// first. The server closes the socket after the terminal view.
func (h *CheckoutHandler) Events(w http.ResponseWriter, r *http.Request) {
	view, ok := h.ownedSession(w, r)
	if !ok {
		return
	}

	sub, err := h.checkout.Subscribe(view.ID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	defer sub.Close()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "checkout_id", view.ID, "error", err)
		return
	}
	defer conn.Close()

	// the read loop only exists to process control frames
	gone := make(chan struct{})
	if err := conn.SetReadDeadline(time.Now().Add(wsPongWait)); err != nil {
		h.log.Warn("websocket read deadline failed", "checkout_id", view.ID, "error", err)
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case v, ok := <-sub.Updates():
			if !ok {
				_ = sendMessage(conn, websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "checkout finished"))
				return
			}
			if err := sendJSON(conn, v); err != nil {
				h.log.Debug("websocket write failed", "checkout_id", view.ID, "error", err)
				return
			}
		case <-ticker.C:
			if err := sendMessage(conn, websocket.PingMessage, nil); err != nil {
				h.log.Debug("websocket ping failed", "checkout_id", view.ID, "error", err)
				return
			}
		case <-gone:
			return
		}
	}
}

type wsWriter interface {
	SetWriteDeadline(t time.Time) error
	WriteJSON(v any) error
	WriteMessage(messageType int, data []byte) error
}

// sendJSON and sendMessage bound every write by wsWriteWait. A write is not
// attempted when the deadline cannot be set.
func sendJSON(conn wsWriter, v any) error {
	if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	return conn.WriteJSON(v)
}

func sendMessage(conn wsWriter, messageType int, data []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	return conn.WriteMessage(messageType, data)
}

// ownedSession loads the session named in the path. Sessions of other
// buyers are reported as missing.
func (h *CheckoutHandler) ownedSession(w http.ResponseWriter, r *http.Request) (*d.SessionView, bool) {
	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return nil, false
	}

	view, err := h.checkout.Session(chi.URLParam(r, "checkout_id"))
	if err == nil && view.BuyerID != userID {
		err = service.ErrSessionNotFound
	}
	if err != nil {
		if !errors.Is(err, service.ErrSessionNotFound) {
			h.log.Error("load checkout session", "error", err)
		}
		handleServiceError(w, r, err)
		return nil, false
	}
	return view, true
}
