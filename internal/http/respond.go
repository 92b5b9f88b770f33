package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Mujojo03/BitMarket-sub000/internal/cart"
	d "github.com/Mujojo03/BitMarket-sub000/internal/domain"
	"github.com/Mujojo03/BitMarket-sub000/internal/service"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

type errorMapping struct {
	target error
	status int
	code   string
}

var errorMappings = []errorMapping{
	{service.ErrSessionNotFound, http.StatusNotFound, "not_found"},
	{d.ErrEmptyCart, http.StatusUnprocessableEntity, "empty_cart"},
	{d.ErrInvalidCartItem, http.StatusUnprocessableEntity, "invalid_cart_item"},
	{cart.ErrInvalidItem, http.StatusUnprocessableEntity, "invalid_cart_item"},
	{cart.ErrItemNotFound, http.StatusNotFound, "item_not_found"},
	{service.ErrInvalidMethod, http.StatusBadRequest, "invalid_method"},
	{service.ErrBuyerRequired, http.StatusBadRequest, "buyer_required"},
	{service.ErrIllegalTransition, http.StatusConflict, "illegal_transition"},
	{service.ErrTransitionInProgress, http.StatusConflict, "transition_in_progress"},
	{service.ErrCheckoutInProgress, http.StatusConflict, "checkout_in_progress"},
	{service.ErrCheckoutCancelled, http.StatusConflict, "checkout_cancelled"},
	{service.ErrNotRetryable, http.StatusConflict, "not_retryable"},
	// rejected before unavailable: a rejection is wrapped in ErrIntentCreation
	{d.ErrIntentRejected, http.StatusUnprocessableEntity, "payment_rejected"},
	{d.ErrIntentCreation, http.StatusBadGateway, "payment_unavailable"},
	{context.DeadlineExceeded, http.StatusGatewayTimeout, "timeout"},
}

// errorStatus maps checkout and cart errors onto HTTP status codes. The
// returned sentinel is nil for unknown errors.
func errorStatus(err error) (int, string, error) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return m.status, m.code, m.target
		}
	}
	return http.StatusInternalServerError, "internal_error", nil
}

// handleServiceError answers with the matched sentinel as the error and the
// full wrapped message as details.
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, sentinel := errorStatus(err)
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "code", code, "error", err)
	}
	// internal causes stay in the log
	if sentinel == nil {
		respondError(w, status, code, "internal server error")
		return
	}

	resp := ErrorResponse{Error: sentinel.Error(), Code: code}
	if msg := err.Error(); msg != resp.Error {
		resp.Details = msg
	}
	respondJSON(w, status, resp)
}
