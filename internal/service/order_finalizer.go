package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	d "github.com/Mujojo03/BitMarket-sub000/internal/domain"
)

// OrderFinalizer records a settled payment. The order is marked paid before
// the cart is touched; a cart that cannot be cleared never undoes the order.
type OrderFinalizer struct {
	orders  OrderCollaborator
	cart    CartCollaborator
	timeout time.Duration
	log     *slog.Logger
}

func NewOrderFinalizer(orders OrderCollaborator, cart CartCollaborator, timeout time.Duration, log *slog.Logger) *OrderFinalizer {
	if log == nil {
		log = slog.Default()
	}
	return &OrderFinalizer{
		orders:  orders,
		cart:    cart,
		timeout: timeout,
		log:     log.With("component", "order_finalizer"),
	}
}

type FinalizeRequest struct {
	SessionID string
	BuyerID   string
	IntentID  string
	Snapshot  *d.CartSnapshot
}

type FinalizeResult struct {
	OrderID     string
	CartCleared bool
}

// Finalize returns a result with the order id whenever one was obtained,
// also alongside an error, so reconciliation knows which order to look at.
func (f *OrderFinalizer) Finalize(ctx context.Context, req FinalizeRequest) (*FinalizeResult, error) {
	log := f.log.With("session_id", req.SessionID, "intent_id", req.IntentID)

	orderCtx, cancel := f.callContext(ctx)
	orderID, err := f.orders.CreateOrGetPendingOrder(orderCtx, req.SessionID, req.BuyerID, req.Snapshot)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("%w: create pending order: %w", d.ErrFinalization, err)
	}
	result := &FinalizeResult{OrderID: orderID}

	paidCtx, cancel := f.callContext(ctx)
	err = f.orders.MarkOrderPaid(paidCtx, orderID, req.IntentID)
	cancel()
	if err != nil {
		return result, fmt.Errorf("%w: mark order %s paid: %w", d.ErrFinalization, orderID, err)
	}

	cartCtx, cancel := f.callContext(ctx)
	err = f.cart.ClearCart(cartCtx, req.BuyerID)
	cancel()
	if err != nil {
		// the order is paid, clearing is retried downstream from the outbox
		log.Warn("order paid but cart clear failed", "order_id", orderID, "error", err)
		return result, nil
	}

	result.CartCleared = true
	log.Info("order finalized", "order_id", orderID)
	return result, nil
}

func (f *OrderFinalizer) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if f.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, f.timeout)
}
