package service

import (
	"context"
	"fmt"

	d "github.com/Mujojo03/BitMarket-sub000/internal/domain"
)

// BeginCheckout freezes the buyer's cart into a new session. A previous
// session of the same buyer is cancelled first unless money is already in.
func (s *CheckoutServiceImpl) BeginCheckout(ctx context.Context, cart *d.Cart) (*d.SessionView, error) {
	if cart == nil || cart.BuyerID == "" {
		return nil, ErrBuyerRequired
	}
	snapshot, err := d.NewCartSnapshot(cart.Items, s.settings.NetworkFeeSats, s.now().UTC())
	if err != nil {
		s.log.InfoContext(ctx, "checkout rejected", "buyer_id", cart.BuyerID, "error", err)
		return nil, err
	}
	return s.start(ctx, cart.BuyerID, snapshot, "", nil)
}

// Retry opens a fresh session from a failed one that never took money. The
// new session keeps the frozen snapshot and the method selection.
func (s *CheckoutServiceImpl) Retry(ctx context.Context, sessionID string) (*d.SessionView, error) {
	old, err := s.get(sessionID)
	if err != nil {
		return nil, err
	}

	old.mu.Lock()
	if old.state != d.StateFailed || old.failure == nil || !old.failure.Retryable() {
		state := old.state
		old.mu.Unlock()
		return nil, fmt.Errorf("%w: session %s is %s", ErrNotRetryable, sessionID, state)
	}
	buyerID := old.buyerID
	snapshot := old.snapshot.Clone()
	var selection *d.MethodSelection
	if old.selection != nil {
		sel := *old.selection
		selection = &sel
	}
	old.mu.Unlock()

	return s.start(ctx, buyerID, snapshot, sessionID, selection)
}

func (s *CheckoutServiceImpl) start(ctx context.Context, buyerID string, snapshot *d.CartSnapshot, retryOf string, selection *d.MethodSelection) (*d.SessionView, error) {
	if err := s.supersede(ctx, buyerID); err != nil {
		return nil, err
	}

	sess := newSession(s.newID(), buyerID, snapshot, retryOf, s.now())
	claimCtx, cancel := s.callContext(ctx)
	ok, err := s.registry.Claim(claimCtx, buyerID, sess.id)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("claim checkout slot: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: buyer %s", ErrCheckoutInProgress, buyerID)
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	s.register(sess)
	s.metrics.SessionStarted()

	if err := s.transition(ctx, sess, d.StateSnapshotTaken); err != nil {
		return nil, err
	}
	if selection != nil {
		sess.selection = selection
		if err := s.transition(ctx, sess, d.StateMethodSelected); err != nil {
			return nil, err
		}
	}
	v := sess.view()
	return &v, nil
}

// supersede cancels the buyer's live session on this instance, if any.
func (s *CheckoutServiceImpl) supersede(ctx context.Context, buyerID string) error {
	s.mu.RLock()
	prevID, ok := s.byBuyer[buyerID]
	prev := s.sessions[prevID]
	s.mu.RUnlock()
	if !ok || prev == nil {
		return nil
	}

	prev.mu.Lock()
	defer prev.mu.Unlock()
	switch {
	case prev.state.IsTerminal():
		return nil
	case prev.state.IsCancellable():
		s.log.InfoContext(ctx, "superseding checkout session", "session_id", prev.id, "buyer_id", buyerID, "state", prev.state.String())
		s.discardIntent(ctx, prev)
		return s.transition(ctx, prev, d.StateCancelled)
	default:
		return fmt.Errorf("%w: session %s is %s", ErrCheckoutInProgress, prev.id, prev.state)
	}
}
