package service

import (
	"context"
	"fmt"

	d "github.com/Mujojo03/BitMarket-sub000/internal/domain"
)

// Cancel abandons the checkout. Cancelling twice is not an error; once the
// payment settled the session can no longer be cancelled.
func (s *CheckoutServiceImpl) Cancel(ctx context.Context, sessionID string) (*d.SessionView, error) {
	sess, err := s.get(sessionID)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.state == d.StateCancelled {
		v := sess.view()
		return &v, nil
	}
	if !sess.state.IsCancellable() {
		return nil, fmt.Errorf("%w: cannot cancel from %s", ErrIllegalTransition, sess.state)
	}

	s.discardIntent(ctx, sess)
	if err := s.transition(ctx, sess, d.StateCancelled); err != nil {
		return nil, err
	}
	v := sess.view()
	return &v, nil
}
