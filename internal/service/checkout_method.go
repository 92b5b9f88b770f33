package service

import (
	"context"
	"fmt"

	d "github.com/Mujojo03/BitMarket-sub000/internal/domain"
)

// SelectMethod records the buyer's payment method. Switching while an intent
// is outstanding discards that intent; re-selecting the same one keeps it.
func (s *CheckoutServiceImpl) SelectMethod(ctx context.Context, sessionID string, selection d.MethodSelection) (*d.SessionView, error) {
	selection = selection.Normalized()
	if err := selection.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMethod, err)
	}
	sess, err := s.get(sessionID)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	switch sess.state {
	case d.StateAwaitingIntent:
		return nil, fmt.Errorf("%w: intent is being created", ErrTransitionInProgress)
	case d.StateAwaitingSettlement:
		if sess.selection != nil && *sess.selection == selection {
			v := sess.view()
			return &v, nil
		}
		if err := s.checkTransition(sess, d.StateMethodSelected); err != nil {
			return nil, err
		}
		s.log.InfoContext(ctx, "payment method switched, discarding intent",
			"session_id", sess.id, "from_method", sess.selection.Method.String(), "to_method", selection.Method.String())
		s.discardIntent(ctx, sess)
	default:
		if err := s.checkTransition(sess, d.StateMethodSelected); err != nil {
			return nil, err
		}
	}

	sess.selection = &selection
	if err := s.transition(ctx, sess, d.StateMethodSelected); err != nil {
		return nil, err
	}
	v := sess.view()
	return &v, nil
}

func (s *CheckoutServiceImpl) checkTransition(sess *session, to d.CheckoutState) error {
	if !d.CanTransitionTo(sess.state, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, sess.state, to)
	}
	return nil
}
