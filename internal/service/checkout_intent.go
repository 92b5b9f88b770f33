package service

import (
	"context"
	"fmt"

	d "github.com/Mujojo03/BitMarket-sub000/internal/domain"
)

// RequestIntent creates the payment intent for the selected method and starts
// watching it. The call blocks until the collaborator answers.
func (s *CheckoutServiceImpl) RequestIntent(ctx context.Context, sessionID string) (*d.SessionView, error) {
	sess, err := s.get(sessionID)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	if sess.state == d.StateAwaitingIntent {
		sess.mu.Unlock()
		return nil, fmt.Errorf("%w: intent is being created", ErrTransitionInProgress)
	}
	if sess.state != d.StateMethodSelected || sess.selection == nil {
		state := sess.state
		sess.mu.Unlock()
		return nil, fmt.Errorf("%w: cannot request an intent from %s", ErrIllegalTransition, state)
	}
	if err := s.transition(ctx, sess, d.StateAwaitingIntent); err != nil {
		sess.mu.Unlock()
		return nil, err
	}
	generation := sess.generation
	params := IntentParams{
		AmountSats:     sess.snapshot.TotalSats,
		Selection:      *sess.selection,
		IdempotencyKey: IdempotencyKey(sess.id, generation),
		BuyerID:        sess.buyerID,
		Description:    fmt.Sprintf("BitMarket checkout %s", sess.id),
	}
	sess.mu.Unlock()

	// a cancelled request must not strand the session in AwaitingIntent
	intent, createErr := s.intents.Create(context.WithoutCancel(ctx), params)

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.generation != generation || sess.state != d.StateAwaitingIntent {
		if intent != nil {
			s.notifyCancel(ctx, intent.ID)
		}
		s.log.InfoContext(ctx, "intent arrived after checkout moved on", "session_id", sess.id, "state", sess.state.String())
		return nil, fmt.Errorf("%w: session %s is %s", ErrCheckoutCancelled, sess.id, sess.state)
	}

	if createErr != nil {
		sess.failure = &d.Failure{Kind: d.FailureIntentCreation, Message: createErr.Error()}
		if err := s.transition(ctx, sess, d.StateFailed); err != nil {
			return nil, err
		}
		return nil, createErr
	}

	sess.intent = intent
	if err := s.transition(ctx, sess, d.StateAwaitingSettlement); err != nil {
		return nil, err
	}
	s.startWatch(sess)

	v := sess.view()
	return &v, nil
}

// startWatch attaches a settlement watcher to the live intent. The caller
// holds sess.mu.
func (s *CheckoutServiceImpl) startWatch(sess *session) {
	generation := sess.generation
	intentID := sess.intent.ID
	sess.watch = s.watcher.Watch(*sess.intent, func(status d.IntentStatus) {
		s.onIntentTerminal(sess, generation, intentID, status)
	})
}
