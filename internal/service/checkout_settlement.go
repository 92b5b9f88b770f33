package service

import (
	"context"
	"fmt"

	d "github.com/Mujojo03/BitMarket-sub000/internal/domain"
)

// onIntentTerminal runs on the watcher goroutine. Events for an intent the
// session no longer tracks are dropped.
func (s *CheckoutServiceImpl) onIntentTerminal(sess *session, generation int, intentID string, status d.IntentStatus) {
	ctx := context.Background()

	sess.mu.Lock()
	if sess.generation != generation || sess.state != d.StateAwaitingSettlement ||
		sess.intent == nil || sess.intent.ID != intentID {
		state := sess.state
		sess.mu.Unlock()
		s.log.Debug("ignoring stale settlement event", "session_id", sess.id, "intent_id", intentID, "status", status.String(), "state", state.String())
		return
	}
	// sess.watch is kept until finish; its Done closes after finalization.
	sess.intent.Status = status

	switch status {
	case d.IntentStatusSettled:
		s.settle(ctx, sess)
	case d.IntentStatusExpired, d.IntentStatusFailed:
		defer sess.mu.Unlock()
		sess.failure = &d.Failure{
			Kind:    d.FailurePaymentNotReceived,
			Message: fmt.Sprintf("payment intent %s ended as %s", intentID, status),
		}
		if err := s.transition(ctx, sess, d.StateFailed); err != nil {
			s.log.Error("failed to record unpaid checkout", "session_id", sess.id, "error", err)
		}
		s.notifyCancel(ctx, intentID)
	default:
		sess.mu.Unlock()
		s.log.Warn("unexpected settlement status", "session_id", sess.id, "status", status.String())
	}
}

// settle is entered with sess.mu held and returns with it released. From
// Settled on, the session only moves forward.
func (s *CheckoutServiceImpl) settle(ctx context.Context, sess *session) {
	if err := s.transition(ctx, sess, d.StateSettled); err != nil {
		sess.mu.Unlock()
		s.log.Error("failed to record settlement", "session_id", sess.id, "error", err)
		return
	}
	if err := s.transition(ctx, sess, d.StateFinalizing); err != nil {
		sess.mu.Unlock()
		s.log.Error("failed to start finalization", "session_id", sess.id, "error", err)
		return
	}
	req := FinalizeRequest{
		SessionID: sess.id,
		BuyerID:   sess.buyerID,
		IntentID:  sess.intent.ID,
		Snapshot:  sess.snapshot.Clone(),
	}
	sess.mu.Unlock()

	start := s.now()
	result, finalizeErr := s.finalizer.Finalize(ctx, req)
	outcome := "ok"
	if finalizeErr != nil {
		outcome = "error"
	}
	s.metrics.ObserveFinalization(outcome, s.now().Sub(start))

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if result != nil {
		sess.orderID = result.OrderID
	}

	if finalizeErr != nil {
		sess.failure = &d.Failure{Kind: d.FailureFinalization, Message: finalizeErr.Error()}
		s.log.Error("payment settled but order was not finalized",
			"session_id", sess.id,
			"intent_id", req.IntentID,
			"order_id", sess.orderID,
			"reconciliation_required", true,
			"error", finalizeErr)
		event := s.outboxEvent(d.EventFinalizationFailed, sess, map[string]interface{}{"reason": finalizeErr.Error()})
		if err := s.transition(ctx, sess, d.StateFailed, event); err != nil {
			s.log.Error("failed to record finalization failure", "session_id", sess.id, "error", err)
		}
		return
	}

	events := []d.OutboxMessage{s.outboxEvent(d.EventCheckoutCompleted, sess, nil)}
	if !result.CartCleared {
		events = append(events, s.outboxEvent(d.EventCartClearPending, sess, nil))
	}
	if err := s.transition(ctx, sess, d.StateCompleted, events...); err != nil {
		s.log.Error("failed to record completed checkout", "session_id", sess.id, "error", err)
	}
}
