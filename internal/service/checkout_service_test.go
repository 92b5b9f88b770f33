package service

import (
	"context"
	"sync"
	"testing"
	"time"

	d "github.com/Mujojo03/BitMarket-sub000/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var lightning = d.MethodSelection{Method: d.PaymentMethodLightning}

func (e *testEnv) toSettlement(t *testing.T, buyerID string, selection d.MethodSelection) *d.SessionView {
	t.Helper()
	ctx := context.Background()
	v, err := e.svc.BeginCheckout(ctx, testCart(buyerID))
	require.NoError(t, err)
	_, err = e.svc.SelectMethod(ctx, v.ID, selection)
	require.NoError(t, err)
	v, err = e.svc.RequestIntent(ctx, v.ID)
	require.NoError(t, err)
	require.Equal(t, d.StateAwaitingSettlement, v.State)
	return v
}

func TestCheckout_LightningSettlementCompletesOrder(t *testing.T) {
	env := newTestEnv(t)
	env.payments.DefaultStatus = d.IntentStatusSettled
	ctx := context.Background()

	v, err := env.svc.BeginCheckout(ctx, testCart("buyer-1"))
	require.NoError(t, err)
	assert.Equal(t, d.StateSnapshotTaken, v.State)
	assert.Equal(t, int64(45000), v.Snapshot.SubtotalSats)
	assert.Equal(t, int64(45010), v.Snapshot.TotalSats)

	v, err = env.svc.SelectMethod(ctx, v.ID, lightning)
	require.NoError(t, err)
	assert.Equal(t, d.StateMethodSelected, v.State)

	v, err = env.svc.RequestIntent(ctx, v.ID)
	require.NoError(t, err)
	require.NotNil(t, v.Intent)
	assert.Equal(t, int64(45010), v.Intent.AmountSats)
	invoice, ok := v.Intent.Payload.(d.LightningInvoice)
	require.True(t, ok)
	assert.Equal(t, "lightning:"+invoice.PaymentRequest, invoice.URI())

	final := env.waitForState(t, v.ID, d.StateCompleted)
	assert.Equal(t, "order-"+v.ID, final.OrderID)
	assert.Nil(t, final.Failure)
	assert.Equal(t, 1, env.orders.PaidCount())
	assert.Equal(t, []string{"buyer-1"}, env.cart.Cleared)

	assert.Equal(t, []d.CheckoutState{
		d.StateSnapshotTaken,
		d.StateMethodSelected,
		d.StateAwaitingIntent,
		d.StateAwaitingSettlement,
		d.StateSettled,
		d.StateFinalizing,
		d.StateCompleted,
	}, env.journal.States(v.ID))
	assert.Equal(t, []string{d.EventCheckoutCompleted}, env.journal.Events(v.ID))

	holder, err := env.registry.Holder(ctx, "buyer-1")
	require.NoError(t, err)
	assert.Empty(t, holder)
}

func TestCheckout_ExpiredInvoiceFailsWithoutClearingCart(t *testing.T) {
	env := newTestEnv(t)
	env.payments.TTL = 40 * time.Millisecond

	v := env.toSettlement(t, "buyer-1", lightning)
	intentID := v.Intent.ID

	final := env.waitForState(t, v.ID, d.StateFailed)
	require.NotNil(t, final.Failure)
	assert.Equal(t, d.FailurePaymentNotReceived, final.Failure.Kind)
	assert.ErrorIs(t, final.Failure.Err(), d.ErrPaymentNotReceived)
	assert.True(t, final.Failure.Retryable())
	assert.False(t, final.Failure.MoneyReceived())

	assert.Equal(t, 0, env.cart.ClearedCount())
	assert.Equal(t, 0, env.orders.CreateCount())
	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{intentID}, env.payments.CancelledIDs())
	}, time.Second, 5*time.Millisecond)
}

func TestCheckout_ExpiredStatusFromGateway(t *testing.T) {
	env := newTestEnv(t)
	env.payments.DefaultStatus = d.IntentStatusExpired

	v := env.toSettlement(t, "buyer-1", lightning)

	final := env.waitForState(t, v.ID, d.StateFailed)
	assert.Equal(t, d.FailurePaymentNotReceived, final.Failure.Kind)
	assert.Equal(t, 0, env.cart.ClearedCount())
}

func TestCheckout_MarkPaidFailureNeedsReconciliation(t *testing.T) {
	env := newTestEnv(t)
	env.payments.DefaultStatus = d.IntentStatusSettled
	env.orders.PaidErr = errUnavailable

	v := env.toSettlement(t, "buyer-1", lightning)

	final := env.waitForState(t, v.ID, d.StateFailed)
	require.NotNil(t, final.Failure)
	assert.Equal(t, d.FailureFinalization, final.Failure.Kind)
	assert.ErrorIs(t, final.Failure.Err(), d.ErrFinalization)
	assert.True(t, final.Failure.MoneyReceived())
	assert.False(t, final.Failure.Retryable())
	assert.Equal(t, "order-"+v.ID, final.OrderID)

	assert.Equal(t, 0, env.cart.ClearedCount())
	assert.Equal(t, []string{d.EventFinalizationFailed}, env.journal.Events(v.ID))

	_, err := env.svc.Retry(context.Background(), v.ID)
	assert.ErrorIs(t, err, ErrNotRetryable)
}

func TestCheckout_CartClearFailureStillCompletes(t *testing.T) {
	env := newTestEnv(t)
	env.payments.DefaultStatus = d.IntentStatusSettled
	env.cart.Err = errUnavailable

	v := env.toSettlement(t, "buyer-1", lightning)

	final := env.waitForState(t, v.ID, d.StateCompleted)
	assert.Equal(t, "order-"+v.ID, final.OrderID)
	assert.Equal(t, 1, env.orders.PaidCount())
	assert.Equal(t, []string{d.EventCheckoutCompleted, d.EventCartClearPending}, env.journal.Events(v.ID))
}

func TestCheckout_CancelIgnoresLateSettlement(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	v := env.toSettlement(t, "buyer-1", lightning)
	intentID := v.Intent.ID

	sess, err := env.svc.get(v.ID)
	require.NoError(t, err)
	sess.mu.Lock()
	generation := sess.generation
	sess.mu.Unlock()

	v, err = env.svc.Cancel(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, d.StateCancelled, v.State)
	assert.Nil(t, v.Intent)

	env.payments.SetStatus(intentID, d.IntentStatusSettled)
	env.svc.onIntentTerminal(sess, generation, intentID, d.IntentStatusSettled)
	time.Sleep(30 * time.Millisecond)

	v, err = env.svc.Session(v.ID)
	require.NoError(t, err)
	assert.Equal(t, d.StateCancelled, v.State)
	assert.Equal(t, 0, env.orders.CreateCount())
	assert.Equal(t, 0, env.cart.ClearedCount())
	require.Eventually(t, func() bool {
		return len(env.payments.CancelledIDs()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, intentID, env.payments.CancelledIDs()[0])
}

func TestBeginCheckout_EmptyCart(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	v, err := env.svc.BeginCheckout(ctx, &d.Cart{BuyerID: "buyer-1"})
	assert.ErrorIs(t, err, d.ErrEmptyCart)
	assert.Nil(t, v)
	assert.Empty(t, env.journal.Transitions)

	holder, err := env.registry.Holder(ctx, "buyer-1")
	require.NoError(t, err)
	assert.Empty(t, holder)
}

func TestBeginCheckout_Rejections(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.BeginCheckout(ctx, nil)
	assert.ErrorIs(t, err, ErrBuyerRequired)

	_, err = env.svc.BeginCheckout(ctx, testCart("buyer-1", d.CartItem{ProductID: 1, UnitPriceSats: 100, Quantity: 0}))
	assert.ErrorIs(t, err, d.ErrInvalidCartItem)

	_, err = env.svc.Session("missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSelectMethod_SwitchKeepsAmountAndDiscardsIntent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	v := env.toSettlement(t, "buyer-1", lightning)
	first := v.Intent
	require.Equal(t, v.Snapshot.TotalSats, first.AmountSats)

	mobile := d.MethodSelection{Method: d.PaymentMethodMobileMoney, PhoneNumber: "+254700000001"}
	v, err := env.svc.SelectMethod(ctx, v.ID, mobile)
	require.NoError(t, err)
	assert.Equal(t, d.StateMethodSelected, v.State)
	assert.Nil(t, v.Intent)

	v, err = env.svc.RequestIntent(ctx, v.ID)
	require.NoError(t, err)
	second := v.Intent
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, first.AmountSats, second.AmountSats)
	assert.Equal(t, v.Snapshot.TotalSats, second.AmountSats)

	prompt, ok := second.Payload.(d.MobileMoneyPrompt)
	require.True(t, ok)
	assert.Equal(t, "+254700000001", prompt.PhoneNumber)
	assert.Equal(t, "KES", prompt.Currency)
	assert.Equal(t, "3600.8", prompt.AmountFiat.String())

	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{first.ID}, env.payments.CancelledIDs())
	}, time.Second, 5*time.Millisecond)

	require.Len(t, env.payments.Requests, 2)
	assert.NotEqual(t, env.payments.Requests[0].IdempotencyKey, env.payments.Requests[1].IdempotencyKey)
}

func TestSelectMethod_SameSelectionKeepsIntent(t *testing.T) {
	env := newTestEnv(t)

	v := env.toSettlement(t, "buyer-1", lightning)
	again, err := env.svc.SelectMethod(context.Background(), v.ID, d.MethodSelection{Method: "ln"})
	require.NoError(t, err)
	assert.Equal(t, d.StateAwaitingSettlement, again.State)
	assert.Equal(t, v.Intent.ID, again.Intent.ID)
	assert.Equal(t, v.Version, again.Version)
	assert.Empty(t, env.payments.CancelledIDs())
}

func TestSelectMethod_InvalidSelection(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	v, err := env.svc.BeginCheckout(ctx, testCart("buyer-1"))
	require.NoError(t, err)

	_, err = env.svc.SelectMethod(ctx, v.ID, d.MethodSelection{Method: "CASH"})
	assert.ErrorIs(t, err, ErrInvalidMethod)

	_, err = env.svc.SelectMethod(ctx, v.ID, d.MethodSelection{Method: d.PaymentMethodMobileMoney, PhoneNumber: "12"})
	assert.ErrorIs(t, err, ErrInvalidMethod)
	assert.ErrorIs(t, err, d.ErrInvalidPhoneNumber)

	_, err = env.svc.RequestIntent(ctx, v.ID)
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

func TestRequestIntent_RejectsReentrantSteps(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	release := make(chan struct{})
	env.payments.SetCreateFunc(func(_ context.Context, req d.IntentRequest) (*d.PaymentIntent, error) {
		<-release
		return env.payments.mint(req), nil
	})

	v, err := env.svc.BeginCheckout(ctx, testCart("buyer-1"))
	require.NoError(t, err)
	_, err = env.svc.SelectMethod(ctx, v.ID, lightning)
	require.NoError(t, err)

	var wg sync.WaitGroup
	var first *d.SessionView
	var firstErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		first, firstErr = env.svc.RequestIntent(ctx, v.ID)
	}()
	env.waitForState(t, v.ID, d.StateAwaitingIntent)

	_, err = env.svc.RequestIntent(ctx, v.ID)
	assert.ErrorIs(t, err, ErrTransitionInProgress)
	_, err = env.svc.SelectMethod(ctx, v.ID, lightning)
	assert.ErrorIs(t, err, ErrTransitionInProgress)

	close(release)
	wg.Wait()
	require.NoError(t, firstErr)
	assert.Equal(t, d.StateAwaitingSettlement, first.State)
	assert.Equal(t, 1, env.payments.RequestCount())
}

func TestCancel_DuringIntentCreationDiscardsLateIntent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	release := make(chan struct{})
	env.payments.SetCreateFunc(func(_ context.Context, req d.IntentRequest) (*d.PaymentIntent, error) {
		<-release
		return env.payments.mint(req), nil
	})

	v, err := env.svc.BeginCheckout(ctx, testCart("buyer-1"))
	require.NoError(t, err)
	_, err = env.svc.SelectMethod(ctx, v.ID, lightning)
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := env.svc.RequestIntent(ctx, v.ID)
		errCh <- err
	}()
	env.waitForState(t, v.ID, d.StateAwaitingIntent)

	cancelled, err := env.svc.Cancel(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, d.StateCancelled, cancelled.State)

	close(release)
	assert.ErrorIs(t, <-errCh, ErrCheckoutCancelled)

	v, err = env.svc.Session(v.ID)
	require.NoError(t, err)
	assert.Equal(t, d.StateCancelled, v.State)
	assert.Nil(t, v.Intent)
	require.Eventually(t, func() bool {
		return len(env.payments.CancelledIDs()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestRequestIntent_CreationFailureThenRetry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.payments.SetCreateFunc(func(context.Context, d.IntentRequest) (*d.PaymentIntent, error) {
		return nil, errUnavailable
	})

	v, err := env.svc.BeginCheckout(ctx, testCart("buyer-1"))
	require.NoError(t, err)
	_, err = env.svc.SelectMethod(ctx, v.ID, lightning)
	require.NoError(t, err)

	_, err = env.svc.RequestIntent(ctx, v.ID)
	assert.ErrorIs(t, err, d.ErrIntentCreation)
	assert.ErrorIs(t, err, errUnavailable)
	assert.Equal(t, 2, env.payments.RequestCount())

	failed, err := env.svc.Session(v.ID)
	require.NoError(t, err)
	assert.Equal(t, d.StateFailed, failed.State)
	assert.Equal(t, d.FailureIntentCreation, failed.Failure.Kind)

	env.payments.SetCreateFunc(nil)
	retried, err := env.svc.Retry(ctx, v.ID)
	require.NoError(t, err)
	assert.NotEqual(t, v.ID, retried.ID)
	assert.Equal(t, v.ID, retried.RetryOf)
	assert.Equal(t, d.StateMethodSelected, retried.State)
	assert.Equal(t, failed.Snapshot.TotalSats, retried.Snapshot.TotalSats)

	holder, err := env.registry.Holder(ctx, "buyer-1")
	require.NoError(t, err)
	assert.Equal(t, retried.ID, holder)

	retried, err = env.svc.RequestIntent(ctx, retried.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(45010), retried.Intent.AmountSats)
}

func TestTerminalStatesRejectTransitions(t *testing.T) {
	env := newTestEnv(t)
	env.payments.DefaultStatus = d.IntentStatusSettled
	ctx := context.Background()

	completed := env.toSettlement(t, "buyer-1", lightning)
	env.waitForState(t, completed.ID, d.StateCompleted)
	before := len(env.journal.States(completed.ID))

	_, err := env.svc.Cancel(ctx, completed.ID)
	assert.ErrorIs(t, err, ErrIllegalTransition)
	_, err = env.svc.SelectMethod(ctx, completed.ID, lightning)
	assert.ErrorIs(t, err, ErrIllegalTransition)
	_, err = env.svc.RequestIntent(ctx, completed.ID)
	assert.ErrorIs(t, err, ErrIllegalTransition)
	assert.Len(t, env.journal.States(completed.ID), before)

	cancelled, err := env.svc.BeginCheckout(ctx, testCart("buyer-2"))
	require.NoError(t, err)
	_, err = env.svc.Cancel(ctx, cancelled.ID)
	require.NoError(t, err)
	again, err := env.svc.Cancel(ctx, cancelled.ID)
	require.NoError(t, err)
	assert.Equal(t, d.StateCancelled, again.State)
	_, err = env.svc.SelectMethod(ctx, cancelled.ID, lightning)
	assert.ErrorIs(t, err, ErrIllegalTransition)
	assert.Equal(t, []d.CheckoutState{d.StateSnapshotTaken, d.StateCancelled}, env.journal.States(cancelled.ID))
}

func TestCartClearedOnlyAfterOrderPaid(t *testing.T) {
	env := newTestEnv(t)
	env.payments.DefaultStatus = d.IntentStatusSettled
	env.orders.CreateErr = errUnavailable

	v := env.toSettlement(t, "buyer-1", lightning)
	env.waitForState(t, v.ID, d.StateFailed)
	assert.Equal(t, 0, env.orders.PaidCount())
	assert.Equal(t, 0, env.cart.ClearedCount())
}

func TestWatcherStopsPollingAfterTerminal(t *testing.T) {
	env := newTestEnv(t)
	env.payments.DefaultStatus = d.IntentStatusSettled

	v := env.toSettlement(t, "buyer-1", lightning)
	env.waitForState(t, v.ID, d.StateCompleted)

	polls := env.payments.PollCount(v.Intent.ID)
	assert.Positive(t, polls)
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, polls, env.payments.PollCount(v.Intent.ID))
}

func TestBeginCheckout_SupersedesPreviousSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first := env.toSettlement(t, "buyer-1", lightning)
	second, err := env.svc.BeginCheckout(ctx, testCart("buyer-1"))
	require.NoError(t, err)

	prev, err := env.svc.Session(first.ID)
	require.NoError(t, err)
	assert.Equal(t, d.StateCancelled, prev.State)

	holder, err := env.registry.Holder(ctx, "buyer-1")
	require.NoError(t, err)
	assert.Equal(t, second.ID, holder)
	require.Eventually(t, func() bool {
		return len(env.payments.CancelledIDs()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestBeginCheckout_RefusedWhileFinalizing(t *testing.T) {
	env := newTestEnv(t)
	env.payments.DefaultStatus = d.IntentStatusSettled
	env.orders.Gate = make(chan struct{})
	ctx := context.Background()

	v := env.toSettlement(t, "buyer-1", lightning)
	env.waitForState(t, v.ID, d.StateFinalizing)

	_, err := env.svc.BeginCheckout(ctx, testCart("buyer-1"))
	assert.ErrorIs(t, err, ErrCheckoutInProgress)
	_, err = env.svc.Cancel(ctx, v.ID)
	assert.ErrorIs(t, err, ErrIllegalTransition)

	close(env.orders.Gate)
	env.waitForState(t, v.ID, d.StateCompleted)

	_, err = env.svc.BeginCheckout(ctx, testCart("buyer-1"))
	assert.NoError(t, err)
}

func TestClose_WaitsForRunningFinalization(t *testing.T) {
	env := newTestEnv(t)
	env.payments.DefaultStatus = d.IntentStatusSettled
	env.orders.Gate = make(chan struct{})

	v := env.toSettlement(t, "buyer-1", lightning)
	env.waitForState(t, v.ID, d.StateFinalizing)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := env.svc.Close(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	view, err := env.svc.Session(v.ID)
	require.NoError(t, err)
	assert.Equal(t, d.StateFinalizing, view.State)

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		done <- env.svc.Close(ctx)
	}()
	close(env.orders.Gate)
	require.NoError(t, <-done)

	view, err = env.svc.Session(v.ID)
	require.NoError(t, err)
	assert.Equal(t, d.StateCompleted, view.State, "Close returns only after finalization ends")
	assert.Equal(t, 1, env.orders.PaidCount())
}

func TestBeginCheckout_RegistryHeldElsewhere(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	ok, err := env.registry.Claim(ctx, "buyer-1", "session-on-other-instance")
	require.NoError(t, err)
	require.True(t, ok)

	_, err = env.svc.BeginCheckout(ctx, testCart("buyer-1"))
	assert.ErrorIs(t, err, ErrCheckoutInProgress)
}

func TestSubscribe_StreamsViewsInOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	v, err := env.svc.BeginCheckout(ctx, testCart("buyer-1"))
	require.NoError(t, err)
	sub, err := env.svc.Subscribe(v.ID)
	require.NoError(t, err)
	defer sub.Close()

	env.payments.DefaultStatus = d.IntentStatusSettled
	_, err = env.svc.SelectMethod(ctx, v.ID, lightning)
	require.NoError(t, err)
	_, err = env.svc.RequestIntent(ctx, v.ID)
	require.NoError(t, err)

	var states []d.CheckoutState
	var versions []int64
	timeout := time.After(2 * time.Second)
	for done := false; !done; {
		select {
		case view, ok := <-sub.Updates():
			if !ok {
				done = true
				break
			}
			states = append(states, view.State)
			versions = append(versions, view.Version)
		case <-timeout:
			t.Fatal("subscription never closed")
		}
	}

	assert.Equal(t, []d.CheckoutState{
		d.StateSnapshotTaken,
		d.StateMethodSelected,
		d.StateAwaitingIntent,
		d.StateAwaitingSettlement,
		d.StateSettled,
		d.StateFinalizing,
		d.StateCompleted,
	}, states)
	for i := 1; i < len(versions); i++ {
		assert.Greater(t, versions[i], versions[i-1])
	}
}

func TestSubscribe_TerminalSessionClosesImmediately(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	v, err := env.svc.BeginCheckout(ctx, testCart("buyer-1"))
	require.NoError(t, err)
	_, err = env.svc.Cancel(ctx, v.ID)
	require.NoError(t, err)

	sub, err := env.svc.Subscribe(v.ID)
	require.NoError(t, err)
	view, ok := <-sub.Updates()
	require.True(t, ok)
	assert.Equal(t, d.StateCancelled, view.State)
	_, ok = <-sub.Updates()
	assert.False(t, ok)
	sub.Close()
}

func TestSubscribeFunc_StopsOnCancel(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	v, err := env.svc.BeginCheckout(ctx, testCart("buyer-1"))
	require.NoError(t, err)

	var mu sync.Mutex
	var seen []d.CheckoutState
	stop, err := env.svc.SubscribeFunc(v.ID, func(view d.SessionView) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, view.State)
	})
	require.NoError(t, err)
	defer stop()

	_, err = env.svc.Cancel(ctx, v.ID)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []d.CheckoutState{d.StateSnapshotTaken, d.StateCancelled}, seen)
}

func TestEvictFinished(t *testing.T) {
	env := newTestEnv(t)
	env.svc.settings.SessionRetention = time.Minute
	ctx := context.Background()

	done, err := env.svc.BeginCheckout(ctx, testCart("buyer-1"))
	require.NoError(t, err)
	_, err = env.svc.Cancel(ctx, done.ID)
	require.NoError(t, err)
	live, err := env.svc.BeginCheckout(ctx, testCart("buyer-2"))
	require.NoError(t, err)

	assert.Equal(t, 0, env.svc.evictFinished(time.Now()))
	assert.Equal(t, 1, env.svc.evictFinished(time.Now().Add(2*time.Minute)))

	_, err = env.svc.Session(done.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = env.svc.Session(live.ID)
	assert.NoError(t, err)
}
