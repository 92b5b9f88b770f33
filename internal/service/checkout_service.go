package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	d "github.com/Mujojo03/BitMarket-sub000/internal/domain"
	"github.com/Mujojo03/BitMarket-sub000/internal/metrics"
	"github.com/Mujojo03/BitMarket-sub000/internal/watcher"
	"github.com/google/uuid"
)

type CheckoutService interface {
	BeginCheckout(ctx context.Context, cart *d.Cart) (*d.SessionView, error)
	SelectMethod(ctx context.Context, sessionID string, selection d.MethodSelection) (*d.SessionView, error)
	RequestIntent(ctx context.Context, sessionID string) (*d.SessionView, error)
	Cancel(ctx context.Context, sessionID string) (*d.SessionView, error)
	Retry(ctx context.Context, sessionID string) (*d.SessionView, error)
	Session(sessionID string) (*d.SessionView, error)
	Subscribe(sessionID string) (*Subscription, error)
}

type Settings struct {
	NetworkFeeSats      int64
	CollaboratorTimeout time.Duration
	SessionRetention    time.Duration
	JanitorInterval     time.Duration
	SubscriberBuffer    int
}

type Dependencies struct {
	Intents   *IntentCreator
	Finalizer *OrderFinalizer
	Payments  PaymentCollaborator
	Watcher   SettlementWatcher
	Registry  SessionRegistry
	Journal   Journal
	Metrics   *metrics.Checkout
	Logger    *slog.Logger
}

// CheckoutServiceImpl is the checkout controller. It is the single writer of
// every session it owns: each session has its own lock, network calls run
// with the lock released, and the in-flight state rejects reentrant steps.
type CheckoutServiceImpl struct {
	settings  Settings
	intents   *IntentCreator
	finalizer *OrderFinalizer
	payments  PaymentCollaborator
	watcher   SettlementWatcher
	registry  SessionRegistry
	journal   Journal
	metrics   *metrics.Checkout
	log       *slog.Logger
	now       func() time.Time
	newID     func() string

	mu       sync.RWMutex
	sessions map[string]*session
	byBuyer  map[string]string

	background  sync.WaitGroup
	stopCleanup chan struct{}
	closeOnce   sync.Once
}

func NewCheckoutService(settings Settings, deps Dependencies) *CheckoutServiceImpl {
	if settings.SubscriberBuffer < 1 {
		settings.SubscriberBuffer = 16
	}
	if deps.Journal == nil {
		deps.Journal = noopJournal{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	s := &CheckoutServiceImpl{
		settings:    settings,
		intents:     deps.Intents,
		finalizer:   deps.Finalizer,
		payments:    deps.Payments,
		watcher:     deps.Watcher,
		registry:    deps.Registry,
		journal:     deps.Journal,
		metrics:     deps.Metrics,
		log:         deps.Logger.With("component", "checkout"),
		now:         time.Now,
		newID:       uuid.NewString,
		sessions:    make(map[string]*session),
		byBuyer:     make(map[string]string),
		stopCleanup: make(chan struct{}),
	}
	if settings.JanitorInterval > 0 && settings.SessionRetention > 0 {
		s.background.Add(1)
		go s.cleanupLoop()
	}
	return s
}

func (s *CheckoutServiceImpl) Session(sessionID string) (*d.SessionView, error) {
	sess, err := s.get(sessionID)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	v := sess.view()
	return &v, nil
}

// Close stops every watcher and waits for background work, bounded by ctx.
// A finalization already running on a watcher goroutine is waited for too.
func (s *CheckoutServiceImpl) Close(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.stopCleanup) })

	s.mu.RLock()
	all := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		all = append(all, sess)
	}
	s.mu.RUnlock()

	var handles []*watcher.Handle
	for _, sess := range all {
		sess.mu.Lock()
		if sess.watch != nil {
			sess.watch.Stop()
			handles = append(handles, sess.watch)
		}
		sess.mu.Unlock()
	}

	done := make(chan struct{})
	go func() {
		for _, h := range handles {
			<-h.Done()
		}
		s.background.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("checkout service close: %w", ctx.Err())
	}
}

func (s *CheckoutServiceImpl) get(sessionID string) (*session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return sess, nil
}

func (s *CheckoutServiceImpl) register(sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.id] = sess
	s.byBuyer[sess.buyerID] = sess.id
}

// Lock order is session then service, never the reverse.
func (s *CheckoutServiceImpl) forgetBuyer(sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byBuyer[sess.buyerID] == sess.id {
		delete(s.byBuyer, sess.buyerID)
	}
}

// transition moves sess to the next state. The caller holds sess.mu.
func (s *CheckoutServiceImpl) transition(ctx context.Context, sess *session, to d.CheckoutState, events ...d.OutboxMessage) error {
	from := sess.state
	if !d.CanTransitionTo(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	now := s.now()
	sess.state = to
	sess.version++
	sess.updatedAt = now

	s.log.InfoContext(ctx, "checkout transition",
		"session_id", sess.id,
		"buyer_id", sess.buyerID,
		"from", from.String(),
		"to", to.String(),
		"version", sess.version)
	s.metrics.ObserveTransition(from.String(), to.String())
	s.record(ctx, sess, from, now, events)

	sess.publish(sess.view())
	if to.IsTerminal() {
		s.finish(ctx, sess)
	}
	return nil
}

func (s *CheckoutServiceImpl) record(ctx context.Context, sess *session, from d.CheckoutState, at time.Time, events []d.OutboxMessage) {
	t := &d.Transition{
		SessionID:  sess.id,
		BuyerID:    sess.buyerID,
		From:       from,
		To:         sess.state,
		Version:    sess.version,
		AmountSats: sess.snapshot.TotalSats,
		OrderID:    sess.orderID,
		Failure:    sess.failure,
		Snapshot:   sess.snapshot,
		At:         at,
		Events:     events,
	}
	if sess.selection != nil {
		t.Method = sess.selection.Method
	}
	if sess.intent != nil {
		t.IntentID = sess.intent.ID
	}

	callCtx, cancel := s.callContext(ctx)
	defer cancel()
	if err := s.journal.RecordTransition(callCtx, t); err != nil {
		s.log.ErrorContext(ctx, "failed to journal checkout transition",
			"session_id", sess.id, "to", sess.state.String(), "events", len(events), "error", err)
	}
}

// finish releases everything a terminal session holds. The caller holds sess.mu.
func (s *CheckoutServiceImpl) finish(ctx context.Context, sess *session) {
	sess.finishedAt = s.now()
	if sess.watch != nil {
		sess.watch.Stop()
		sess.watch = nil
	}
	sess.closeSubscribers()

	callCtx, cancel := s.callContext(ctx)
	defer cancel()
	if err := s.registry.Release(callCtx, sess.buyerID, sess.id); err != nil {
		s.log.WarnContext(ctx, "failed to release checkout slot", "session_id", sess.id, "buyer_id", sess.buyerID, "error", err)
	}
	s.forgetBuyer(sess)

	s.metrics.SessionFinished()
	if sess.state == d.StateFailed && sess.failure != nil {
		s.metrics.ObserveFailure(string(sess.failure.Kind))
	}
}

func (s *CheckoutServiceImpl) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx = context.WithoutCancel(ctx)
	if s.settings.CollaboratorTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.settings.CollaboratorTimeout)
}

// discardIntent invalidates the live intent, if any. The collaborator is told
// in the background and cancellation never waits for it.
func (s *CheckoutServiceImpl) discardIntent(ctx context.Context, sess *session) {
	if sess.watch != nil {
		sess.watch.Stop()
		sess.watch = nil
	}
	sess.generation++
	if sess.intent != nil {
		s.notifyCancel(ctx, sess.intent.ID)
		sess.intent = nil
	}
}

func (s *CheckoutServiceImpl) notifyCancel(ctx context.Context, intentID string) {
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		callCtx, cancel := s.callContext(ctx)
		defer cancel()
		if err := s.payments.CancelIntent(callCtx, intentID); err != nil {
			s.log.Warn("best-effort intent cancel failed", "intent_id", intentID, "error", err)
		}
	}()
}

func (s *CheckoutServiceImpl) outboxEvent(eventType string, sess *session, extra map[string]interface{}) d.OutboxMessage {
	payload := map[string]interface{}{
		"checkout_id": sess.id,
		"user_id":     sess.buyerID,
		"items":       sess.snapshot.Items,
		"total_sats":  sess.snapshot.TotalSats,
		"occurred_at": s.now().UTC(),
	}
	if sess.orderID != "" {
		payload["order_id"] = sess.orderID
	}
	if sess.intent != nil {
		payload["intent_id"] = sess.intent.ID
		payload["method"] = sess.intent.Method
	}
	for k, v := range extra {
		payload[k] = v
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		s.log.Error("failed to marshal outbox payload", "event_type", eventType, "session_id", sess.id, "error", err)
		payloadJSON = []byte(fmt.Sprintf(`{"checkout_id":%q}`, sess.id))
	}
	return d.OutboxMessage{EventType: eventType, Payload: payloadJSON}
}

func (s *CheckoutServiceImpl) cleanupLoop() {
	defer s.background.Done()
	ticker := time.NewTicker(s.settings.JanitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.evictFinished(s.now())
		case <-s.stopCleanup:
			return
		}
	}
}

// evictFinished drops terminal sessions kept past the retention window.
func (s *CheckoutServiceImpl) evictFinished(now time.Time) int {
	s.mu.RLock()
	all := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		all = append(all, sess)
	}
	s.mu.RUnlock()

	var expired []string
	for _, sess := range all {
		sess.mu.Lock()
		if !sess.finishedAt.IsZero() && now.Sub(sess.finishedAt) >= s.settings.SessionRetention {
			expired = append(expired, sess.id)
		}
		sess.mu.Unlock()
	}
	if len(expired) == 0 {
		return 0
	}

	s.mu.Lock()
	for _, id := range expired {
		delete(s.sessions, id)
	}
	s.mu.Unlock()
	s.log.Debug("evicted finished checkout sessions", "count", len(expired))
	return len(expired)
}
