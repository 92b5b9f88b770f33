package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	d "github.com/Mujojo03/BitMarket-sub000/internal/domain"
	"github.com/Mujojo03/BitMarket-sub000/internal/registry"
	"github.com/Mujojo03/BitMarket-sub000/internal/watcher"
	"github.com/Mujojo03/BitMarket-sub000/pkg/logger"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// MockPayments implements PaymentCollaborator. Status answers come from
// Statuses keyed by intent id, then DefaultStatus, then PENDING.
type MockPayments struct {
	mu            sync.Mutex
	CreateFunc    func(ctx context.Context, req d.IntentRequest) (*d.PaymentIntent, error)
	Requests      []d.IntentRequest
	Statuses      map[string]d.IntentStatus
	DefaultStatus d.IntentStatus
	StatusErr     error
	Cancelled     []string
	TTL           time.Duration
	nextID        int
	polls         map[string]int
}

func NewMockPayments() *MockPayments {
	return &MockPayments{
		Statuses: make(map[string]d.IntentStatus),
		TTL:      time.Minute,
		polls:    make(map[string]int),
	}
}

func (m *MockPayments) CreateIntent(ctx context.Context, req d.IntentRequest) (*d.PaymentIntent, error) {
	m.mu.Lock()
	m.Requests = append(m.Requests, req)
	fn := m.CreateFunc
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, req)
	}
	return m.mint(req), nil
}

// mint returns a well-formed intent for req.
func (m *MockPayments) mint(req d.IntentRequest) *d.PaymentIntent {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := fmt.Sprintf("intent-%d", m.nextID)
	now := time.Now()
	intent := &d.PaymentIntent{
		ID:         id,
		Method:     req.Method,
		AmountSats: req.AmountSats,
		Status:     d.IntentStatusPending,
		CreatedAt:  now,
		ExpiresAt:  now.Add(m.TTL),
	}
	switch req.Method {
	case d.PaymentMethodLightning:
		intent.Payload = d.LightningInvoice{PaymentRequest: "lnbc" + id, PaymentHash: "hash-" + id}
	case d.PaymentMethodMobileMoney:
		intent.Payload = d.MobileMoneyPrompt{
			PhoneNumber: req.PhoneNumber,
			Reference:   "ref-" + id,
			AmountFiat:  req.AmountFiat,
			Currency:    req.FiatCurrency,
		}
	}
	return intent
}

func (m *MockPayments) GetIntentStatus(_ context.Context, intentID string) (d.IntentStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.polls[intentID]++
	if m.StatusErr != nil {
		return "", m.StatusErr
	}
	if status, ok := m.Statuses[intentID]; ok {
		return status, nil
	}
	if m.DefaultStatus != "" {
		return m.DefaultStatus, nil
	}
	return d.IntentStatusPending, nil
}

func (m *MockPayments) CancelIntent(_ context.Context, intentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Cancelled = append(m.Cancelled, intentID)
	return nil
}

func (m *MockPayments) PollCount(intentID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.polls[intentID]
}

func (m *MockPayments) SetStatus(intentID string, status d.IntentStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Statuses[intentID] = status
}

func (m *MockPayments) SetCreateFunc(fn func(ctx context.Context, req d.IntentRequest) (*d.PaymentIntent, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CreateFunc = fn
}

func (m *MockPayments) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requests)
}

func (m *MockPayments) CancelledIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.Cancelled...)
}

// MockOrders implements OrderCollaborator with one order per checkout.
type MockOrders struct {
	mu        sync.Mutex
	CreateErr error
	PaidErr   error
	Orders    map[string]string
	Paid      map[string]string
	Creates   int
	// Gate, when set, holds CreateOrGetPendingOrder until it is closed.
	Gate chan struct{}
}

func NewMockOrders() *MockOrders {
	return &MockOrders{Orders: make(map[string]string), Paid: make(map[string]string)}
}

func (m *MockOrders) CreateOrGetPendingOrder(_ context.Context, checkoutID, _ string, _ *d.CartSnapshot) (string, error) {
	if m.Gate != nil {
		<-m.Gate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Creates++
	if m.CreateErr != nil {
		return "", m.CreateErr
	}
	if id, ok := m.Orders[checkoutID]; ok {
		return id, nil
	}
	id := "order-" + checkoutID
	m.Orders[checkoutID] = id
	return id, nil
}

func (m *MockOrders) MarkOrderPaid(_ context.Context, orderID, intentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PaidErr != nil {
		return m.PaidErr
	}
	m.Paid[orderID] = intentID
	return nil
}

func (m *MockOrders) PaidCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Paid)
}

func (m *MockOrders) CreateCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Creates
}

// MockCart implements CartCollaborator.
type MockCart struct {
	mu      sync.Mutex
	Err     error
	Cleared []string
}

func (m *MockCart) ClearCart(_ context.Context, buyerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Cleared = append(m.Cleared, buyerID)
	return nil
}

func (m *MockCart) ClearedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Cleared)
}

// MockJournal implements Journal and keeps every transition it was given.
type MockJournal struct {
	mu          sync.Mutex
	Transitions []d.Transition
}

func (m *MockJournal) RecordTransition(_ context.Context, t *d.Transition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Transitions = append(m.Transitions, *t)
	return nil
}

func (m *MockJournal) States(sessionID string) []d.CheckoutState {
	m.mu.Lock()
	defer m.mu.Unlock()
	var states []d.CheckoutState
	for _, t := range m.Transitions {
		if t.SessionID == sessionID {
			states = append(states, t.To)
		}
	}
	return states
}

func (m *MockJournal) Events(sessionID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var events []string
	for _, t := range m.Transitions {
		if t.SessionID != sessionID {
			continue
		}
		for _, e := range t.Events {
			events = append(events, e.EventType)
		}
	}
	return events
}

var errUnavailable = errors.New("collaborator unavailable")

type testEnv struct {
	svc      *CheckoutServiceImpl
	payments *MockPayments
	orders   *MockOrders
	cart     *MockCart
	journal  *MockJournal
	registry *registry.MemoryRegistry
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		payments: NewMockPayments(),
		orders:   NewMockOrders(),
		cart:     &MockCart{},
		journal:  &MockJournal{},
		registry: registry.NewMemoryRegistry(),
	}
	log := logger.Discard()
	intents := NewIntentCreator(env.payments, IntentCreatorConfig{
		Attempts:     2,
		Backoff:      time.Millisecond,
		Timeout:      time.Second,
		TTL:          time.Minute,
		FiatRate:     decimal.RequireFromString("0.08"),
		FiatCurrency: "KES",
	}, nil, log)
	env.svc = NewCheckoutService(Settings{
		NetworkFeeSats:      10,
		CollaboratorTimeout: time.Second,
		SubscriberBuffer:    32,
	}, Dependencies{
		Intents:   intents,
		Finalizer: NewOrderFinalizer(env.orders, env.cart, time.Second, log),
		Payments:  env.payments,
		Watcher:   watcher.New(env.payments, 5*time.Millisecond, time.Second, nil, log),
		Registry:  env.registry,
		Journal:   env.journal,
		Logger:    log,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		require.NoError(t, env.svc.Close(ctx))
	})
	return env
}

func testCart(buyerID string, items ...d.CartItem) *d.Cart {
	if len(items) == 0 {
		items = []d.CartItem{
			{ProductID: 1, ProductName: "Hardware wallet", UnitPriceSats: 30000, Quantity: 1},
			{ProductID: 2, ProductName: "Sticker pack", UnitPriceSats: 7500, Quantity: 2},
		}
	}
	return &d.Cart{BuyerID: buyerID, Items: items}
}

func (e *testEnv) waitForState(t *testing.T, sessionID string, want d.CheckoutState) *d.SessionView {
	t.Helper()
	var last *d.SessionView
	require.Eventually(t, func() bool {
		v, err := e.svc.Session(sessionID)
		if err != nil {
			return false
		}
		last = v
		return v.State == want
	}, 2*time.Second, 5*time.Millisecond, "session %s never reached %s", sessionID, want)
	return last
}
