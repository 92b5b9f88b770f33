package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/Mujojo03/BitMarket-sub000/internal/cart"
	d "github.com/Mujojo03/BitMarket-sub000/internal/domain"
	"github.com/Mujojo03/BitMarket-sub000/internal/orders"
	"github.com/Mujojo03/BitMarket-sub000/internal/payment"
	"github.com/Mujojo03/BitMarket-sub000/internal/payment/simulator"
	"github.com/Mujojo03/BitMarket-sub000/internal/registry"
	"github.com/Mujojo03/BitMarket-sub000/internal/service"
	"github.com/Mujojo03/BitMarket-sub000/internal/watcher"
	"github.com/Mujojo03/BitMarket-sub000/pkg/logger"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret")

// MockCartStore is an in-memory cart collaborator.
type MockCartStore struct {
	mu    sync.Mutex
	carts map[string]*d.Cart
}

func NewMockCartStore() *MockCartStore {
	return &MockCartStore{carts: make(map[string]*d.Cart)}
}

func (m *MockCartStore) GetCart(_ context.Context, buyerID string) (*d.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.carts[buyerID]
	if !ok {
		return &d.Cart{BuyerID: buyerID}, nil
	}
	cp := *c
	cp.Items = append([]d.CartItem(nil), c.Items...)
	return &cp, nil
}

func (m *MockCartStore) PutItem(_ context.Context, buyerID string, item d.CartItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.carts[buyerID]
	if !ok {
		c = &d.Cart{BuyerID: buyerID}
		m.carts[buyerID] = c
	}
	for i := range c.Items {
		if c.Items[i].ProductID == item.ProductID {
			c.Items[i] = item
			return nil
		}
	}
	c.Items = append(c.Items, item)
	return nil
}

func (m *MockCartStore) RemoveItem(_ context.Context, buyerID string, productID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.carts[buyerID]
	if !ok {
		return cart.ErrItemNotFound
	}
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			c.Items = append(c.Items[:i], c.Items[i+1:]...)
			return nil
		}
	}
	return cart.ErrItemNotFound
}

func (m *MockCartStore) ClearCart(_ context.Context, buyerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.carts, buyerID)
	return nil
}

type MockOrders struct {
	mu     sync.Mutex
	orders map[string]*orders.Order
}

func (m *MockOrders) CreateOrGetPendingOrder(_ context.Context, checkoutID, buyerID string, snapshot *d.CartSnapshot) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.orders == nil {
		m.orders = make(map[string]*orders.Order)
	}
	if o, ok := m.orders[checkoutID]; ok {
		return o.ID.String(), nil
	}
	o := &orders.Order{
		ID:         uuid.New(),
		CheckoutID: checkoutID,
		UserID:     buyerID,
		TotalSats:  snapshot.TotalSats,
		Status:     orders.OrderStatusPending,
		Items:      snapshot.Items,
		CreatedAt:  time.Now(),
	}
	m.orders[checkoutID] = o
	return o.ID.String(), nil
}

func (m *MockOrders) MarkOrderPaid(_ context.Context, orderID, intentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.ID.String() == orderID {
			now := time.Now()
			o.Status = orders.OrderStatusPaid
			o.IntentID = intentID
			o.PaidAt = &now
			return nil
		}
	}
	return orders.ErrOrderNotFound
}

func (m *MockOrders) ListOrdersByUserID(_ context.Context, userID string) ([]*orders.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var list []*orders.Order
	for _, o := range m.orders {
		if o.UserID == userID {
			c := *o
			list = append(list, &c)
		}
	}
	return list, nil
}

// MockJournal keeps transitions in memory and serves them as history.
type MockJournal struct {
	mu      sync.Mutex
	entries map[string][]d.TransitionEntry
}

func (m *MockJournal) RecordTransition(_ context.Context, t *d.Transition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.entries == nil {
		m.entries = make(map[string][]d.TransitionEntry)
	}
	m.entries[t.SessionID] = append(m.entries[t.SessionID], d.TransitionEntry{
		From:      t.From,
		To:        t.To,
		Version:   t.Version,
		IntentID:  t.IntentID,
		CreatedAt: t.At,
	})
	return nil
}

func (m *MockJournal) GetTransitions(_ context.Context, sessionID string) ([]d.TransitionEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]d.TransitionEntry(nil), m.entries[sessionID]...), nil
}

// MockWSConn records websocket writes. DeadlineErr fails SetWriteDeadline.
type MockWSConn struct {
	DeadlineErr error
	Deadline    time.Time
	Writes      int
}

func (m *MockWSConn) SetWriteDeadline(t time.Time) error {
	if m.DeadlineErr != nil {
		return m.DeadlineErr
	}
	m.Deadline = t
	return nil
}

func (m *MockWSConn) WriteJSON(any) error {
	m.Writes++
	return nil
}

func (m *MockWSConn) WriteMessage(int, []byte) error {
	m.Writes++
	return nil
}

type testEnv struct {
	server  *httptest.Server
	gateway *httptest.Server
	carts   *MockCartStore
	svc     *service.CheckoutServiceImpl
}

// newTestEnv runs the API against a real checkout service whose payment
// collaborator is the gateway simulator.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := logger.Discard()

	sim := simulator.NewServer(simulator.Config{InvoiceTTL: time.Minute}, nil, log)
	gateway := httptest.NewServer(sim.Routes())
	t.Cleanup(gateway.Close)

	payments := payment.NewClient(payment.ClientConfig{BaseURL: gateway.URL, Timeout: time.Second}, log)
	carts := NewMockCartStore()
	journal := &MockJournal{}
	orderStore := &MockOrders{}

	intents := service.NewIntentCreator(payments, service.IntentCreatorConfig{
		Attempts:     1,
		Timeout:      time.Second,
		TTL:          time.Minute,
		FiatRate:     decimal.RequireFromString("0.08"),
		FiatCurrency: "KES",
	}, nil, log)
	svc := service.NewCheckoutService(service.Settings{
		NetworkFeeSats:      10,
		CollaboratorTimeout: time.Second,
	}, service.Dependencies{
		Intents:   intents,
		Finalizer: service.NewOrderFinalizer(orderStore, carts, time.Second, log),
		Payments:  payments,
		Watcher:   watcher.New(payments, 10*time.Millisecond, time.Second, nil, log),
		Registry:  registry.NewMemoryRegistry(),
		Journal:   journal,
		Logger:    log,
	})

	router := NewRouter(RouterConfig{
		Checkout:       NewCheckoutHandler(svc, carts, journal, 5*time.Second, log),
		Cart:           NewCartHandler(carts, 5*time.Second),
		Orders:         NewOrdersHandler(orderStore, 5*time.Second),
		JWTSecret:      testSecret,
		RequestTimeout: 5 * time.Second,
		Logger:         log,
	})
	server := httptest.NewServer(router)

	t.Cleanup(func() {
		server.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		require.NoError(t, svc.Close(ctx))
	})
	return &testEnv{server: server, gateway: gateway, carts: carts, svc: svc}
}

func token(t *testing.T, buyerID string) string {
	t.Helper()
	tok, err := IssueToken(testSecret, buyerID, time.Hour)
	require.NoError(t, err)
	return tok
}

func (e *testEnv) fillCart(t *testing.T, buyerID string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.carts.PutItem(ctx, buyerID, d.CartItem{ProductID: 1, ProductName: "Hardware wallet", UnitPriceSats: 30000, Quantity: 1}))
	require.NoError(t, e.carts.PutItem(ctx, buyerID, d.CartItem{ProductID: 2, ProductName: "Sticker pack", UnitPriceSats: 7500, Quantity: 2}))
}

// settle pays an intent at the gateway, as a buyer's wallet would.
func (e *testEnv) settle(t *testing.T, intentID string) {
	t.Helper()
	resp, err := http.Post(e.gateway.URL+"/payments/"+intentID+"/settle", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
