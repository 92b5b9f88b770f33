package cart

import (
	"context"
	"errors"
	"sync"

	d "github.com/Mujojo03/BitMarket-sub000/internal/domain"
	"github.com/segmentio/kafka-go"
)

// MockRepository implements Repository in memory.
type MockRepository struct {
	mu       sync.Mutex
	Carts    map[string]*d.Cart
	GetErr   error
	DelErr   error
	GetCalls int
}

func NewMockRepository() *MockRepository {
	return &MockRepository{Carts: make(map[string]*d.Cart)}
}

func (m *MockRepository) GetCart(_ context.Context, buyerID string) (*d.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GetCalls++
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	c, ok := m.Carts[buyerID]
	if !ok {
		return nil, ErrCartNotFound
	}
	cp := *c
	cp.Items = append([]d.CartItem(nil), c.Items...)
	return &cp, nil
}

func (m *MockRepository) PutItem(_ context.Context, buyerID string, item d.CartItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.Carts[buyerID]
	if !ok {
		c = &d.Cart{BuyerID: buyerID}
		m.Carts[buyerID] = c
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

func (m *MockRepository) RemoveItem(_ context.Context, buyerID string, productID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.Carts[buyerID]
	if !ok {
		return ErrItemNotFound
	}
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			c.Items = append(c.Items[:i], c.Items[i+1:]...)
			return nil
		}
	}
	return ErrItemNotFound
}

func (m *MockRepository) DeleteCart(_ context.Context, buyerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DelErr != nil {
		return m.DelErr
	}
	if _, ok := m.Carts[buyerID]; !ok {
		return ErrCartNotFound
	}
	delete(m.Carts, buyerID)
	return nil
}

// MockCache implements Cache in memory.
type MockCache struct {
	mu      sync.Mutex
	Entries map[string]*d.Cart
	Deleted []string
}

func NewMockCache() *MockCache {
	return &MockCache{Entries: make(map[string]*d.Cart)}
}

func (m *MockCache) Get(_ context.Context, buyerID string) (*d.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.Entries[buyerID]
	if !ok {
		return nil, ErrCacheMiss
	}
	return c, nil
}

func (m *MockCache) Set(_ context.Context, buyerID string, cart *d.Cart) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Entries[buyerID] = cart
	return nil
}

func (m *MockCache) Delete(_ context.Context, buyerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Entries, buyerID)
	m.Deleted = append(m.Deleted, buyerID)
	return nil
}

// MockReader serves Messages in order, then blocks until ctx ends.
type MockReader struct {
	mu        sync.Mutex
	Messages  []kafka.Message
	Committed []kafka.Message
}

func (m *MockReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	m.mu.Lock()
	if len(m.Messages) > 0 {
		msg := m.Messages[0]
		m.Messages = m.Messages[1:]
		m.mu.Unlock()
		return msg, nil
	}
	m.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (m *MockReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Committed = append(m.Committed, msgs...)
	return nil
}

func (m *MockReader) Close() error { return nil }

type MockClearer struct {
	mu        sync.Mutex
	Err       error
	FailTimes int // fail this many calls with Err, then succeed; 0 fails forever
	Calls     int
	Cleared   []string
}

func (m *MockClearer) ClearCart(_ context.Context, buyerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	if m.Err != nil && (m.FailTimes == 0 || m.Calls <= m.FailTimes) {
		return m.Err
	}
	m.Cleared = append(m.Cleared, buyerID)
	return nil
}

var errMongoDown = errors.New("mongo down")
