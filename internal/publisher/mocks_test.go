package publisher

import (
	"context"
	"sync"
	"time"

	d "github.com/Mujojo03/BitMarket-sub000/internal/domain"
	r "github.com/Mujojo03/BitMarket-sub000/internal/repository"
	kafkaGo "github.com/segmentio/kafka-go"
)

type MockRepository struct {
	mu                  sync.Mutex
	OutboxEvents        []*r.OutboxEvent
	ProcessedIDs        []string
	StuckSessions       []*r.CheckoutSession
	GetStuckSessionsErr error
	FlagErr             error
	FlaggedIDs          []string
	FlaggedEvents       []d.OutboxMessage
	FlagCallCount       int
}

// GetUnprocessedEvents returns the pending events once.
func (m *MockRepository) GetUnprocessedEvents(context.Context, int) ([]*r.OutboxEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev := m.OutboxEvents
	m.OutboxEvents = nil
	return ev, nil
}

func (m *MockRepository) MarkEventAsProcessed(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ProcessedIDs = append(m.ProcessedIDs, id)
	return nil
}

func (m *MockRepository) GetStuckSessions(context.Context, time.Duration) ([]*r.CheckoutSession, error) {
	if m.GetStuckSessionsErr != nil {
		return nil, m.GetStuckSessionsErr
	}
	return m.StuckSessions, nil
}

func (m *MockRepository) FlagForReconciliation(_ context.Context, sessionID string, events ...d.OutboxMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FlagCallCount++
	if m.FlagErr != nil {
		return m.FlagErr
	}
	m.FlaggedIDs = append(m.FlaggedIDs, sessionID)
	m.FlaggedEvents = append(m.FlaggedEvents, events...)
	return nil
}

func (m *MockRepository) Processed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.ProcessedIDs...)
}

// MockWriter records messages and fails the ones whose key is in FailKeys.
type MockWriter struct {
	mu       sync.Mutex
	Messages []kafkaGo.Message
	FailKeys map[string]error
}

func (w *MockWriter) WriteMessages(_ context.Context, msgs ...kafkaGo.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, m := range msgs {
		if err := w.FailKeys[string(m.Key)]; err != nil {
			return err
		}
		w.Messages = append(w.Messages, m)
	}
	return nil
}
