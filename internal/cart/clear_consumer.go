package cart

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	d "github.com/Mujojo03/BitMarket-sub000/internal/domain"
	"github.com/segmentio/kafka-go"
)

type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Clearer interface {
	ClearCart(ctx context.Context, buyerID string) error
}

// ClearConsumer finishes cart clearing that failed during finalization. It
// reads CartClearPending events from the checkout outbox topic.
type ClearConsumer struct {
	reader  MessageReader
	clearer Clearer
	backoff time.Duration
	log     *slog.Logger
}

func NewKafkaReader(topic string, brokers ...string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  "bitmarket-cart-clear",
		MaxBytes: 10e6, // 10MB
	})
}

func NewClearConsumer(reader MessageReader, clearer Clearer, log *slog.Logger) *ClearConsumer {
	if log == nil {
		log = slog.Default()
	}
	return &ClearConsumer{reader: reader, clearer: clearer, backoff: time.Second, log: log.With("component", "cart_clear_consumer")}
}

func (c *ClearConsumer) Run(ctx context.Context) {
	for ctx.Err() == nil {
		c.processMessage(ctx)
	}
}

func (c *ClearConsumer) Close() {
	if err := c.reader.Close(); err != nil {
		c.log.Error("error closing kafka reader", "error", err)
	}
}

func (c *ClearConsumer) processMessage(ctx context.Context) {
	m, err := c.reader.FetchMessage(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			c.log.ErrorContext(ctx, "error reading message", "error", err)
		}
		return
	}

	if eventType(m) == d.EventCartClearPending && !c.clearWithRetry(ctx, m) {
		// not committed, the group redelivers it after a restart
		return
	}

	if err := c.reader.CommitMessages(ctx, m); err != nil {
		c.log.ErrorContext(ctx, "failed to commit message", "offset", m.Offset, "error", err)
	}
}

// clearWithRetry keeps clearing the same message until it succeeds or ctx
// ends. The reader's in-memory position has already moved past m, so
// returning on failure would skip it for the lifetime of this process.
func (c *ClearConsumer) clearWithRetry(ctx context.Context, m kafka.Message) bool {
	for {
		err := c.clear(ctx, m)
		if err == nil {
			return true
		}
		c.log.ErrorContext(ctx, "failed to clear cart", "offset", m.Offset, "error", err)
		select {
		case <-time.After(c.backoff):
		case <-ctx.Done():
			return false
		}
	}
}

func (c *ClearConsumer) clear(ctx context.Context, m kafka.Message) error {
	var payload struct {
		CheckoutID string `json:"checkout_id"`
		UserID     string `json:"user_id"`
	}
	if err := json.Unmarshal(m.Value, &payload); err != nil || payload.UserID == "" {
		c.log.WarnContext(ctx, "skipping malformed cart clear event", "offset", m.Offset, "error", err)
		return nil
	}
	if err := c.clearer.ClearCart(ctx, payload.UserID); err != nil {
		return err
	}
	c.log.InfoContext(ctx, "cart cleared from outbox", "buyer_id", payload.UserID, "checkout_id", payload.CheckoutID)
	return nil
}

func eventType(m kafka.Message) string {
	for _, h := range m.Headers {
		if h.Key == "event_type" {
			return string(h.Value)
		}
	}
	return ""
}
