package publisher

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	d "github.com/Mujojo03/BitMarket-sub000/internal/domain"
	r "github.com/Mujojo03/BitMarket-sub000/internal/repository"
	"github.com/segmentio/kafka-go"
)

// OutboxStore is the part of the checkout repository the poller drives.
type OutboxStore interface {
	GetUnprocessedEvents(ctx context.Context, limit int) ([]*r.OutboxEvent, error)
	MarkEventAsProcessed(ctx context.Context, eventID string) error
	GetStuckSessions(ctx context.Context, olderThan time.Duration) ([]*r.CheckoutSession, error)
	FlagForReconciliation(ctx context.Context, sessionID string, events ...d.OutboxMessage) error
}

type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type Config struct {
	EventTick    time.Duration
	RecoveryTick time.Duration
	StuckAfter   time.Duration
	BatchSize    int
	Timeout      time.Duration
}

func DefaultConfig() Config {
	return Config{
		EventTick:    time.Second,
		RecoveryTick: 5 * time.Second,
		StuckAfter:   2 * time.Minute,
		BatchSize:    100,
		Timeout:      5 * time.Second,
	}
}

type OutboxPoller struct {
	cfg    Config
	repo   OutboxStore
	writer MessageWriter
	log    *slog.Logger
}

func NewKafkaWriter(topic string, brokers ...string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}
}

func NewOutboxPoller(repo OutboxStore, writer MessageWriter, cfg Config, log *slog.Logger) *OutboxPoller {
	def := DefaultConfig()
	if cfg.EventTick <= 0 {
		cfg.EventTick = def.EventTick
	}
	if cfg.RecoveryTick <= 0 {
		cfg.RecoveryTick = def.RecoveryTick
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if log == nil {
		log = slog.Default()
	}
	return &OutboxPoller{cfg: cfg, repo: repo, writer: writer, log: log.With("component", "outbox_poller")}
}

func (p *OutboxPoller) Run(ctx context.Context) {
	eventTicker := time.NewTicker(p.cfg.EventTick)
	recoveryTicker := time.NewTicker(p.cfg.RecoveryTick)
	defer eventTicker.Stop()
	defer recoveryTicker.Stop()
	for {
		select {
		case <-eventTicker.C:
			p.processUnpublishedEvents(ctx)
		case <-recoveryTicker.C:
			p.recoverStuckSessions(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (p *OutboxPoller) processUnpublishedEvents(ctx context.Context) {
	events, err := p.repo.GetUnprocessedEvents(ctx, p.cfg.BatchSize)
	if err != nil {
		p.log.ErrorContext(ctx, "failed to fetch outbox events", "error", err)
		return
	}

	for _, event := range events {
		if err := p.publishToKafka(ctx, event); err != nil {
			// stop the batch so events of one checkout stay in order
			p.log.ErrorContext(ctx, "failed to publish outbox event", "event_id", event.ID, "event_type", event.EventType, "error", err)
			return
		}

		if err := p.repo.MarkEventAsProcessed(ctx, event.ID); err != nil {
			p.log.ErrorContext(ctx, "failed to mark outbox event as processed", "event_id", event.ID, "error", err)
			continue
		}
	}
}

// recoverStuckSessions flags checkouts that settled but never finished
// finalizing. They took money, so they go to reconciliation, not retry.
func (p *OutboxPoller) recoverStuckSessions(ctx context.Context) {
	sessions, err := p.repo.GetStuckSessions(ctx, p.cfg.StuckAfter)
	if err != nil {
		p.log.ErrorContext(ctx, "failed to get stuck sessions", "error", err)
		return
	}
	for _, session := range sessions {
		var snapshot d.CartSnapshot
		if err := json.Unmarshal(session.CartSnapshot, &snapshot); err != nil {
			p.log.ErrorContext(ctx, "failed to unmarshal cart snapshot", "session_id", session.ID, "error", err)
			continue
		}

		payload := map[string]interface{}{
			"checkout_id": session.ID,
			"user_id":     session.UserID,
			"items":       snapshot.Items,
			"total_sats":  snapshot.TotalSats,
			"intent_id":   session.IntentID,
			"state":       session.Status,
			"stuck_since": session.UpdatedAt,
		}
		if session.OrderID != "" {
			payload["order_id"] = session.OrderID
		}
		payloadJSON, err := json.Marshal(payload)
		if err != nil {
			p.log.ErrorContext(ctx, "failed to marshal stuck session payload", "session_id", session.ID, "error", err)
			continue
		}

		event := d.OutboxMessage{EventType: d.EventFinalizationStuck, Payload: payloadJSON}
		if err := p.repo.FlagForReconciliation(ctx, session.ID, event); err != nil {
			p.log.ErrorContext(ctx, "failed to flag stuck session", "session_id", session.ID, "error", err)
			continue
		}
		p.log.WarnContext(ctx, "stuck checkout flagged for reconciliation",
			"session_id", session.ID,
			"intent_id", session.IntentID,
			"reconciliation_required", true)
	}
}

func (p *OutboxPoller) publishToKafka(ctx context.Context, event *r.OutboxEvent) error {
	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}
	msg := kafka.Message{
		Key:   []byte(event.AggregateId), // checkout_id for ordering
		Value: event.Payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
		},
	}
	return p.writer.WriteMessages(ctx, msg)
}
