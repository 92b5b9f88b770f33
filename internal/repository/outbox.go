package repository

import (
	"context"
	"fmt"
	"time"

	d "github.com/Mujojo03/BitMarket-sub000/internal/domain"
)

type OutboxEvent struct {
	ID          string
	AggregateId string
	EventType   string
	Payload     []byte
	CreatedAt   time.Time
}

func (r *Repository) GetUnprocessedEvents(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	query := `SELECT id, aggregate_id, event_type, payload, created_at
	          FROM outbox_events WHERE processed_at IS NULL
	          ORDER BY created_at LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox events: %w", err)
	}
	defer rows.Close()

	var events []*OutboxEvent
	for rows.Next() {
		var e OutboxEvent
		if err := rows.Scan(&e.ID, &e.AggregateId, &e.EventType, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return events, nil
}

func (r *Repository) MarkEventAsProcessed(ctx context.Context, eventID string) error {
	query := `UPDATE outbox_events SET processed_at = NOW() WHERE id = $1 AND processed_at IS NULL`
	if _, err := r.db.ExecContext(ctx, query, eventID); err != nil {
		return fmt.Errorf("mark outbox event processed: %w", err)
	}
	return nil
}

// GetStuckSessions returns settled sessions whose finalization has not moved
// for olderThan, typically because the process died mid-way.
func (r *Repository) GetStuckSessions(ctx context.Context, olderThan time.Duration) ([]*CheckoutSession, error) {
	query := `SELECT id, user_id, status, version, payment_method, intent_id, total_sats, order_id,
	                 failure_kind, failure_message, cart_snapshot, needs_reconciliation, created_at, updated_at
	          FROM checkout_sessions
	          WHERE status IN ($1, $2) AND updated_at < $3 AND needs_reconciliation = FALSE
	          ORDER BY updated_at`

	rows, err := r.db.QueryContext(ctx, query, d.StateSettled, d.StateFinalizing, time.Now().Add(-olderThan))
	if err != nil {
		return nil, fmt.Errorf("query stuck sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*CheckoutSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stuck session: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return sessions, nil
}

// FlagForReconciliation marks the session and enqueues events atomically.
// A session that is already flagged is left alone.
func (r *Repository) FlagForReconciliation(ctx context.Context, sessionID string, events ...d.OutboxMessage) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE checkout_sessions SET needs_reconciliation = TRUE, updated_at = NOW()
		 WHERE id = $1 AND needs_reconciliation = FALSE`, sessionID)
	if err != nil {
		return fmt.Errorf("flag session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("flag session: %w", err)
	}
	if n == 0 {
		return nil
	}

	if err := insertOutboxEvents(ctx, tx, sessionID, events); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reconciliation flag: %w", err)
	}
	return nil
}
