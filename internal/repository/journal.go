package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	d "github.com/Mujojo03/BitMarket-sub000/internal/domain"
	"github.com/google/uuid"
)

// CheckoutSession is the persisted head of a checkout.
type CheckoutSession struct {
	ID                  string
	UserID              string
	Status              d.CheckoutState
	Version             int64
	Method              d.PaymentMethod
	IntentID            string
	TotalSats           int64
	OrderID             string
	FailureKind         d.FailureKind
	FailureMessage      string
	CartSnapshot        []byte
	NeedsReconciliation bool
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// RecordTransition writes the session head, its transition row and any
// outbox events in one transaction. Replaying an older version is a no-op.
func (r *Repository) RecordTransition(ctx context.Context, t *d.Transition) error {
	snapshotJSON, err := json.Marshal(t.Snapshot)
	if err != nil {
		return fmt.Errorf("marshal cart snapshot: %w", err)
	}

	var failureKind d.FailureKind
	var failureMessage string
	if t.Failure != nil && t.To == d.StateFailed {
		failureKind = t.Failure.Kind
		failureMessage = t.Failure.Message
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	upsert := `INSERT INTO checkout_sessions (id, user_id, status, version, payment_method, intent_id, total_sats, order_id,
	                                          failure_kind, failure_message, cart_snapshot, needs_reconciliation,
	                                          created_at, updated_at)
	           VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)
	           ON CONFLICT (id) DO UPDATE SET
	               status = EXCLUDED.status,
	               version = EXCLUDED.version,
	               payment_method = EXCLUDED.payment_method,
	               intent_id = EXCLUDED.intent_id,
	               order_id = EXCLUDED.order_id,
	               failure_kind = EXCLUDED.failure_kind,
	               failure_message = EXCLUDED.failure_message,
	               needs_reconciliation = checkout_sessions.needs_reconciliation OR EXCLUDED.needs_reconciliation,
	               updated_at = EXCLUDED.updated_at
	           WHERE checkout_sessions.version < EXCLUDED.version`
	res, err := tx.ExecContext(ctx, upsert,
		t.SessionID,
		t.BuyerID,
		t.To,
		t.Version,
		t.Method,
		t.IntentID,
		t.AmountSats,
		t.OrderID,
		failureKind,
		failureMessage,
		snapshotJSON,
		failureKind == d.FailureFinalization,
		t.At)
	if err != nil {
		return fmt.Errorf("upsert checkout session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		r.log.WarnContext(ctx, "ignoring stale transition", "session_id", t.SessionID, "version", t.Version)
		return nil
	}

	insertTransition := `INSERT INTO checkout_transitions (session_id, from_state, to_state, version, intent_id, detail, created_at)
	                     VALUES ($1, $2, $3, $4, $5, $6, $7)
	                     ON CONFLICT (session_id, version) DO NOTHING`
	if _, err := tx.ExecContext(ctx, insertTransition,
		t.SessionID, t.From, t.To, t.Version, t.IntentID, failureMessage, t.At); err != nil {
		return fmt.Errorf("insert transition: %w", err)
	}

	if err := insertOutboxEvents(ctx, tx, t.SessionID, t.Events); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transition: %w", err)
	}
	return nil
}

func insertOutboxEvents(ctx context.Context, tx *sql.Tx, aggregateID string, events []d.OutboxMessage) error {
	query := `INSERT INTO outbox_events (id, aggregate_id, event_type, payload, created_at)
	          VALUES ($1, $2, $3, $4, NOW())`
	for _, e := range events {
		if _, err := tx.ExecContext(ctx, query, uuid.New(), aggregateID, e.EventType, []byte(e.Payload)); err != nil {
			return fmt.Errorf("insert outbox event %s: %w", e.EventType, err)
		}
	}
	return nil
}

func (r *Repository) GetSession(ctx context.Context, sessionID string) (*CheckoutSession, error) {
	query := `SELECT id, user_id, status, version, payment_method, intent_id, total_sats, order_id,
	                 failure_kind, failure_message, cart_snapshot, needs_reconciliation, created_at, updated_at
	          FROM checkout_sessions WHERE id = $1`
	s, err := scanSession(r.db.QueryRowContext(ctx, query, sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query checkout session: %w", err)
	}
	return s, nil
}

func (r *Repository) GetTransitions(ctx context.Context, sessionID string) ([]d.TransitionEntry, error) {
	query := `SELECT from_state, to_state, version, intent_id, detail, created_at
	          FROM checkout_transitions WHERE session_id = $1 ORDER BY version`

	rows, err := r.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()

	var entries []d.TransitionEntry
	for rows.Next() {
		var e d.TransitionEntry
		if err := rows.Scan(&e.From, &e.To, &e.Version, &e.IntentID, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transition row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return entries, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*CheckoutSession, error) {
	var s CheckoutSession
	err := row.Scan(
		&s.ID,
		&s.UserID,
		&s.Status,
		&s.Version,
		&s.Method,
		&s.IntentID,
		&s.TotalSats,
		&s.OrderID,
		&s.FailureKind,
		&s.FailureMessage,
		&s.CartSnapshot,
		&s.NeedsReconciliation,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
