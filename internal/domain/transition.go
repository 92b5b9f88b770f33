package domain

import (
	"encoding/json"
	"time"
)

// Outbox event types published for downstream consumers.
const (
	EventCheckoutCompleted  = "CheckoutCompleted"
	EventCartClearPending   = "CartClearPending"
	EventFinalizationFailed = "FinalizationFailed"
	EventFinalizationStuck  = "FinalizationStuck"
)

type OutboxMessage struct {
	EventType string
	Payload   json.RawMessage
}

// Transition is one journaled state change of a checkout session.
type Transition struct {
	SessionID  string
	BuyerID    string
	From       CheckoutState
	To         CheckoutState
	Version    int64
	Method     PaymentMethod
	IntentID   string
	AmountSats int64
	OrderID    string
	Failure    *Failure
	Snapshot   *CartSnapshot
	At         time.Time
	Events     []OutboxMessage
}

type TransitionEntry struct {
	From      CheckoutState `json:"from"`
	To        CheckoutState `json:"to"`
	Version   int64         `json:"version"`
	IntentID  string        `json:"intent_id,omitempty"`
	Detail    string        `json:"detail,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}
