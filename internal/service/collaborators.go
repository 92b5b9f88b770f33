package service

import (
	"context"

	d "github.com/Mujojo03/BitMarket-sub000/internal/domain"
	"github.com/Mujojo03/BitMarket-sub000/internal/watcher"
)

// PaymentCollaborator mints and tracks payment intents.
type PaymentCollaborator interface {
	CreateIntent(ctx context.Context, req d.IntentRequest) (*d.PaymentIntent, error)
	GetIntentStatus(ctx context.Context, intentID string) (d.IntentStatus, error)
	CancelIntent(ctx context.Context, intentID string) error
}

// OrderCollaborator owns orders. Both calls must be idempotent.
type OrderCollaborator interface {
	CreateOrGetPendingOrder(ctx context.Context, checkoutID, buyerID string, snapshot *d.CartSnapshot) (string, error)
	MarkOrderPaid(ctx context.Context, orderID, intentID string) error
}

type CartCollaborator interface {
	ClearCart(ctx context.Context, buyerID string) error
}

// Journal durably records transitions and the outbox events they emit.
type Journal interface {
	RecordTransition(ctx context.Context, t *d.Transition) error
}

// SessionRegistry enforces one active checkout per buyer.
type SessionRegistry interface {
	Claim(ctx context.Context, buyerID, sessionID string) (bool, error)
	Release(ctx context.Context, buyerID, sessionID string) error
}

type SettlementWatcher interface {
	Watch(intent d.PaymentIntent, onTerminal func(d.IntentStatus)) *watcher.Handle
}

type noopJournal struct{}

func (noopJournal) RecordTransition(context.Context, *d.Transition) error { return nil }
