package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	d "github.com/Mujojo03/BitMarket-sub000/internal/domain"
	"github.com/Mujojo03/BitMarket-sub000/internal/metrics"
	"github.com/shopspring/decimal"
)

type IntentCreatorConfig struct {
	Attempts     int
	Backoff      time.Duration
	Timeout      time.Duration
	TTL          time.Duration
	FiatRate     decimal.Decimal
	FiatCurrency string
}

// IntentCreator asks the payment collaborator for an intent. Every attempt
// for one checkout step reuses the same idempotency key, so retries after a
// network blip never mint a second invoice.
type IntentCreator struct {
	payments PaymentCollaborator
	cfg      IntentCreatorConfig
	metrics  *metrics.Checkout
	log      *slog.Logger
	now      func() time.Time
}

func NewIntentCreator(payments PaymentCollaborator, cfg IntentCreatorConfig, m *metrics.Checkout, log *slog.Logger) *IntentCreator {
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &IntentCreator{
		payments: payments,
		cfg:      cfg,
		metrics:  m,
		log:      log.With("component", "intent_creator"),
		now:      time.Now,
	}
}

type IntentParams struct {
	AmountSats     int64
	Selection      d.MethodSelection
	IdempotencyKey string
	BuyerID        string
	Description    string
}

// IdempotencyKey is stable for one intent attempt of a session. The
// generation moves forward whenever an intent is discarded.
func IdempotencyKey(sessionID string, generation int) string {
	return fmt.Sprintf("%s:%d", sessionID, generation)
}

func (c *IntentCreator) Create(ctx context.Context, params IntentParams) (*d.PaymentIntent, error) {
	if params.AmountSats <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive, got %d", d.ErrIntentCreation, params.AmountSats)
	}
	if err := params.Selection.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", d.ErrIntentCreation, err)
	}
	if params.IdempotencyKey == "" {
		return nil, fmt.Errorf("%w: missing idempotency key", d.ErrIntentCreation)
	}

	req := d.IntentRequest{
		AmountSats:     params.AmountSats,
		Method:         params.Selection.Method,
		IdempotencyKey: params.IdempotencyKey,
		Description:    params.Description,
		BuyerID:        params.BuyerID,
	}
	if params.Selection.Method == d.PaymentMethodMobileMoney {
		req.PhoneNumber = params.Selection.PhoneNumber
		req.AmountFiat = c.cfg.FiatRate.Mul(decimal.NewFromInt(params.AmountSats)).Round(2)
		req.FiatCurrency = c.cfg.FiatCurrency
	}

	start := c.now()
	log := c.log.With("idempotency_key", req.IdempotencyKey, "method", req.Method)

	var lastErr error
attempts:
	for attempt := 1; attempt <= c.cfg.Attempts; attempt++ {
		intent, err := c.createOnce(ctx, req)
		if err == nil {
			if verr := verifyIntent(intent, req); verr != nil {
				log.Error("payment collaborator returned an unusable intent", "error", verr)
				c.discard(ctx, intent)
				lastErr = verr
				break
			}
			c.normalize(intent, req, start)
			c.metrics.ObserveIntentCreate(req.Method.String(), "ok", c.now().Sub(start))
			log.Info("payment intent created", "intent_id", intent.ID, "attempt", attempt, "expires_at", intent.ExpiresAt)
			return intent, nil
		}

		lastErr = err
		if errors.Is(err, d.ErrIntentRejected) || ctx.Err() != nil {
			break
		}
		if attempt < c.cfg.Attempts {
			log.Warn("intent creation failed, retrying", "attempt", attempt, "error", err)
			select {
			case <-time.After(c.cfg.Backoff * time.Duration(attempt)):
			case <-ctx.Done():
				lastErr = ctx.Err()
				break attempts
			}
		}
	}

	c.metrics.ObserveIntentCreate(req.Method.String(), "error", c.now().Sub(start))
	return nil, fmt.Errorf("%w: %w", d.ErrIntentCreation, lastErr)
}

func (c *IntentCreator) createOnce(ctx context.Context, req d.IntentRequest) (*d.PaymentIntent, error) {
	if c.cfg.Timeout <= 0 {
		return c.payments.CreateIntent(ctx, req)
	}
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	return c.payments.CreateIntent(callCtx, req)
}

func (c *IntentCreator) discard(ctx context.Context, intent *d.PaymentIntent) {
	if intent == nil || intent.ID == "" {
		return
	}
	callCtx := context.WithoutCancel(ctx)
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(callCtx, c.cfg.Timeout)
		defer cancel()
	}
	if err := c.payments.CancelIntent(callCtx, intent.ID); err != nil {
		c.log.Warn("failed to cancel unusable intent", "intent_id", intent.ID, "error", err)
	}
}

// normalize bounds the intent lifetime by our own TTL even when the
// collaborator reports a later or no expiry.
func (c *IntentCreator) normalize(intent *d.PaymentIntent, req d.IntentRequest, start time.Time) {
	intent.Method = req.Method
	if intent.Status == "" {
		intent.Status = d.IntentStatusCreated
	}
	if intent.CreatedAt.IsZero() {
		intent.CreatedAt = start
	}
	if c.cfg.TTL > 0 {
		deadline := intent.CreatedAt.Add(c.cfg.TTL)
		if intent.ExpiresAt.IsZero() || intent.ExpiresAt.After(deadline) {
			intent.ExpiresAt = deadline
		}
	}
}

func verifyIntent(intent *d.PaymentIntent, req d.IntentRequest) error {
	if intent == nil || intent.ID == "" {
		return errors.New("intent without id")
	}
	if intent.AmountSats != req.AmountSats {
		return fmt.Errorf("intent amount %d does not match snapshot total %d", intent.AmountSats, req.AmountSats)
	}
	if intent.Payload == nil || intent.Payload.Method() != req.Method {
		return fmt.Errorf("intent payload does not match method %s", req.Method)
	}
	if inv, ok := intent.Payload.(d.LightningInvoice); ok && inv.PaymentRequest == "" {
		return errors.New("lightning intent without payment request")
	}
	return nil
}
