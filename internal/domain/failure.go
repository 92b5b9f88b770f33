package domain

import "fmt"

type FailureKind string

const (
	FailureIntentCreation     FailureKind = "INTENT_CREATION"
	FailurePaymentNotReceived FailureKind = "PAYMENT_NOT_RECEIVED"
	FailureFinalization       FailureKind = "FINALIZATION"
)

// Failure is the reason attached to a FAILED session.
type Failure struct {
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message"`
}

// MoneyReceived is true only when the buyer paid and the order was not
// recorded. Such a session needs manual reconciliation, never a re-payment.
func (f Failure) MoneyReceived() bool {
	return f.Kind == FailureFinalization
}

func (f Failure) Retryable() bool {
	return f.Kind == FailureIntentCreation || f.Kind == FailurePaymentNotReceived
}

// Err maps the failure back onto its error kind.
func (f Failure) Err() error {
	var kind error
	switch f.Kind {
	case FailureIntentCreation:
		kind = ErrIntentCreation
	case FailurePaymentNotReceived:
		kind = ErrPaymentNotReceived
	case FailureFinalization:
		kind = ErrFinalization
	default:
		return fmt.Errorf("checkout failed: %s", f.Message)
	}
	if f.Message == "" {
		return kind
	}
	return fmt.Errorf("%w: %s", kind, f.Message)
}
