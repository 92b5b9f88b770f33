package domain

import "time"

// SessionView is an immutable copy of a checkout session. Subscribers and
// API handlers only ever see views, never the live session.
type SessionView struct {
	ID        string           `json:"id"`
	BuyerID   string           `json:"buyer_id"`
	State     CheckoutState    `json:"state"`
	Version   int64            `json:"version"`
	Snapshot  *CartSnapshot    `json:"snapshot"`
	Selection *MethodSelection `json:"selection,omitempty"`
	Intent    *PaymentIntent   `json:"intent,omitempty"`
	OrderID   string           `json:"order_id,omitempty"`
	Failure   *Failure         `json:"failure,omitempty"`
	RetryOf   string           `json:"retry_of,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// ShowsInvoice reports whether the buyer should be looking at a payable
// Lightning invoice right now.
func (v SessionView) ShowsInvoice() bool {
	if v.State != StateAwaitingSettlement || v.Intent == nil {
		return false
	}
	_, ok := v.Intent.Payload.(LightningInvoice)
	return ok
}
