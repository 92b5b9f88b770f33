package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type IntentStatus string

const (
	IntentStatusCreated IntentStatus = "CREATED"
	IntentStatusPending IntentStatus = "PENDING"
	IntentStatusSettled IntentStatus = "SETTLED"
	IntentStatusExpired IntentStatus = "EXPIRED"
	IntentStatusFailed  IntentStatus = "FAILED"
)

func (s IntentStatus) IsTerminal() bool {
	return s == IntentStatusSettled || s == IntentStatusExpired || s == IntentStatusFailed
}

func (s IntentStatus) String() string {
	return string(s)
}

// PresentationPayload is what the buyer needs to pay: a Lightning invoice to
// render as a QR code, or the reference of a mobile money push prompt.
// The set of implementations is closed.
type PresentationPayload interface {
	Method() PaymentMethod
	isPresentationPayload()
}

type LightningInvoice struct {
	PaymentRequest string `json:"payment_request"`
	PaymentHash    string `json:"payment_hash,omitempty"`
}

func (LightningInvoice) Method() PaymentMethod { return PaymentMethodLightning }
func (LightningInvoice) isPresentationPayload() {}

// URI is the wallet deep link encoded into the QR code.
func (i LightningInvoice) URI() string {
	return "lightning:" + i.PaymentRequest
}

type MobileMoneyPrompt struct {
	PhoneNumber string          `json:"phone_number"`
	Reference   string          `json:"reference"`
	AmountFiat  decimal.Decimal `json:"amount_fiat"`
	Currency    string          `json:"currency"`
}

func (MobileMoneyPrompt) Method() PaymentMethod { return PaymentMethodMobileMoney }
func (MobileMoneyPrompt) isPresentationPayload() {}

// PaymentIntent is one attempt to collect a snapshot total over one rail.
type PaymentIntent struct {
	ID         string
	Method     PaymentMethod
	AmountSats int64
	Payload    PresentationPayload
	Status     IntentStatus
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

func (i *PaymentIntent) IsExpired(now time.Time) bool {
	return !i.ExpiresAt.IsZero() && !now.Before(i.ExpiresAt)
}

// IntentRequest is what the intent creator sends to the payment collaborator.
type IntentRequest struct {
	AmountSats     int64
	Method         PaymentMethod
	IdempotencyKey string
	Description    string
	BuyerID        string
	PhoneNumber    string
	AmountFiat     decimal.Decimal
	FiatCurrency   string
}

type payloadJSON struct {
	Kind        PaymentMethod      `json:"kind"`
	Lightning   *LightningInvoice  `json:"lightning,omitempty"`
	MobileMoney *MobileMoneyPrompt `json:"mobile_money,omitempty"`
}

type intentJSON struct {
	ID         string        `json:"id"`
	Method     PaymentMethod `json:"method"`
	AmountSats int64         `json:"amount_sats"`
	Payload    *payloadJSON  `json:"payload,omitempty"`
	Status     IntentStatus  `json:"status"`
	CreatedAt  time.Time     `json:"created_at"`
	ExpiresAt  time.Time     `json:"expires_at"`
}

func (i PaymentIntent) MarshalJSON() ([]byte, error) {
	out := intentJSON{
		ID:         i.ID,
		Method:     i.Method,
		AmountSats: i.AmountSats,
		Status:     i.Status,
		CreatedAt:  i.CreatedAt,
		ExpiresAt:  i.ExpiresAt,
	}
	switch p := i.Payload.(type) {
	case nil:
	case LightningInvoice:
		out.Payload = &payloadJSON{Kind: PaymentMethodLightning, Lightning: &p}
	case MobileMoneyPrompt:
		out.Payload = &payloadJSON{Kind: PaymentMethodMobileMoney, MobileMoney: &p}
	default:
		return nil, fmt.Errorf("unsupported presentation payload %T", i.Payload)
	}
	return json.Marshal(out)
}

func (i *PaymentIntent) UnmarshalJSON(data []byte) error {
	var in intentJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*i = PaymentIntent{
		ID:         in.ID,
		Method:     in.Method,
		AmountSats: in.AmountSats,
		Status:     in.Status,
		CreatedAt:  in.CreatedAt,
		ExpiresAt:  in.ExpiresAt,
	}
	if in.Payload == nil {
		return nil
	}
	switch in.Payload.Kind {
	case PaymentMethodLightning:
		if in.Payload.Lightning == nil {
			return fmt.Errorf("lightning payload missing")
		}
		i.Payload = *in.Payload.Lightning
	case PaymentMethodMobileMoney:
		if in.Payload.MobileMoney == nil {
			return fmt.Errorf("mobile money payload missing")
		}
		i.Payload = *in.Payload.MobileMoney
	default:
		return fmt.Errorf("%w: payload kind %q", ErrUnknownPaymentMethod, in.Payload.Kind)
	}
	return nil
}
