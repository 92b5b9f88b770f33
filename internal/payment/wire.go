package payment

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	d "github.com/Mujojo03/BitMarket-sub000/internal/domain"
	"github.com/shopspring/decimal"
)

// Gateway wire methods.
const (
	MethodLightning   = "lightning"
	MethodMobileMoney = "mobile_money"
)

// Gateway wire statuses.
const (
	StatusCreated   = "created"
	StatusPending   = "pending"
	StatusPaid      = "paid"
	StatusSettled   = "settled"
	StatusExpired   = "expired"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Envelope wraps every gateway response.
type Envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type CreateInvoiceRequest struct {
	Satoshis     int64            `json:"satoshis"`
	Method       string           `json:"method"`
	Description  string           `json:"description,omitempty"`
	CustomerID   string           `json:"customer_id,omitempty"`
	PhoneNumber  string           `json:"phone_number,omitempty"`
	FiatAmount   *decimal.Decimal `json:"fiat_amount,omitempty"`
	FiatCurrency string           `json:"fiat_currency,omitempty"`
}

type Invoice struct {
	ID             string           `json:"id"`
	Method         string           `json:"method"`
	Satoshis       int64            `json:"satoshis"`
	Status         string           `json:"status"`
	PaymentRequest string           `json:"payment_request,omitempty"`
	PaymentHash    string           `json:"payment_hash,omitempty"`
	Reference      string           `json:"reference,omitempty"`
	PhoneNumber    string           `json:"phone_number,omitempty"`
	FiatAmount     *decimal.Decimal `json:"fiat_amount,omitempty"`
	FiatCurrency   string           `json:"fiat_currency,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	ExpiresAt      time.Time        `json:"expires_at"`
}

type StatusResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func wireMethod(m d.PaymentMethod) (string, error) {
	switch m {
	case d.PaymentMethodLightning:
		return MethodLightning, nil
	case d.PaymentMethodMobileMoney:
		return MethodMobileMoney, nil
	}
	return "", fmt.Errorf("%w: %q", d.ErrUnknownPaymentMethod, m)
}

// ParseStatus maps a gateway status onto the intent lifecycle.
func ParseStatus(s string) (d.IntentStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case StatusCreated:
		return d.IntentStatusCreated, nil
	case StatusPending:
		return d.IntentStatusPending, nil
	case StatusPaid, StatusSettled:
		return d.IntentStatusSettled, nil
	case StatusExpired:
		return d.IntentStatusExpired, nil
	case StatusFailed, StatusCancelled:
		return d.IntentStatusFailed, nil
	}
	return "", fmt.Errorf("unknown gateway status %q", s)
}

func (inv *Invoice) toIntent() (*d.PaymentIntent, error) {
	status, err := ParseStatus(inv.Status)
	if err != nil {
		return nil, err
	}
	intent := &d.PaymentIntent{
		ID:         inv.ID,
		AmountSats: inv.Satoshis,
		Status:     status,
		CreatedAt:  inv.CreatedAt,
		ExpiresAt:  inv.ExpiresAt,
	}
	switch inv.Method {
	case MethodLightning:
		intent.Method = d.PaymentMethodLightning
		intent.Payload = d.LightningInvoice{PaymentRequest: inv.PaymentRequest, PaymentHash: inv.PaymentHash}
	case MethodMobileMoney:
		intent.Method = d.PaymentMethodMobileMoney
		prompt := d.MobileMoneyPrompt{PhoneNumber: inv.PhoneNumber, Reference: inv.Reference, Currency: inv.FiatCurrency}
		if inv.FiatAmount != nil {
			prompt.AmountFiat = *inv.FiatAmount
		}
		intent.Payload = prompt
	default:
		return nil, fmt.Errorf("unknown gateway method %q", inv.Method)
	}
	return intent, nil
}
