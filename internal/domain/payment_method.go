package domain

import (
	"fmt"
	"regexp"
	"strings"
)

type PaymentMethod string

const (
	PaymentMethodLightning   PaymentMethod = "LIGHTNING"
	PaymentMethodMobileMoney PaymentMethod = "MOBILE_MONEY"
)

var phoneNumberPattern = regexp.MustCompile(`^\+?[0-9]{9,15}$`)

func ParsePaymentMethod(s string) (PaymentMethod, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LIGHTNING", "LN":
		return PaymentMethodLightning, nil
	case "MOBILE_MONEY", "MOBILEMONEY", "MPESA":
		return PaymentMethodMobileMoney, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPaymentMethod, s)
}

func (m PaymentMethod) IsValid() bool {
	return m == PaymentMethodLightning || m == PaymentMethodMobileMoney
}

func (m PaymentMethod) String() string {
	return string(m)
}

// MethodSelection is the buyer's rail choice. Mobile money needs the phone
// that receives the push prompt.
type MethodSelection struct {
	Method      PaymentMethod `json:"method"`
	PhoneNumber string        `json:"phone_number,omitempty"`
}

func (s MethodSelection) Validate() error {
	if !s.Method.IsValid() {
		return fmt.Errorf("%w: %q", ErrUnknownPaymentMethod, s.Method)
	}
	if s.Method == PaymentMethodMobileMoney && !phoneNumberPattern.MatchString(s.PhoneNumber) {
		return fmt.Errorf("%w: %q", ErrInvalidPhoneNumber, s.PhoneNumber)
	}
	return nil
}

// Normalized resolves method aliases and drops fields that do not apply to
// the chosen method.
func (s MethodSelection) Normalized() MethodSelection {
	if m, err := ParsePaymentMethod(string(s.Method)); err == nil {
		s.Method = m
	}
	s.PhoneNumber = strings.TrimSpace(s.PhoneNumber)
	if s.Method != PaymentMethodMobileMoney {
		s.PhoneNumber = ""
	}
	return s
}
