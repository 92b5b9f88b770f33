package domain

import "errors"

var (
	ErrEmptyCart            = errors.New("cart is empty, nothing to checkout")
	ErrInvalidCartItem      = errors.New("invalid cart item")
	ErrUnknownPaymentMethod = errors.New("unknown payment method")
	ErrInvalidPhoneNumber   = errors.New("invalid mobile money phone number")

	// ErrIntentRejected marks a payment collaborator refusal that retrying
	// with the same request cannot fix.
	ErrIntentRejected = errors.New("payment collaborator rejected the request")

	ErrIntentCreation     = errors.New("payment intent creation failed")
	ErrPaymentNotReceived = errors.New("payment not received")
	// ErrFinalization means money was received but the order was not recorded.
	ErrFinalization = errors.New("payment received but order finalization failed")
)
