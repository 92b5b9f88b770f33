package service

import "errors"

var (
	ErrSessionNotFound      = errors.New("checkout session not found")
	ErrBuyerRequired        = errors.New("buyer id is required")
	ErrIllegalTransition    = errors.New("illegal transition of checkout state")
	ErrTransitionInProgress = errors.New("another step of this checkout is in progress")
	ErrCheckoutInProgress   = errors.New("buyer already has a checkout that cannot be cancelled")
	ErrCheckoutCancelled    = errors.New("checkout was cancelled")
	ErrInvalidMethod        = errors.New("invalid payment method selection")
	ErrNotRetryable         = errors.New("checkout failure is not retryable")
)
