package domain

import "errors"

var (
	ErrNotFound                = errors.New("not found")
	ErrInvalidRequest          = errors.New("invalid request")
	ErrInvalidAmount           = errors.New("amount must be greater than zero")
	ErrInvalidCurrency         = errors.New("invalid currency")
	ErrInvalidMethod           = errors.New("invalid payment or settlement method")
	ErrInvalidStatus           = errors.New("invalid transaction status")
	ErrUnsupportedCurrencyPair = errors.New("unsupported currency pair")
	ErrProviderUnavailable     = errors.New("settlement provider unavailable")
	ErrSignatureInvalid        = errors.New("webhook signature invalid")
	ErrStaleUpdate             = errors.New("stale status update")
	ErrOrderAlreadyAssigned    = errors.New("external order already assigned")
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
	ErrPollInProgress          = errors.New("poll cycle already running")
)
