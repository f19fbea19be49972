package handler

import "net/http"

type AppError struct {
	Status  int
	Code    string
	Message string
}

func (e *AppError) Error() string { return e.Message }

var (
	ErrMissingToken       = &AppError{http.StatusUnauthorized, "MISSING_TOKEN", "Authorization header required"}
	ErrInvalidToken       = &AppError{http.StatusUnauthorized, "INVALID_TOKEN", "Token is invalid or expired"}
	ErrInvalidCredentials = &AppError{http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid client id or secret"}
	ErrForbidden          = &AppError{http.StatusForbidden, "FORBIDDEN", "Insufficient role for this operation"}
	ErrInvalidRequest     = &AppError{http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body"}
	ErrValidationFailed   = &AppError{http.StatusBadRequest, "VALIDATION_FAILED", "Validation failed"}
	ErrResourceNotFound   = &AppError{http.StatusNotFound, "RESOURCE_NOT_FOUND", "Resource not found"}
	ErrInternalError      = &AppError{http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred"}

	ErrInvalidAmount           = &AppError{http.StatusBadRequest, "INVALID_AMOUNT", "Amount must be greater than zero"}
	ErrInvalidCurrency         = &AppError{http.StatusBadRequest, "INVALID_CURRENCY", "Invalid currency"}
	ErrInvalidMethod           = &AppError{http.StatusBadRequest, "INVALID_METHOD", "Invalid payment or settlement method"}
	ErrInvalidStatus           = &AppError{http.StatusUnprocessableEntity, "INVALID_STATUS", "Status not allowed for this transaction"}
	ErrUnsupportedCurrencyPair = &AppError{http.StatusUnprocessableEntity, "UNSUPPORTED_CURRENCY_PAIR", "No conversion path for this currency pair"}
	ErrProviderUnavailable     = &AppError{http.StatusServiceUnavailable, "PROVIDER_UNAVAILABLE", "Settlement provider is unavailable, retry later"}
	ErrOrderAlreadyAssigned    = &AppError{http.StatusConflict, "ORDER_ALREADY_ASSIGNED", "Transaction already has a provider order"}
	ErrPollInProgress          = &AppError{http.StatusConflict, "POLL_IN_PROGRESS", "A reconciliation cycle is already running"}
	ErrInvalidSignature        = &AppError{http.StatusUnauthorized, "INVALID_SIGNATURE", "Webhook signature is invalid"}
	ErrMissingIdempotencyKey   = &AppError{http.StatusBadRequest, "MISSING_IDEMPOTENCY_KEY", "Idempotency-Key header is required"}
	ErrIdempotencyConflict     = &AppError{http.StatusConflict, "IDEMPOTENCY_CONFLICT", "Idempotency key already used with a different request"}
)
