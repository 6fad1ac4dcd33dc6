package handler

import "net/http"

type AppError struct {
	Status  int
	Code    string
	Message string
}

func (e *AppError) Error() string { return e.Message }

var (
	ErrMissingToken     = &AppError{http.StatusUnauthorized, "MISSING_TOKEN", "Authorization header required"}
	ErrInvalidToken     = &AppError{http.StatusUnauthorized, "INVALID_TOKEN", "Token is invalid or expired"}
	ErrForbidden        = &AppError{http.StatusForbidden, "FORBIDDEN", "Insufficient role for this operation"}
	ErrInvalidRequest   = &AppError{http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body"}
	ErrValidationFailed = &AppError{http.StatusBadRequest, "VALIDATION_FAILED", "Validation failed"}
	ErrResourceNotFound = &AppError{http.StatusNotFound, "RESOURCE_NOT_FOUND", "Resource not found"}
	ErrInternalError    = &AppError{http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred"}

	ErrInvalidReference      = &AppError{http.StatusUnprocessableEntity, "INVALID_REFERENCE", "Referenced entity is inactive or deleted"}
	ErrVersionConflict       = &AppError{http.StatusConflict, "VERSION_CONFLICT", "Resource was modified concurrently, please retry"}
	ErrPriceListExists       = &AppError{http.StatusConflict, "PRICE_LIST_EXISTS", "A price list already exists for this key"}
	ErrImmutableKey          = &AppError{http.StatusUnprocessableEntity, "IMMUTABLE_KEY", "Price list key cannot be changed, delete and recreate instead"}
	ErrHistoryOpen           = &AppError{http.StatusConflict, "HISTORY_CONFLICT", "Price history changed concurrently, please retry"}
	ErrInvalidAmount         = &AppError{http.StatusBadRequest, "INVALID_AMOUNT", "Amount must be greater than zero with at most two decimals"}
	ErrInvalidPrice          = &AppError{http.StatusBadRequest, "INVALID_PRICE", "Price must not be negative"}
	ErrInvalidCurrency       = &AppError{http.StatusBadRequest, "INVALID_CURRENCY", "Invalid currency"}
	ErrExportDisabled        = &AppError{http.StatusServiceUnavailable, "EXPORT_DISABLED", "Billing export storage is not configured"}
	ErrMissingIdempotencyKey = &AppError{http.StatusBadRequest, "MISSING_IDEMPOTENCY_KEY", "Idempotency-Key header is required"}
	ErrIdempotencyConflict   = &AppError{http.StatusConflict, "IDEMPOTENCY_CONFLICT", "Idempotency key already used with a different request"}
)
