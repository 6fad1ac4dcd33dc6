package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidReference = errors.New("referenced entity is inactive or deleted")
	ErrVersionConflict  = errors.New("optimistic lock conflict")
	ErrPriceListExists  = errors.New("price list already exists for this key")
	ErrImmutableKey     = errors.New("price list key cannot be changed")
	ErrInvalidAmount    = errors.New("amount must be greater than zero")
	ErrInvalidPrice     = errors.New("price must not be negative")
	ErrInvalidCurrency  = errors.New("invalid currency")
	ErrInvalidRequest   = errors.New("invalid request")
	ErrQueueDispatch    = errors.New("balance delta dispatch failed")
	ErrHistoryOpen      = errors.New("price history already has an open interval")
	ErrExportDisabled   = errors.New("billing export storage is not configured")
)
