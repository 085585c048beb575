package models

import "errors"

// Business-rule and lookup errors surfaced to the HTTP boundary.
var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrAlreadyActive       = errors.New("an active order already exists")
	ErrIllegalTransition   = errors.New("illegal order status transition")
	ErrOrderNotFound       = errors.New("order not found")
	ErrUserNotFound        = errors.New("user not found")
	ErrProviderNotFound    = errors.New("provider not found")
	ErrRegistryUnavailable = errors.New("provider registry unavailable")
	ErrUpstream            = errors.New("upstream provider request failed")
)
