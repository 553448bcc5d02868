package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrNoKeyAvailable     = errors.New("no activation key available")
	ErrKeyAlreadyConsumed = errors.New("activation key already consumed")
	ErrNoSession          = errors.New("no session stored for this email")
	ErrSessionExpired     = errors.New("stored session has expired")
	ErrSubscriptionClosed = errors.New("subscription is not active")
	ErrRoundFailed        = errors.New("activation round failed")
	ErrLockNotAcquired    = errors.New("could not acquire lock")

	// Storage-layer errors
	ErrInvalidExecContext = errors.New("invalid database execution context")
	ErrOperationFailed    = errors.New("storage operation failed")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
)
