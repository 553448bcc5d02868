package model

import (
	"time"
)

type KeyStatus string

const (
	KeyStatusAvailable KeyStatus = "available"
	// KeyStatusAllocated is a short-lived claim between Allocate and MarkUsed.
	// Keys stuck in this state longer than the claim TTL are returned to the
	// pool by the reconcile worker.
	KeyStatusAllocated KeyStatus = "allocated"
	KeyStatusUsed      KeyStatus = "used"
)

// Key is a single-use activation code. A key moves available -> used exactly
// once; ConsumedByEmail and SubscriptionID are stamped together with that
// transition and never change afterwards.
type Key struct {
	ID              string
	Code            string
	Status          KeyStatus
	CreatedAt       time.Time
	AllocatedAt     *time.Time
	ConsumedAt      *time.Time
	ConsumedByEmail *string
	SubscriptionID  *string
}
