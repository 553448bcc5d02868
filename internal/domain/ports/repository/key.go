package repository

import (
	"context"
	"time"

	"gpt-subscription-orchestrator/internal/domain/model"
)

// KeyRepository is the port for the activation key pool.
type KeyRepository interface {
	// Save creates a key or updates it in place.
	Save(ctx context.Context, tx Tx, key *model.Key) error

	// Claim atomically moves one available key (oldest first) to the
	// allocated state and returns it. Two concurrent claims never receive
	// the same key. Returns domain.ErrNoKeyAvailable when the pool is empty.
	Claim(ctx context.Context, tx Tx, now time.Time) (*model.Key, error)

	// MarkUsed transitions a key to used and stamps the consumer. Calling it
	// again with the same email and subscription is a no-op; a mismatched
	// stamp returns domain.ErrKeyAlreadyConsumed.
	MarkUsed(ctx context.Context, tx Tx, keyID, email, subscriptionID string, at time.Time) error

	// Release returns an allocated key to the pool after a failed round.
	Release(ctx context.Context, tx Tx, keyID string) error

	// ReleaseStale returns keys allocated before the cutoff back to the
	// pool, reclaiming claims abandoned by a crashed holder.
	ReleaseStale(ctx context.Context, tx Tx, cutoff time.Time) (int, error)

	FindByCode(ctx context.Context, tx Tx, code string) (*model.Key, error)
	FindBySubscription(ctx context.Context, tx Tx, subscriptionID string) ([]*model.Key, error)
	CountAvailable(ctx context.Context, tx Tx) (int, error)

	// CountUsedBySubscription returns used-key counts keyed by subscription
	// id, the raw material for redemption-history audits.
	CountUsedBySubscription(ctx context.Context, tx Tx) (map[string]int, error)
}
