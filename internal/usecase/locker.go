// File: internal/usecase/locker.go
package usecase

import (
	"context"
	"time"
)

// Locker provides short-lived keyed leases. A lease left unreleased by a
// crashed holder expires after its TTL, so the lock is eventually
// reclaimable without manual intervention.
type Locker interface {
	// TryLock acquires the lease and returns a release token, or
	// domain.ErrLockNotAcquired if it is held elsewhere.
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	// Unlock releases the lease only if the token still matches.
	Unlock(ctx context.Context, key, token string) error
}
