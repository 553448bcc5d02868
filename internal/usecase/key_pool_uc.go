// File: internal/usecase/key_pool_uc.go
package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"gpt-subscription-orchestrator/internal/domain"
	"gpt-subscription-orchestrator/internal/domain/model"
	"gpt-subscription-orchestrator/internal/domain/ports/repository"
	"gpt-subscription-orchestrator/internal/infra/metrics"
)

// staleClaimAfter is how long a key may sit in the allocated state before
// the reconcile pass treats the claim as abandoned and returns the key to
// the pool.
const staleClaimAfter = 2 * time.Minute

// KeyPoolUseCase manages the finite pool of single-use activation keys.
type KeyPoolUseCase struct {
	keys repository.KeyRepository
	log  *zerolog.Logger

	// lowWater triggers a warning log once available inventory drops to or
	// below this count after a consumption.
	lowWater int
}

func NewKeyPoolUseCase(keys repository.KeyRepository, lowWater int, logger *zerolog.Logger) *KeyPoolUseCase {
	l := logger.With().Str("component", "KeyPoolUseCase").Logger()
	if lowWater < 0 {
		lowWater = 0
	}
	return &KeyPoolUseCase{keys: keys, log: &l, lowWater: lowWater}
}

// Allocate claims one available key without consuming it. The claim is
// atomic against concurrent callers; an unclaimed pool returns
// domain.ErrNoKeyAvailable, which callers escalate rather than retry.
func (uc *KeyPoolUseCase) Allocate(ctx context.Context, now time.Time) (*model.Key, error) {
	key, err := uc.keys.Claim(ctx, repository.NoTX, now)
	if err != nil {
		if errors.Is(err, domain.ErrNoKeyAvailable) {
			metrics.IncKeyPoolExhausted()
		}
		return nil, err
	}
	uc.log.Debug().Str("key_id", key.ID).Msg("key allocated")
	return key, nil
}

// MarkUsed consumes a previously allocated key, stamping the consumer.
// Idempotent for a matching stamp; a mismatch surfaces
// domain.ErrKeyAlreadyConsumed, which is never swallowed since it signals
// a double-claim bug.
func (uc *KeyPoolUseCase) MarkUsed(ctx context.Context, tx repository.Tx, keyID, email, subscriptionID string, at time.Time) error {
	if keyID == "" || email == "" || subscriptionID == "" {
		return domain.ErrInvalidArgument
	}
	if err := uc.keys.MarkUsed(ctx, tx, keyID, email, subscriptionID, at); err != nil {
		return err
	}
	metrics.IncKeysConsumed()
	uc.refreshAvailableGauge(ctx)
	return nil
}

// Release returns an allocated key to the pool after a failed round.
func (uc *KeyPoolUseCase) Release(ctx context.Context, keyID string) error {
	if err := uc.keys.Release(ctx, repository.NoTX, keyID); err != nil {
		return err
	}
	uc.log.Debug().Str("key_id", keyID).Msg("key released back to pool")
	return nil
}

// ReleaseStale reclaims claims abandoned by crashed holders.
func (uc *KeyPoolUseCase) ReleaseStale(ctx context.Context, now time.Time) (int, error) {
	n, err := uc.keys.ReleaseStale(ctx, repository.NoTX, now.Add(-staleClaimAfter))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		uc.log.Warn().Int("count", n).Msg("stale key claims released")
	}
	return n, nil
}

// ImportCodes bulk-imports activation codes. Codes already present are
// skipped, so re-running an import file is harmless.
func (uc *KeyPoolUseCase) ImportCodes(ctx context.Context, codes []string, now time.Time) (added, skipped int, err error) {
	for _, raw := range codes {
		code := strings.TrimSpace(raw)
		if code == "" {
			continue
		}
		if _, err := uc.keys.FindByCode(ctx, repository.NoTX, code); err == nil {
			skipped++
			continue
		} else if !errors.Is(err, domain.ErrNotFound) {
			return added, skipped, err
		}
		k := &model.Key{
			ID:        uuid.NewString(),
			Code:      code,
			Status:    model.KeyStatusAvailable,
			CreatedAt: now,
		}
		if err := uc.keys.Save(ctx, repository.NoTX, k); err != nil {
			return added, skipped, err
		}
		added++
	}
	if added > 0 {
		metrics.IncKeysImported(added)
		uc.refreshAvailableGauge(ctx)
	}
	uc.log.Info().Int("added", added).Int("skipped", skipped).Msg("key import finished")
	return added, skipped, nil
}

// CountAvailable reports current inventory.
func (uc *KeyPoolUseCase) CountAvailable(ctx context.Context) (int, error) {
	return uc.keys.CountAvailable(ctx, repository.NoTX)
}

func (uc *KeyPoolUseCase) refreshAvailableGauge(ctx context.Context) {
	n, err := uc.keys.CountAvailable(ctx, repository.NoTX)
	if err != nil {
		return
	}
	metrics.SetKeysAvailable(n)
	if n <= uc.lowWater {
		uc.log.Warn().Int("available", n).Int("low_water", uc.lowWater).Msg("key inventory low")
	}
}
