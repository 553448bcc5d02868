// File: internal/usecase/ledger_uc.go
package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"gpt-subscription-orchestrator/internal/domain"
	"gpt-subscription-orchestrator/internal/domain/model"
	"gpt-subscription-orchestrator/internal/domain/ports/repository"
	"gpt-subscription-orchestrator/internal/infra/metrics"
)

// LedgerUseCase is the authoritative record of subscription state. All
// status computation lives here: every other component asks the ledger
// instead of recomputing end dates inline.
type LedgerUseCase struct {
	subs repository.SubscriptionRepository
	keys repository.KeyRepository
	log  *zerolog.Logger
}

func NewLedgerUseCase(subs repository.SubscriptionRepository, keys repository.KeyRepository, logger *zerolog.Logger) *LedgerUseCase {
	l := logger.With().Str("component", "LedgerUseCase").Logger()
	return &LedgerUseCase{subs: subs, keys: keys, log: &l}
}

func newSubscriptionID() string { return uuid.NewString() }

// CreateSubscription persists a new active subscription whose first round
// is due immediately.
func (uc *LedgerUseCase) CreateSubscription(ctx context.Context, tx repository.Tx, email string, planRounds int, note string, now time.Time) (*model.Subscription, error) {
	s, err := model.NewSubscription(uuid.NewString(), email, planRounds, note, now)
	if err != nil {
		return nil, err
	}
	if err := uc.subs.Save(ctx, tx, s); err != nil {
		return nil, err
	}
	return s, nil
}

func (uc *LedgerUseCase) FindByID(ctx context.Context, id string) (*model.Subscription, error) {
	return uc.subs.FindByID(ctx, repository.NoTX, id)
}

func (uc *LedgerUseCase) FindByEmail(ctx context.Context, email string) (*model.Subscription, error) {
	return uc.subs.FindByEmail(ctx, repository.NoTX, email)
}

// FindDue returns every active subscription with rounds remaining whose
// next round is due at or before now.
func (uc *LedgerUseCase) FindDue(ctx context.Context, now time.Time) ([]*model.Subscription, error) {
	due, err := uc.subs.FindDue(ctx, repository.NoTX, now)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return due, nil
}

// RecordRoundSuccess advances the given subscription by one round inside
// the caller's transaction: both counters increment, and status/NextDueAt
// are recomputed in the same write. The caller holds the per-subscription
// lock, so mutating the passed record is safe.
func (uc *LedgerUseCase) RecordRoundSuccess(ctx context.Context, tx repository.Tx, s *model.Subscription, now time.Time) (*model.Subscription, error) {
	if s == nil {
		return nil, domain.ErrInvalidArgument
	}
	if s.Status != model.SubscriptionStatusActive {
		return nil, domain.ErrSubscriptionClosed
	}
	if s.CompletedRounds >= s.PlanRounds {
		return nil, domain.ErrSubscriptionClosed
	}

	s.CompletedRounds++
	s.LifetimeRounds++
	if s.CompletedRounds >= s.PlanRounds {
		s.Status = model.SubscriptionStatusCompleted
		s.NextDueAt = nil
	} else {
		due := now.Add(model.RoundPeriod)
		s.NextDueAt = &due
	}
	s.UpdatedAt = now

	if err := uc.subs.Save(ctx, tx, s); err != nil {
		return nil, err
	}
	metrics.IncRounds("success")
	return s, nil
}

// CompleteForDeadCredential closes a subscription whose stored session
// expired: there is no way to continue a dead credential, so remaining
// rounds are forfeited. LifetimeRounds is untouched.
func (uc *LedgerUseCase) CompleteForDeadCredential(ctx context.Context, id string, now time.Time) error {
	s, err := uc.subs.FindByID(ctx, repository.NoTX, id)
	if err != nil {
		return err
	}
	if s.Status != model.SubscriptionStatusActive {
		return nil
	}
	s.Status = model.SubscriptionStatusCompleted
	s.NextDueAt = nil
	s.UpdatedAt = now
	return uc.subs.Save(ctx, repository.NoTX, s)
}

// Derive recomputes what a subscription's status and NextDueAt should be
// from its counters and dates alone. It is the single source of truth used
// by reconciliation; it never reopens a closed subscription.
func (uc *LedgerUseCase) Derive(s *model.Subscription, now time.Time) (model.SubscriptionStatus, *time.Time) {
	if s.Status != model.SubscriptionStatusActive {
		return s.Status, nil
	}
	if s.CompletedRounds >= s.PlanRounds {
		return model.SubscriptionStatusCompleted, nil
	}
	// A plan whose calendar window lapsed with rounds remaining is closed
	// rather than left active forever.
	if now.After(s.PlanEndAt()) {
		return model.SubscriptionStatusCompleted, nil
	}
	return model.SubscriptionStatusActive, s.NextDueAt
}

// ReconcileStatuses recomputes every subscription from dates and counters
// and corrects drift. Idempotent: a second pass right after the first
// changes nothing.
func (uc *LedgerUseCase) ReconcileStatuses(ctx context.Context, now time.Time) (int, error) {
	all, err := uc.subs.FindAll(ctx, repository.NoTX)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}

	corrected := 0
	for _, s := range all {
		status, due := uc.Derive(s, now)
		if status == s.Status && equalDue(due, s.NextDueAt) {
			continue
		}
		s.Status = status
		s.NextDueAt = due
		s.UpdatedAt = now
		if err := uc.subs.Save(ctx, repository.NoTX, s); err != nil {
			return corrected, err
		}
		corrected++
		uc.log.Info().Str("subscription_id", s.ID).Str("status", string(status)).Msg("subscription status corrected")
	}
	if corrected > 0 {
		metrics.IncSubscriptionsReconciled(corrected)
	}
	if counts, err := uc.subs.CountByStatus(ctx, repository.NoTX); err == nil {
		metrics.SetSubscriptionsTotal(counts)
	}
	return corrected, nil
}

func equalDue(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// LinkageMismatch reports a subscription whose used-key count disagrees
// with its completed-round counter, a corruption signal that must surface
// rather than stay silent.
type LinkageMismatch struct {
	SubscriptionID  string
	CompletedRounds int
	UsedKeys        int
}

// AuditKeyLinkage compares each subscription's redemption history (keys
// linked to it) against its completed-round counter.
func (uc *LedgerUseCase) AuditKeyLinkage(ctx context.Context) ([]LinkageMismatch, error) {
	all, err := uc.subs.FindAll(ctx, repository.NoTX)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	counts, err := uc.keys.CountUsedBySubscription(ctx, repository.NoTX)
	if err != nil {
		return nil, err
	}

	var out []LinkageMismatch
	for _, s := range all {
		if used := counts[s.ID]; used != s.CompletedRounds {
			out = append(out, LinkageMismatch{SubscriptionID: s.ID, CompletedRounds: s.CompletedRounds, UsedKeys: used})
			uc.log.Error().
				Str("subscription_id", s.ID).
				Int("completed_rounds", s.CompletedRounds).
				Int("used_keys", used).
				Msg("key linkage mismatch")
		}
	}
	return out, nil
}

// ResetRounds is an administrative corrective that zeroes the current-plan
// round counter. LifetimeRounds is deliberately left alone: it is a durable
// audit counter and never decreases.
func (uc *LedgerUseCase) ResetRounds(ctx context.Context, id string, now time.Time) error {
	s, err := uc.subs.FindByID(ctx, repository.NoTX, id)
	if err != nil {
		return err
	}
	s.CompletedRounds = 0
	if s.Status == model.SubscriptionStatusActive {
		due := now
		s.NextDueAt = &due
	}
	s.UpdatedAt = now
	return uc.subs.Save(ctx, repository.NoTX, s)
}
