// File: internal/usecase/orchestrator_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"gpt-subscription-orchestrator/internal/domain"
	"gpt-subscription-orchestrator/internal/domain/model"
	"gpt-subscription-orchestrator/internal/domain/ports/adapter"
	"gpt-subscription-orchestrator/internal/domain/ports/repository"
	"gpt-subscription-orchestrator/internal/infra/logging"
	"gpt-subscription-orchestrator/internal/infra/metrics"
)

// roundLockTTL bounds how long a per-subscription lease may be held. A
// holder that crashes mid-round loses the lease after this long and the
// subscription becomes sweepable again.
const roundLockTTL = 2 * time.Minute

// errRoundStale marks a listed subscription that was no longer due once
// reloaded under its lock: a manual trigger won the race.
var errRoundStale = errors.New("round no longer due")

// SweepReport summarizes one sweep run.
type SweepReport struct {
	Due       int
	Succeeded int
	Failed    int
	Skipped   int
}

// OrchestratorUseCase drives subscriptions through their activation rounds:
// signup, manual triggers, and the scheduled sweep all funnel into the same
// performRound primitive.
//
// performRound's guarantee: a round either fully commits (key consumed and
// ledger advanced, in one transaction) or fully rolls back (key returned to
// the pool, ledger untouched). There is no persisted intermediate state.
type OrchestratorUseCase struct {
	ledger   *LedgerUseCase
	pool     *KeyPoolUseCase
	sessions *SessionUseCase
	upstream adapter.UpstreamActivator
	notifier adapter.Notifier
	locks    Locker
	tm       repository.TransactionManager
	workers  int
	log      *zerolog.Logger
}

func NewOrchestratorUseCase(
	ledger *LedgerUseCase,
	pool *KeyPoolUseCase,
	sessions *SessionUseCase,
	upstream adapter.UpstreamActivator,
	notifier adapter.Notifier,
	locks Locker,
	tm repository.TransactionManager,
	workers int,
	logger *zerolog.Logger,
) *OrchestratorUseCase {
	if workers <= 0 {
		workers = 4
	}
	l := logger.With().Str("component", "OrchestratorUseCase").Logger()
	return &OrchestratorUseCase{
		ledger:   ledger,
		pool:     pool,
		sessions: sessions,
		upstream: upstream,
		notifier: notifier,
		locks:    locks,
		tm:       tm,
		workers:  workers,
		log:      &l,
	}
}

// Signup stores the supplied credential and redeems the first round. The
// subscription record is only persisted when that first redemption
// succeeds; on failure the caller gets the round error and nothing is
// written to the ledger.
func (uc *OrchestratorUseCase) Signup(ctx context.Context, email string, planRounds int, credentialPayload string, sessionExpiry, now time.Time) (*model.Subscription, error) {
	if _, err := uc.sessions.Upsert(ctx, email, credentialPayload, sessionExpiry, now); err != nil {
		return nil, err
	}
	sub, err := model.NewSubscription(newSubscriptionID(), email, planRounds, "", now)
	if err != nil {
		return nil, err
	}
	if err := uc.performRound(ctx, sub, true, now); err != nil {
		return nil, err
	}
	return sub, nil
}

// ManualActivate runs one round for a subscription right now, under the
// same per-subscription lease the sweep uses, so a manual trigger racing
// the sweep can never double-activate.
func (uc *OrchestratorUseCase) ManualActivate(ctx context.Context, subscriptionID string, now time.Time) error {
	return uc.withRoundLock(ctx, subscriptionID, func() error {
		sub, err := uc.ledger.FindByID(ctx, subscriptionID)
		if err != nil {
			return err
		}
		if sub.Status != model.SubscriptionStatusActive || sub.RoundsRemaining() == 0 {
			return domain.ErrSubscriptionClosed
		}
		return uc.performRound(ctx, sub, false, now)
	})
}

// RunSweep processes every due subscription once. Per-subscription failures
// are contained: one bad round never aborts the sweep for the others. Only
// a ledger-consistency error (a partially applied round) halts the run,
// since continuing would risk corrupting further records.
func (uc *OrchestratorUseCase) RunSweep(ctx context.Context, now time.Time) (SweepReport, error) {
	start := time.Now()
	var report SweepReport

	due, err := uc.ledger.FindDue(ctx, now)
	if err != nil {
		return report, err
	}
	report.Due = len(due)
	if len(due) == 0 {
		return report, nil
	}
	uc.log.Info().Int("due", len(due)).Msg("sweep started")

	var (
		mu    sync.Mutex
		wg    sync.WaitGroup
		fatal error
	)
	sem := make(chan struct{}, uc.workers)
	sweepCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for _, sub := range due {
		if sweepCtx.Err() != nil {
			break
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			defer func() { <-sem }()

			err := uc.sweepOne(sweepCtx, id, now)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				report.Succeeded++
			case errors.Is(err, domain.ErrLockNotAcquired), errors.Is(err, errRoundStale):
				report.Skipped++
			case isRecoverableRoundError(err):
				report.Failed++
			default:
				// Invariant violation: stop handing out work.
				report.Failed++
				if fatal == nil {
					fatal = err
				}
				cancel()
			}
		}(sub.ID)
	}
	wg.Wait()

	metrics.ObserveSweep(time.Since(start), report.Succeeded, report.Failed, report.Skipped)
	uc.log.Info().
		Int("due", report.Due).
		Int("succeeded", report.Succeeded).
		Int("failed", report.Failed).
		Int("skipped", report.Skipped).
		Msg("sweep finished")
	return report, fatal
}

func (uc *OrchestratorUseCase) sweepOne(ctx context.Context, subscriptionID string, now time.Time) error {
	return uc.withRoundLock(ctx, subscriptionID, func() error {
		// Reload under the lock: a manual trigger may have advanced the
		// subscription between FindDue and here.
		sub, err := uc.ledger.FindByID(ctx, subscriptionID)
		if err != nil {
			return err
		}
		if sub.Status != model.SubscriptionStatusActive || sub.RoundsRemaining() == 0 {
			return errRoundStale
		}
		if sub.NextDueAt == nil || sub.NextDueAt.After(now) {
			return errRoundStale
		}
		return uc.performRound(ctx, sub, false, now)
	})
}

func (uc *OrchestratorUseCase) withRoundLock(ctx context.Context, subscriptionID string, fn func() error) error {
	key := "round:" + subscriptionID
	token, err := uc.locks.TryLock(ctx, key, roundLockTTL)
	if err != nil {
		uc.log.Debug().Str("subscription_id", subscriptionID).Msg("round already in flight, skipping")
		return domain.ErrLockNotAcquired
	}
	defer func() {
		if err := uc.locks.Unlock(context.WithoutCancel(ctx), key, token); err != nil {
			uc.log.Warn().Err(err).Str("subscription_id", subscriptionID).Msg("round lock release failed")
		}
	}()
	return fn()
}

// performRound runs one activation round end to end. isNewSignup marks the
// initial signup redemption, where the credential was stored moments ago
// and the subscription record does not exist yet.
func (uc *OrchestratorUseCase) performRound(ctx context.Context, sub *model.Subscription, isNewSignup bool, now time.Time) error {
	log := logging.With(ctx, uc.log).With().
		Str("subscription_id", sub.ID).
		Str("email", sub.Email).
		Int("round", sub.CompletedRounds+1).
		Logger()

	// 1. Credential. The key pool is never touched before this resolves.
	session, err := uc.sessions.GetCurrent(ctx, sub.Email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			log.Warn().Msg("no stored session")
			uc.notify(ctx, fmt.Sprintf("Round for %s failed: no session on file.", sub.Email))
			metrics.IncRounds("no_session")
			return domain.ErrNoSession
		}
		return err
	}

	// 2. A continuation round on an expired credential cannot succeed now or
	// ever: close the subscription out instead of retrying forever.
	if !isNewSignup && !session.ExpiresAt.IsZero() && session.ExpiresAt.Before(now) {
		log.Warn().Time("session_expired_at", session.ExpiresAt).Msg("stored session expired")
		if err := uc.ledger.CompleteForDeadCredential(ctx, sub.ID, now); err != nil {
			return err
		}
		uc.notify(ctx, fmt.Sprintf("Subscription for %s closed: stored session expired %s.", sub.Email, session.ExpiresAt.Format(time.RFC3339)))
		metrics.IncRounds("session_expired")
		return domain.ErrSessionExpired
	}

	// 3. Claim a key. Exhaustion is escalated, not retried: the subscription
	// stays due and the next sweep picks it up again.
	key, err := uc.pool.Allocate(ctx, now)
	if err != nil {
		if errors.Is(err, domain.ErrNoKeyAvailable) {
			log.Error().Msg("key pool exhausted")
			uc.notifyUrgent(ctx, fmt.Sprintf("Key pool EMPTY: round for %s postponed. Import keys now.", sub.Email))
			metrics.IncRounds("no_key")
			return err
		}
		return err
	}

	// 4. Redeem upstream. A transport-level error is indistinguishable from
	// a success we never heard about, so it is handled as ambiguous.
	outcome, err := uc.upstream.Activate(ctx, key.Code, session.Payload)
	if err != nil {
		log.Error().Err(err).Msg("upstream call failed")
		outcome = model.AmbiguousOutcome()
	}

	// The upstream has seen the code: the remaining bookkeeping must finish
	// even when the caller is shutting down or the sweep was cancelled. A
	// half-applied round would let the stale-claim sweep hand a spent code
	// back to the pool.
	ctx = context.WithoutCancel(ctx)

	if !outcome.Success {
		// The key was never redeemed (or we cannot prove it was): return it
		// to the pool and leave the ledger untouched.
		if relErr := uc.pool.Release(ctx, key.ID); relErr != nil {
			log.Error().Err(relErr).Str("key_id", key.ID).Msg("key release failed")
		}
		if outcome.Ambiguous {
			log.Warn().Str("key_id", key.ID).Msg("ambiguous upstream outcome; key not consumed, reconcile upstream manually")
			metrics.IncRounds("ambiguous")
		} else {
			metrics.IncRounds("rejected")
		}
		uc.notify(ctx, fmt.Sprintf("Round for %s failed: %s. Will retry next sweep.", sub.Email, outcome.Reason))
		return fmt.Errorf("upstream outcome %q: %w", outcome.Reason, domain.ErrRoundFailed)
	}

	// 5. Commit both writes as one unit.
	err = uc.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if err := uc.pool.MarkUsed(ctx, tx, key.ID, sub.Email, sub.ID, now); err != nil {
			return err
		}
		if _, err := uc.ledger.RecordRoundSuccess(ctx, tx, sub, now); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		// Upstream accepted the code but our commit failed: the code is
		// spent in the real world. Keep the key claimed (the reconcile pass
		// will surface it) and propagate as fatal.
		log.Error().Err(err).Str("key_id", key.ID).Str("task_id", outcome.TaskID).Msg("round commit failed after upstream success")
		return fmt.Errorf("round commit: %w", err)
	}

	log.Info().Str("task_id", outcome.TaskID).Int("completed_rounds", sub.CompletedRounds).Msg("round succeeded")
	uc.notify(ctx, fmt.Sprintf("Activated round %d/%d for %s.", sub.CompletedRounds, sub.PlanRounds, sub.Email))
	return nil
}

func (uc *OrchestratorUseCase) notify(ctx context.Context, msg string) {
	if err := uc.notifier.Notify(ctx, msg); err != nil {
		uc.log.Warn().Err(err).Msg("notify failed")
	}
}

func (uc *OrchestratorUseCase) notifyUrgent(ctx context.Context, msg string) {
	if err := uc.notifier.NotifyUrgent(ctx, msg); err != nil {
		uc.log.Warn().Err(err).Msg("urgent notify failed")
	}
}

// isRecoverableRoundError reports whether a round failure is contained to
// its own subscription.
func isRecoverableRoundError(err error) bool {
	return errors.Is(err, domain.ErrNoSession) ||
		errors.Is(err, domain.ErrSessionExpired) ||
		errors.Is(err, domain.ErrNoKeyAvailable) ||
		errors.Is(err, domain.ErrRoundFailed) ||
		errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrSubscriptionClosed)
}
