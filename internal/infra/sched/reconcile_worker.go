package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"gpt-subscription-orchestrator/internal/usecase"
)

// ReconcileWorker is the maintenance pass: it recomputes subscription
// statuses from dates and counters, reclaims abandoned key allocations, and
// surfaces key-linkage mismatches. It repairs drift left behind by crashes
// between a round's steps.
type ReconcileWorker struct {
	interval time.Duration
	ledger   *usecase.LedgerUseCase
	pool     *usecase.KeyPoolUseCase
	log      *zerolog.Logger
}

func NewReconcileWorker(interval time.Duration, ledger *usecase.LedgerUseCase, pool *usecase.KeyPoolUseCase, logger *zerolog.Logger) *ReconcileWorker {
	l := logger.With().Str("component", "ReconcileWorker").Logger()
	return &ReconcileWorker{interval: interval, ledger: ledger, pool: pool, log: &l}
}

func (w *ReconcileWorker) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Msg("Starting reconcile worker")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping reconcile worker")
			return ctx.Err()
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *ReconcileWorker) tick(ctx context.Context) {
	now := time.Now()

	if n, err := w.ledger.ReconcileStatuses(ctx, now); err != nil {
		w.log.Error().Err(err).Msg("status reconciliation failed")
	} else if n > 0 {
		w.log.Info().Int("corrected", n).Msg("subscription statuses corrected")
	}

	if n, err := w.pool.ReleaseStale(ctx, now); err != nil {
		w.log.Error().Err(err).Msg("stale key release failed")
	} else if n > 0 {
		w.log.Info().Int("released", n).Msg("stale key claims released")
	}

	if mismatches, err := w.ledger.AuditKeyLinkage(ctx); err != nil {
		w.log.Error().Err(err).Msg("key linkage audit failed")
	} else if len(mismatches) > 0 {
		w.log.Error().Int("mismatches", len(mismatches)).Msg("key linkage audit found inconsistencies")
	}
}
