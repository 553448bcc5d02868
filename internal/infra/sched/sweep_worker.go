package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"gpt-subscription-orchestrator/internal/usecase"
)

// SweepWorker periodically runs the orchestrator's due-subscription sweep.
// The tick time is captured at the edge and passed into the use case so the
// business logic itself never reads the clock.
type SweepWorker struct {
	interval time.Duration
	orch     *usecase.OrchestratorUseCase
	log      *zerolog.Logger
}

func NewSweepWorker(interval time.Duration, orch *usecase.OrchestratorUseCase, logger *zerolog.Logger) *SweepWorker {
	l := logger.With().Str("component", "SweepWorker").Logger()
	return &SweepWorker{interval: interval, orch: orch, log: &l}
}

func (w *SweepWorker) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Msg("Starting sweep worker")
	// Run once on startup, then on every tick: missing a daily tick because
	// the process restarted should not postpone due rounds by a day.
	w.runOnce(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping sweep worker")
			return ctx.Err()
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

func (w *SweepWorker) runOnce(ctx context.Context) {
	report, err := w.orch.RunSweep(ctx, time.Now())
	if err != nil {
		w.log.Error().Err(err).Msg("sweep aborted")
		return
	}
	if report.Due > 0 {
		w.log.Info().
			Int("due", report.Due).
			Int("succeeded", report.Succeeded).
			Int("failed", report.Failed).
			Int("skipped", report.Skipped).
			Msg("sweep report")
	}
}
