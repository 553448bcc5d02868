package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"gpt-subscription-orchestrator/internal/usecase"
)

// SessionCheckWorker periodically re-validates stored credentials so a dead
// session is discovered before, not during, the scheduled round.
type SessionCheckWorker struct {
	interval time.Duration
	sessions *usecase.SessionUseCase
	log      *zerolog.Logger
}

func NewSessionCheckWorker(interval time.Duration, sessions *usecase.SessionUseCase, logger *zerolog.Logger) *SessionCheckWorker {
	l := logger.With().Str("component", "SessionCheckWorker").Logger()
	return &SessionCheckWorker{interval: interval, sessions: sessions, log: &l}
}

func (w *SessionCheckWorker) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Msg("Starting session check worker")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping session check worker")
			return ctx.Err()
		case <-ticker.C:
			n, err := w.sessions.SweepUpcoming(ctx, time.Now())
			if err != nil {
				w.log.Error().Err(err).Msg("session check sweep failed")
			}
			if n > 0 {
				w.log.Info().Int("checked", n).Msg("sessions validated")
			}
		}
	}
}
