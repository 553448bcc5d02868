package notify

import (
	"context"

	"github.com/rs/zerolog"

	"gpt-subscription-orchestrator/internal/domain/ports/adapter"
)

var _ adapter.Notifier = (*LogNotifier)(nil)

// LogNotifier writes operator messages to the log. Used in dev mode and as
// a fallback when no Telegram chat is configured.
type LogNotifier struct {
	log *zerolog.Logger
}

func NewLogNotifier(logger *zerolog.Logger) *LogNotifier {
	l := logger.With().Str("component", "Notifier").Logger()
	return &LogNotifier{log: &l}
}

func (n *LogNotifier) Notify(ctx context.Context, message string) error {
	n.log.Info().Str("notify", message).Msg("operator notification")
	return nil
}

func (n *LogNotifier) NotifyUrgent(ctx context.Context, message string) error {
	n.log.Error().Str("notify", message).Msg("urgent operator notification")
	return nil
}
