package notify

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"gpt-subscription-orchestrator/internal/domain/ports/adapter"
)

var _ adapter.Notifier = (*TelegramNotifier)(nil)

// TelegramNotifier delivers operator messages to a fixed chat. Delivery is
// best effort; the orchestrator logs and moves on when a send fails.
type TelegramNotifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	log    *zerolog.Logger
}

func NewTelegramNotifier(token string, chatID int64, logger *zerolog.Logger) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	l := logger.With().Str("component", "TelegramNotifier").Logger()
	return &TelegramNotifier{bot: bot, chatID: chatID, log: &l}, nil
}

func (n *TelegramNotifier) Notify(ctx context.Context, message string) error {
	msg := tgbotapi.NewMessage(n.chatID, message)
	msg.DisableNotification = true
	_, err := n.bot.Send(msg)
	return err
}

func (n *TelegramNotifier) NotifyUrgent(ctx context.Context, message string) error {
	msg := tgbotapi.NewMessage(n.chatID, "URGENT: "+message)
	_, err := n.bot.Send(msg)
	return err
}
