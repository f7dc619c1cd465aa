// Package notifier posts structured run notifications to the application's
// alerting sink.
package notifier

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	appconfig "github.com/fintrack/vaultguard/internal/config"
	"github.com/fintrack/vaultguard/internal/domain"
)

type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

func NewTelegram(cfg *appconfig.TelegramConfig) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	var chatID int64
	if _, err := fmt.Sscanf(cfg.ChatID, "%d", &chatID); err != nil {
		return nil, fmt.Errorf("invalid telegram chat id %q: %w", cfg.ChatID, err)
	}

	return &Telegram{bot: bot, chatID: chatID}, nil
}

func (t *Telegram) Notify(ctx context.Context, n domain.Notification) error {
	message := fmt.Sprintf("[%s] %s\n%s",
		n.Status,
		n.Timestamp.Format("2006-01-02 15:04:05"),
		n.Details,
	)

	msg := tgbotapi.NewMessage(t.chatID, message)
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("failed to send telegram notification: %w", err)
	}
	return nil
}

// Nop discards notifications when no sink is configured.
type Nop struct{}

func (Nop) Notify(ctx context.Context, n domain.Notification) error { return nil }
