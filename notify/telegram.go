package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramAlerter sends operator alerts to a Telegram chat. Outbound only;
// it does not consume updates.
type TelegramAlerter struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegramAlerter creates a TelegramAlerter for the given bot token and
// chat.
func NewTelegramAlerter(token string, chatID int64) (*TelegramAlerter, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	bot.Debug = false
	return &TelegramAlerter{bot: bot, chatID: chatID}, nil
}

// Alert sends the alert as a single message.
func (t *TelegramAlerter) Alert(ctx context.Context, subject, body string) error {
	text := subject
	if body != "" {
		text += "\n" + body
	}
	if _, err := t.bot.Send(tgbotapi.NewMessage(t.chatID, text)); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}
