package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// maxTelegramMessage is Telegram's message length limit.
const maxTelegramMessage = 4096

// TelegramNotifier sends events to one Telegram chat.
type TelegramNotifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	retry  *RetryPolicy
}

// NewTelegram connects a bot with token and targets chatID.
func NewTelegram(token string, chatID int64) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return NewTelegramWithBot(bot, chatID), nil
}

// NewTelegramWithBot uses an existing bot client.
func NewTelegramWithBot(bot *tgbotapi.BotAPI, chatID int64) *TelegramNotifier {
	return &TelegramNotifier{bot: bot, chatID: chatID, retry: DefaultRetryPolicy()}
}

// WithRetry replaces the retry policy.
func (n *TelegramNotifier) WithRetry(p *RetryPolicy) *TelegramNotifier {
	n.retry = p
	return n
}

func (n *TelegramNotifier) Notify(ctx context.Context, event Event) error {
	msg := tgbotapi.NewMessage(n.chatID, truncate(Message(event), maxTelegramMessage))
	err := n.retry.Execute(ctx, func() error {
		_, err := n.bot.Send(msg)
		return err
	})
	if err != nil {
		return fmt.Errorf("telegram notify: %w", err)
	}
	return nil
}

func truncate(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max-1]) + "…"
}
