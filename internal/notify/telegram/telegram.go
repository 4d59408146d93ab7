// Package telegram sends price alerts to a Telegram chat.
package telegram

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/JakeFAU/pricewatch/internal/notify"
	"github.com/JakeFAU/pricewatch/internal/tracker"
)

// Config holds the bot credentials and destination chat.
type Config struct {
	Token  string
	ChatID int64
}

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Notifier posts alerts through the Bot API.
type Notifier struct {
	bot    sender
	chatID int64
}

// New authenticates against the Bot API and returns a Notifier.
func New(cfg Config) (*Notifier, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("notify.telegram.token is required")
	}
	if cfg.ChatID == 0 {
		return nil, fmt.Errorf("notify.telegram.chat_id is required")
	}
	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("connect telegram: %w", err)
	}
	bot.Debug = false
	return NewWithSender(bot, cfg.ChatID), nil
}

// NewWithSender builds a Notifier around an existing client (primarily for testing).
func NewWithSender(bot sender, chatID int64) *Notifier {
	return &Notifier{bot: bot, chatID: chatID}
}

// Notify sends the formatted alert. The Bot API client does not take a
// context, so cancellation is only checked before sending.
func (n *Notifier) Notify(ctx context.Context, alert tracker.Alert) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("telegram notify: %w", err)
	}
	msg := tgbotapi.NewMessage(n.chatID, notify.Format(alert))
	if _, err := n.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}
