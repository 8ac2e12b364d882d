package notify

import (
	"context"
	"fmt"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"solana-swap-watch/internal/domain"
	"solana-swap-watch/internal/poller"
)

// MessageSender is the part of *bot.Bot used for alerts.
type MessageSender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
}

// TelegramNotifier pushes each trade to one chat.
type TelegramNotifier struct {
	sender MessageSender
	chatID int64
}

// Compile-time interface check.
var _ poller.Notifier = (*TelegramNotifier)(nil)

// NewTelegramNotifier creates a notifier posting to chatID.
func NewTelegramNotifier(sender MessageSender, chatID int64) *TelegramNotifier {
	return &TelegramNotifier{sender: sender, chatID: chatID}
}

// NewTelegramBot creates a bot client for token. The bot only sends, so
// the getMe handshake is skipped and startup does not depend on Telegram.
func NewTelegramBot(token string, opts ...bot.Option) (*bot.Bot, error) {
	opts = append([]bot.Option{bot.WithSkipGetMe()}, opts...)
	b, err := bot.New(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return b, nil
}

// Deliver sends the formatted trade.
func (n *TelegramNotifier) Deliver(ctx context.Context, t domain.Trade) error {
	_, err := n.sender.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: n.chatID,
		Text:   FormatMessage(t),
	})
	if err != nil {
		return fmt.Errorf("%w: telegram send: %w", domain.ErrNotify, err)
	}
	return nil
}
