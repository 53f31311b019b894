package services

import (
	"context"
	"errors"
	"fmt"

	"github-telegram-notifier/internal/log"

	tgbot "github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
)

// TelegramService sends outbound messages through the Telegram Bot API. It is
// the production MessageSender behind the Dispatcher.
type TelegramService struct {
	bot *tgbot.Bot
}

// NewTelegramService creates a TelegramService for the given bot token.
func NewTelegramService(token string, opts ...tgbot.Option) (*TelegramService, error) {
	if token == "" {
		return nil, errors.New("telegram bot token is required")
	}

	b, err := tgbot.New(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot client: %w", err)
	}

	return &TelegramService{bot: b}, nil
}

// SendMessage delivers one Markdown message to a chat. Failures are wrapped
// into the Dispatcher's transient/permanent classification: a blocked bot or
// an unknown chat will never succeed on retry, rate limiting and network
// errors will.
func (s *TelegramService) SendMessage(ctx context.Context, chatID int64, text string) error {
	_, err := s.bot.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: tgmodels.ParseModeMarkdownV1,
		LinkPreviewOptions: &tgmodels.LinkPreviewOptions{
			IsDisabled: tgbot.True(),
		},
	})
	if err == nil {
		return nil
	}

	log.Warn(ctx, "Telegram send failed",
		"error", err,
		"chat_id", chatID,
	)

	return classifySendError(err)
}

// classifySendError maps Telegram API errors onto the Dispatcher's retry
// semantics.
func classifySendError(err error) error {
	switch {
	case errors.Is(err, tgbot.ErrorForbidden),
		errors.Is(err, tgbot.ErrorBadRequest),
		errors.Is(err, tgbot.ErrorNotFound),
		errors.Is(err, tgbot.ErrorUnauthorized):
		// Blocked bot, unknown chat or broken credentials: retrying cannot help.
		return &PermanentSendError{Err: err}
	default:
		return &TransientSendError{Err: err}
	}
}
