package handlers

import (
	"context"
	"strings"

	"github-telegram-notifier/internal/log"

	"github.com/gin-gonic/gin"
	tgmodels "github.com/go-telegram/bot/models"
)

// ConversationService handles one inbound chat message.
// *services.OnboardingService satisfies it.
type ConversationService interface {
	HandleMessage(ctx context.Context, chatID int64, text string) error
}

// TelegramHandler receives update payloads from the Telegram webhook.
type TelegramHandler struct {
	onboarding ConversationService
}

func NewTelegramHandler(onboarding ConversationService) *TelegramHandler {
	return &TelegramHandler{onboarding: onboarding}
}

// HandleWebhook processes one Telegram update. Telegram re-delivers updates
// on non-2xx responses, so every outcome short of a decode failure is
// acknowledged with 200.
func (h *TelegramHandler) HandleWebhook(c *gin.Context) {
	var update tgmodels.Update
	if err := c.ShouldBindJSON(&update); err != nil {
		log.Error(c.Request.Context(), "Failed to parse Telegram update", "error", err)
		c.JSON(400, gin.H{"error": "invalid update"})
		return
	}

	ctx := log.WithFields(c.Request.Context(), log.LogFields{
		"update_id": update.ID,
	})

	// Edits, callbacks, channel posts and other update kinds are out of
	// scope for the conversation flow.
	if update.Message == nil || update.Message.Text == "" {
		c.JSON(200, gin.H{"status": "ignored"})
		return
	}

	chatID := update.Message.Chat.ID
	text := strings.TrimSpace(update.Message.Text)
	ctx = log.WithFields(ctx, log.LogFields{"chat_id": chatID})

	if err := h.onboarding.HandleMessage(ctx, chatID, text); err != nil {
		// The user already got a reply telling them to retry; surfacing a
		// non-2xx here would only make Telegram re-deliver the same text.
		log.Error(ctx, "Failed to handle chat message", "error", err)
	}

	c.JSON(200, gin.H{"status": "ok"})
}
