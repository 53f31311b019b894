package handlers

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

// recordingConversation captures handled messages.
type recordingConversation struct {
	chatIDs []int64
	texts   []string
	err     error
}

var _ ConversationService = (*recordingConversation)(nil)

func (r *recordingConversation) HandleMessage(_ context.Context, chatID int64, text string) error {
	r.chatIDs = append(r.chatIDs, chatID)
	r.texts = append(r.texts, text)
	return r.err
}

func telegramRequest(t *testing.T, handler *TelegramHandler, body string) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.POST("/webhooks/telegram", handler.HandleWebhook)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/telegram", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestTelegramHandler_MessageUpdate(t *testing.T) {
	conv := &recordingConversation{}
	handler := NewTelegramHandler(conv)

	body := `{
		"update_id": 100,
		"message": {
			"message_id": 1,
			"date": 1700000000,
			"chat": {"id": 42, "type": "private"},
			"text": "  octocat/hello-world  "
		}
	}`
	w := telegramRequest(t, handler, body)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []int64{42}, conv.chatIDs)
	assert.Equal(t, []string{"octocat/hello-world"}, conv.texts)
}

func TestTelegramHandler_NonMessageUpdatesIgnored(t *testing.T) {
	conv := &recordingConversation{}
	handler := NewTelegramHandler(conv)

	tests := []struct {
		name string
		body string
	}{
		{
			name: "Edited message",
			body: `{"update_id":101,"edited_message":{"message_id":1,"date":1700000000,"chat":{"id":42,"type":"private"},"text":"x"}}`,
		},
		{
			name: "Message without text",
			body: `{"update_id":102,"message":{"message_id":2,"date":1700000000,"chat":{"id":42,"type":"private"}}}`,
		},
		{
			name: "Bare update",
			body: `{"update_id":103}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := telegramRequest(t, handler, tt.body)
			assert.Equal(t, http.StatusOK, w.Code)
			assert.Contains(t, w.Body.String(), "ignored")
		})
	}

	assert.Empty(t, conv.chatIDs)
}

func TestTelegramHandler_InvalidJSON(t *testing.T) {
	handler := NewTelegramHandler(&recordingConversation{})

	w := telegramRequest(t, handler, `{"update_id":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// TestTelegramHandler_HandlerErrorStillAcknowledged verifies that internal
// failures do not trigger Telegram's redelivery loop.
func TestTelegramHandler_HandlerErrorStillAcknowledged(t *testing.T) {
	conv := &recordingConversation{err: errors.New("firestore down")}
	handler := NewTelegramHandler(conv)

	body := `{"update_id":104,"message":{"message_id":3,"date":1700000000,"chat":{"id":42,"type":"private"},"text":"hi"}}`
	w := telegramRequest(t, handler, body)

	assert.Equal(t, http.StatusOK, w.Code)
}
