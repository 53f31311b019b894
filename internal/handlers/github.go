// Package handlers wires the inbound HTTP surfaces to the core services.
package handlers

import (
	"context"
	"errors"
	"io"
	"time"

	"github-telegram-notifier/internal/log"
	"github-telegram-notifier/internal/models"
	"github-telegram-notifier/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// EventRouterService is the routing surface the GitHub handler needs.
// *services.EventRouter satisfies it.
type EventRouterService interface {
	Authenticate(ctx context.Context, payload []byte, candidateKey string) (int, error)
	Route(ctx context.Context, eventType string, payload []byte, candidateKey string) ([]models.Notification, error)
}

// EventQueue enqueues authenticated events for asynchronous processing.
// *services.CloudTasksService satisfies it.
type EventQueue interface {
	EnqueueEvent(ctx context.Context, job *models.EventJob) error
}

// NotificationQueue hands rendered notifications to the delivery dispatcher.
// *services.Dispatcher satisfies it.
type NotificationQueue interface {
	Enqueue(chatID int64, text string) error
}

// GitHubHandler receives repository events from GitHub webhooks. The
// credential the user configured travels in the payload URL's `key` query
// parameter (GitHub webhooks cannot carry custom headers); an X-Gitlink-Key
// header is also accepted for other providers.
type GitHubHandler struct {
	router     EventRouterService
	dispatcher NotificationQueue
	eventQueue EventQueue // nil unless async processing is enabled
}

// NewGitHubHandler creates a GitHubHandler. Pass a nil eventQueue to process
// events inline instead of through Cloud Tasks.
func NewGitHubHandler(router EventRouterService, dispatcher NotificationQueue, eventQueue EventQueue) *GitHubHandler {
	return &GitHubHandler{
		router:     router,
		dispatcher: dispatcher,
		eventQueue: eventQueue,
	}
}

// HandleWebhook processes one inbound repository event.
func (h *GitHubHandler) HandleWebhook(c *gin.Context) {
	startTime := time.Now()
	traceID := c.GetString("trace_id")

	eventType := c.GetHeader("X-GitHub-Event")
	deliveryID := c.GetHeader("X-GitHub-Delivery")

	ctx := log.WithFields(c.Request.Context(), log.LogFields{
		"github_event":    eventType,
		"github_delivery": deliveryID,
	})

	if eventType == "" || deliveryID == "" {
		log.Error(ctx, "Missing required headers")
		c.JSON(400, gin.H{"error": "missing required headers"})
		return
	}

	// Webhook health probes pass through without authentication.
	if eventType == "ping" {
		c.JSON(200, gin.H{"status": "ok", "message": "pong"})
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		log.Error(ctx, "Failed to read request body", "error", err)
		c.JSON(400, gin.H{"error": "failed to read body"})
		return
	}

	candidateKey := c.Query("key")
	if candidateKey == "" {
		candidateKey = c.GetHeader("X-Gitlink-Key")
	}

	if h.eventQueue != nil {
		h.handleAsync(c, ctx, eventType, deliveryID, traceID, body, candidateKey, startTime)
		return
	}

	notifications, err := h.router.Route(ctx, eventType, body, candidateKey)
	if err != nil {
		h.rejectEvent(c, ctx, err)
		return
	}

	for _, n := range notifications {
		if err := h.dispatcher.Enqueue(n.ChatID, n.Text); err != nil {
			// Shutdown race; remaining fan-out targets would fail the same way.
			log.Error(ctx, "Failed to queue notification", "error", err, "chat_id", n.ChatID)
			break
		}
	}

	log.Info(ctx, "Event processed",
		"subscriber_count", len(notifications),
		"processing_time_ms", time.Since(startTime).Milliseconds(),
	)
	c.JSON(200, gin.H{
		"status":             "delivered",
		"subscriber_count":   len(notifications),
		"processing_time_ms": time.Since(startTime).Milliseconds(),
	})
}

// handleAsync authenticates at the edge and defers parsing and delivery to
// the worker endpoint. The raw key is never part of the queued job.
func (h *GitHubHandler) handleAsync(
	c *gin.Context, ctx context.Context,
	eventType, deliveryID, traceID string,
	body []byte, candidateKey string, startTime time.Time,
) {
	subscriberCount, err := h.router.Authenticate(ctx, body, candidateKey)
	if err != nil {
		h.rejectEvent(c, ctx, err)
		return
	}
	if subscriberCount == 0 {
		c.JSON(200, gin.H{"status": "dropped", "subscriber_count": 0})
		return
	}

	job := &models.EventJob{
		ID:         uuid.New().String(),
		EventType:  eventType,
		DeliveryID: deliveryID,
		TraceID:    traceID,
		Payload:    body,
		ReceivedAt: time.Now(),
	}

	if err := h.eventQueue.EnqueueEvent(ctx, job); err != nil {
		log.Error(ctx, "Failed to enqueue event", "error", err)
		c.JSON(500, gin.H{"error": "failed to queue event"})
		return
	}

	log.Info(ctx, "Event queued",
		"job_id", job.ID,
		"processing_time_ms", time.Since(startTime).Milliseconds(),
	)
	c.JSON(200, gin.H{
		"status":             "queued",
		"job_id":             job.ID,
		"processing_time_ms": time.Since(startTime).Milliseconds(),
	})
}

// rejectEvent maps routing failures to responses. Authentication failures say
// nothing about which part of the check failed.
func (h *GitHubHandler) rejectEvent(c *gin.Context, ctx context.Context, err error) {
	switch {
	case errors.Is(err, services.ErrEventAuthFailed):
		log.Warn(ctx, "Rejected unauthenticated event")
		c.JSON(401, gin.H{"error": "authentication failed"})
	case errors.Is(err, services.ErrMalformedPayload):
		log.Error(ctx, "Rejected malformed event payload", "error", err)
		c.JSON(400, gin.H{"error": "invalid payload"})
	default:
		log.Error(ctx, "Failed to route event", "error", err)
		c.JSON(500, gin.H{"error": "failed to process event"})
	}
}
