package handlers

import (
	"context"
	"errors"
	"time"

	"github-telegram-notifier/internal/log"
	"github-telegram-notifier/internal/models"
	"github-telegram-notifier/internal/services"

	"github.com/gin-gonic/gin"
)

// EventResolver turns a queued event back into notifications. The worker
// never re-authenticates; that happened before the job was queued.
type EventResolver interface {
	Resolve(ctx context.Context, eventType string, payload []byte) ([]models.Notification, error)
}

// EventWorkerHandler processes jobs delivered by the Cloud Tasks queue.
type EventWorkerHandler struct {
	resolver          EventResolver
	dispatcher        NotificationQueue
	processingTimeout time.Duration
}

func NewEventWorkerHandler(resolver EventResolver, dispatcher NotificationQueue, processingTimeout time.Duration) *EventWorkerHandler {
	return &EventWorkerHandler{
		resolver:          resolver,
		dispatcher:        dispatcher,
		processingTimeout: processingTimeout,
	}
}

// ProcessEvent handles one queued job. Non-2xx responses make Cloud Tasks
// retry the delivery, so unrecoverable jobs are acknowledged with 200 and
// discarded instead.
func (h *EventWorkerHandler) ProcessEvent(c *gin.Context) {
	var job models.EventJob
	if err := c.ShouldBindJSON(&job); err != nil {
		log.Error(c.Request.Context(), "Failed to parse job payload", "error", err)
		c.JSON(200, gin.H{"status": "discarded", "reason": "malformed job"})
		return
	}

	ctx := log.WithFields(c.Request.Context(), log.LogFields{
		"job_id":          job.ID,
		"github_event":    job.EventType,
		"github_delivery": job.DeliveryID,
	})
	if job.TraceID != "" {
		ctx = context.WithValue(ctx, log.TraceIDKey, job.TraceID)
	}

	if err := job.Validate(); err != nil {
		log.Error(ctx, "Discarding invalid job", "error", err)
		c.JSON(200, gin.H{"status": "discarded", "reason": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(ctx, h.processingTimeout)
	defer cancel()

	notifications, err := h.resolver.Resolve(ctx, job.EventType, job.Payload)
	if err != nil {
		if errors.Is(err, services.ErrMalformedPayload) {
			log.Error(ctx, "Discarding malformed event payload", "error", err)
			c.JSON(200, gin.H{"status": "discarded", "reason": "malformed payload"})
			return
		}
		log.Error(ctx, "Failed to resolve event", "error", err)
		c.JSON(500, gin.H{"error": "failed to resolve event"})
		return
	}

	for _, n := range notifications {
		if err := h.dispatcher.Enqueue(n.ChatID, n.Text); err != nil {
			log.Error(ctx, "Failed to queue notification", "error", err, "chat_id", n.ChatID)
			c.JSON(500, gin.H{"error": "failed to queue notification"})
			return
		}
	}

	log.Info(ctx, "Job processed", "subscriber_count", len(notifications))
	c.JSON(200, gin.H{"status": "delivered", "subscriber_count": len(notifications)})
}
