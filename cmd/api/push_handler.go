package api

import (
	"crypto/subtle"
	"errors"
	"net/http"

	"jobtrack-backend/pkg/queue"

	"github.com/gin-gonic/gin"
)

// PushMessage accepts a Pub/Sub push delivery for :topic. The subscription's
// push endpoint must carry ?token=<PUBSUB_PUSH_TOKEN>. Any non-2xx answer
// makes Pub/Sub redeliver, so only handler errors map to 5xx.
// POST /api/pubsub/push/:topic
func (h *Handler) PushMessage(c *gin.Context) {
	got := c.Query("token")
	if h.pushToken == "" || subtle.ConstantTimeCompare([]byte(got), []byte(h.pushToken)) != 1 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid push token"})
		return
	}

	var envelope queue.PushEnvelope
	if err := c.ShouldBindJSON(&envelope); err != nil {
		// Malformed envelopes never succeed; acknowledge them.
		h.log.Warn().Err(err).Msg("dropping malformed push envelope")
		c.Status(http.StatusNoContent)
		return
	}

	topic := c.Param("topic")
	err := h.router.Dispatch(c.Request.Context(), topic, envelope.Message.Data)
	switch {
	case err == nil:
		c.Status(http.StatusNoContent)
	case errors.Is(err, queue.ErrUnknownTopic):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		h.log.Error().Err(err).
			Str("topic", topic).
			Str("message_id", envelope.Message.MessageID).
			Msg("push message failed, requesting redelivery")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "processing failed"})
	}
}
