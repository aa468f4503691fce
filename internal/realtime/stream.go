package realtime

import (
	"io"
	"net/http"
	"time"

	"approval-notify/internal/common/auth"
	"approval-notify/internal/common/metrics"
	"approval-notify/internal/models"

	"github.com/gin-gonic/gin"
)

// TokenParser verifies the credential presented by a connecting client.
type TokenParser interface {
	Parse(token string) (models.Actor, error)
}

// StreamHandler serves a recipient's channel as server-sent events. Clients authenticate
// before the channel is joined; a missing or invalid token gets 401 and nothing else.
func (h *Hub) StreamHandler(tokens TokenParser, pingInterval time.Duration) gin.HandlerFunc {
	if pingInterval <= 0 {
		pingInterval = 25 * time.Second
	}

	return func(c *gin.Context) {
		actor, err := tokens.Parse(auth.TokenFromRequest(c.Request))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err})
			return
		}

		ctx := c.Request.Context()
		sub, err := h.Subscribe(ctx, actor)
		if err != nil {
			h.logger.Error("Failed to join realtime channel", map[string]interface{}{
				"recipient_id":   actor.ID,
				"recipient_kind": string(actor.Kind),
				"error":          err.Error(),
			})
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "realtime channel unavailable"})
			return
		}
		defer sub.Close()

		metrics.RealtimeSubscribers.Inc()
		defer metrics.RealtimeSubscribers.Dec()

		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")

		c.SSEvent(EventReady, gin.H{"recipientId": actor.ID, "recipientKind": actor.Kind})
		c.Writer.Flush()

		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()

		c.Stream(func(_ io.Writer) bool {
			select {
			case <-ctx.Done():
				return false
			case msg, ok := <-sub.C:
				if !ok {
					return false
				}
				c.SSEvent(msg.Event, msg.Data)
				return true
			case t := <-ticker.C:
				c.SSEvent(EventPing, t.UTC().Format(time.RFC3339))
				return true
			}
		})
	}
}
