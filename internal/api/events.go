package api

import (
	"errors"
	"net/http"
	"strconv"

	apperrors "approval-notify/internal/common/errors"
	"approval-notify/internal/models"

	"github.com/gin-gonic/gin"
)

var errQueueNotConfigured = errors.New("delivery queue not configured")

type eventsRequest struct {
	Events []models.Event `json:"events"`
}

type outcomeView struct {
	Type           models.EventType     `json:"type"`
	RecipientID    string               `json:"recipientId"`
	RecipientKind  models.RecipientKind `json:"recipientKind"`
	NotificationID string               `json:"notificationId,omitempty"`
	Skipped        string               `json:"skipped,omitempty"`
	Persisted      bool                 `json:"persisted"`
	Pushed         bool                 `json:"pushed"`
	Enqueued       bool                 `json:"enqueued"`
	Fallback       bool                 `json:"fallback"`
	ErrorCode      apperrors.ErrorCode  `json:"errorCode,omitempty"`
}

// handleInternalEvents lets trusted producers raise notifications for events the
// approval workflow does not own, such as revision_uploaded. By default the batch
// is queued and 202 returned; wait=true processes it inline and reports per-event outcomes.
func (s *Server) handleInternalEvents() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req eventsRequest
		if !s.bindValidated(c, eventsSchema, &req) {
			return
		}

		wait, _ := strconv.ParseBool(c.Query("wait"))
		if !wait {
			s.deps.Dispatcher.Dispatch(req.Events...)
			c.JSON(http.StatusAccepted, gin.H{"accepted": len(req.Events)})
			return
		}

		outcomes := s.deps.Notifications.SendBulk(c.Request.Context(), req.Events)
		views := make([]outcomeView, 0, len(outcomes))
		for _, out := range outcomes {
			view := outcomeView{
				Type:           out.Event.Type,
				RecipientID:    out.Event.RecipientID,
				RecipientKind:  out.Event.RecipientKind,
				NotificationID: out.NotificationID,
				Skipped:        out.Skipped,
				Persisted:      out.Persisted,
				Pushed:         out.Pushed,
				Enqueued:       out.Enqueued,
				Fallback:       out.Fallback,
			}
			if out.Err != nil {
				view.ErrorCode = apperrors.CodeOf(out.Err)
			}
			views = append(views, view)
		}
		c.JSON(http.StatusOK, gin.H{"outcomes": views})
	}
}

func (s *Server) handleDeliveryStats() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.deps.Delivery == nil {
			s.respondError(c, apperrors.NewQueueUnavailableError("stats", errQueueNotConfigured))
			return
		}
		stats, err := s.deps.Delivery.Stats(c.Request.Context())
		if err != nil {
			s.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, stats)
	}
}

func (s *Server) handleDeliveryHistory(succeeded bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.deps.Delivery == nil {
			s.respondError(c, apperrors.NewQueueUnavailableError("history", errQueueNotConfigured))
			return
		}
		n, ok := queryInt(c, "limit", 50)
		if !ok || n < 1 {
			s.badRequest(c, "limit must be a positive integer")
			return
		}

		list := s.deps.Delivery.Failed
		if succeeded {
			list = s.deps.Delivery.Succeeded
		}
		jobs, err := list(c.Request.Context(), int64(n))
		if err != nil {
			s.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": jobs})
	}
}
