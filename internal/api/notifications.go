package api

import (
	"net/http"
	"strconv"

	"approval-notify/internal/common/auth"
	apperrors "approval-notify/internal/common/errors"
	"approval-notify/internal/models"

	"github.com/gin-gonic/gin"
)

func (s *Server) actor(c *gin.Context) (models.Actor, bool) {
	actor, ok := auth.ActorFrom(c)
	if !ok {
		s.respondError(c, apperrors.NewUnauthorizedError("missing credentials"))
	}
	return actor, ok
}

func queryInt(c *gin.Context, key string, fallback int) (int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return fallback, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return n, true
}

func (s *Server) handleListNotifications() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := s.actor(c)
		if !ok {
			return
		}
		page, ok := queryInt(c, "page", 1)
		if !ok {
			s.badRequest(c, "page must be an integer")
			return
		}
		limit, ok := queryInt(c, "limit", 0)
		if !ok {
			s.badRequest(c, "limit must be an integer")
			return
		}
		unreadOnly, _ := strconv.ParseBool(c.Query("unread"))

		result, err := s.deps.Notifications.List(c.Request.Context(), actor, page, limit, unreadOnly)
		if err != nil {
			s.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func (s *Server) handleUnreadCount() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := s.actor(c)
		if !ok {
			return
		}
		count, err := s.deps.Notifications.UnreadCount(c.Request.Context(), actor)
		if err != nil {
			s.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"unreadCount": count})
	}
}

func (s *Server) handleMarkRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := s.actor(c)
		if !ok {
			return
		}
		n, unread, err := s.deps.Notifications.MarkRead(c.Request.Context(), actor, c.Param("id"))
		if err != nil {
			s.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"notification": n, "unreadCount": unread})
	}
}

func (s *Server) handleMarkAllRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := s.actor(c)
		if !ok {
			return
		}
		changed, err := s.deps.Notifications.MarkAllRead(c.Request.Context(), actor)
		if err != nil {
			s.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"updated": changed})
	}
}

func (s *Server) handleDeleteNotification() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := s.actor(c)
		if !ok {
			return
		}
		if err := s.deps.Notifications.SoftDelete(c.Request.Context(), actor, c.Param("id")); err != nil {
			s.respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}
