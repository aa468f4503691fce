// Package api exposes the approval workflow, the notification inbox and the realtime stream over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"approval-notify/internal/approval"
	"approval-notify/internal/common/auth"
	"approval-notify/internal/common/logger"
	"approval-notify/internal/delivery"
	"approval-notify/internal/models"
	"approval-notify/internal/notification"
	"approval-notify/internal/realtime"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DeliveryInspector reads the delivery queue for operators.
type DeliveryInspector interface {
	Stats(ctx context.Context) (delivery.Stats, error)
	Failed(ctx context.Context, n int64) ([]models.DeliveryJob, error)
	Succeeded(ctx context.Context, n int64) ([]models.DeliveryJob, error)
}

// Check reports whether one dependency is usable.
type Check func(ctx context.Context) error

type Dependencies struct {
	Approvals     *approval.Machine
	Notifications *notification.Service
	Dispatcher    approval.Notifier
	Hub           *realtime.Hub
	Tokens        *auth.TokenService
	Delivery      DeliveryInspector
	Checks        map[string]Check
	Logger        logger.Logger
}

type Options struct {
	PingInterval time.Duration
	Version      string
}

type Server struct {
	router *gin.Engine
	deps   Dependencies
	opts   Options
	logger logger.Logger
}

func NewServer(deps Dependencies, opts Options) *Server {
	log := deps.Logger.WithFields(map[string]interface{}{"component": "http"})
	router := gin.New()
	router.Use(Recovery(log), RequestLogger(log))

	s := &Server{router: router, deps: deps, opts: opts, logger: log}
	s.setupRoutes()
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "version": s.opts.Version})
	})
	s.router.GET("/ready", s.handleReady())
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	registrations := s.router.Group("/registrations")
	{
		registrations.POST("/subjects", s.handleRegisterSubject())
		registrations.POST("/admins", s.handleRegisterAdmin())
	}

	// The stream authenticates from the query string as well, so it sits outside the header middleware.
	s.router.GET("/api/v1/notifications/stream", s.deps.Hub.StreamHandler(s.deps.Tokens, s.opts.PingInterval))

	api := s.router.Group("/api/v1")
	api.Use(s.deps.Tokens.Authenticate())
	{
		notifications := api.Group("/notifications")
		{
			notifications.GET("", s.handleListNotifications())
			notifications.GET("/unread-count", s.handleUnreadCount())
			notifications.PUT("/read-all", s.handleMarkAllRead())
			notifications.PUT("/:id/read", s.handleMarkRead())
			notifications.DELETE("/:id", s.handleDeleteNotification())
		}

		approvals := api.Group("/approvals")
		{
			approvals.GET("/subjects/:id", s.handleGetSubject())
			approvals.GET("/subjects/:id/logs", s.handleSubjectLogs())
			approvals.POST("/subjects/:id/dh-request", s.handleRequestDHReview())
			approvals.POST("/subjects/:id/dh-review", s.handleDHReview())
			approvals.POST("/subjects/:id/admin-review", s.handleAdminReview())
			approvals.POST("/subjects/:id/toggle-disabled", s.handleToggleSubject())
			approvals.GET("/admins/:id", s.handleGetAdmin())
			approvals.GET("/admins/:id/logs", s.handleAdminLogs())
			approvals.POST("/admins/:id/review", s.handleAdminAccountReview())
			approvals.POST("/admins/:id/toggle-disabled", s.handleToggleAdmin())
		}

		ops := api.Group("/delivery", auth.RequireActiveAdmin(s.deps.Approvals))
		{
			ops.GET("/stats", s.handleDeliveryStats())
			ops.GET("/failed", s.handleDeliveryHistory(false))
			ops.GET("/succeeded", s.handleDeliveryHistory(true))
		}

		internal := api.Group("/internal", auth.RequireActiveAdmin(s.deps.Approvals))
		{
			internal.POST("/events", s.handleInternalEvents())
		}
	}
}

func (s *Server) handleReady() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		results := gin.H{}
		for name, check := range s.deps.Checks {
			if err := check(ctx); err != nil {
				status = http.StatusServiceUnavailable
				results[name] = err.Error()
				continue
			}
			results[name] = "ok"
		}
		c.JSON(status, gin.H{"ready": status == http.StatusOK, "checks": results})
	}
}
