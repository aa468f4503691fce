package api

import (
	"net/http"

	"approval-notify/internal/approval"
	apperrors "approval-notify/internal/common/errors"
	"approval-notify/internal/models"

	"github.com/gin-gonic/gin"
)

type reviewRequest struct {
	Decision models.Decision `json:"decision"`
	Remark   string          `json:"remark"`
}

type registration struct {
	Account interface{} `json:"account"`
	Token   string      `json:"token"`
}

func (s *Server) handleRegisterSubject() gin.HandlerFunc {
	return func(c *gin.Context) {
		var in approval.SubjectInput
		if !s.bindValidated(c, subjectRegistrationSchema, &in) {
			return
		}
		subject, err := s.deps.Approvals.RegisterSubject(c.Request.Context(), in)
		if err != nil {
			s.respondError(c, err)
			return
		}
		s.registered(c, subject, models.Actor{ID: subject.ID, Kind: models.KindSubject})
	}
}

func (s *Server) handleRegisterAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		var in approval.AdminInput
		if !s.bindValidated(c, adminRegistrationSchema, &in) {
			return
		}
		admin, err := s.deps.Approvals.RegisterAdmin(c.Request.Context(), in)
		if err != nil {
			s.respondError(c, err)
			return
		}
		s.registered(c, admin, models.Actor{ID: admin.ID, Kind: models.KindAdministrator})
	}
}

// registered answers with the new account and a token bound to it, so the
// owner can follow their own review in the inbox.
func (s *Server) registered(c *gin.Context, account interface{}, actor models.Actor) {
	token, err := s.deps.Tokens.Issue(actor)
	if err != nil {
		s.respondError(c, apperrors.NewInternalError(err))
		return
	}
	c.JSON(http.StatusCreated, registration{Account: account, Token: token})
}

// canView allows owners and active administrators to read an account. It responds when it
// returns false.
func (s *Server) canView(c *gin.Context, actor models.Actor, kind models.RecipientKind, id string) bool {
	if actor.Kind == kind && actor.ID == id {
		return true
	}
	if actor.Kind != models.KindAdministrator {
		s.respondError(c, apperrors.NewForbiddenError("not allowed to view this account"))
		return false
	}
	if _, err := s.deps.Approvals.ActiveAdmin(c.Request.Context(), actor); err != nil {
		s.respondError(c, err)
		return false
	}
	return true
}

func (s *Server) handleGetSubject() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := s.actor(c)
		if !ok {
			return
		}
		id := c.Param("id")
		if !s.canView(c, actor, models.KindSubject, id) {
			return
		}
		subject, err := s.deps.Approvals.Subject(c.Request.Context(), id)
		if err != nil {
			s.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, subject)
	}
}

func (s *Server) handleGetAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := s.actor(c)
		if !ok {
			return
		}
		id := c.Param("id")
		if !s.canView(c, actor, models.KindAdministrator, id) {
			return
		}
		admin, err := s.deps.Approvals.Administrator(c.Request.Context(), id)
		if err != nil {
			s.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, admin)
	}
}

func (s *Server) handleLogs(kind models.RecipientKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := s.actor(c)
		if !ok {
			return
		}
		id := c.Param("id")
		if !s.canView(c, actor, kind, id) {
			return
		}
		logs, err := s.deps.Approvals.StatusLogs(c.Request.Context(), kind, id)
		if err != nil {
			s.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": logs})
	}
}

func (s *Server) handleSubjectLogs() gin.HandlerFunc { return s.handleLogs(models.KindSubject) }

func (s *Server) handleAdminLogs() gin.HandlerFunc { return s.handleLogs(models.KindAdministrator) }

// handleRequestDHReview is open to the account owner only.
func (s *Server) handleRequestDHReview() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := s.actor(c)
		if !ok {
			return
		}
		id := c.Param("id")
		if actor.Kind != models.KindSubject || actor.ID != id {
			s.respondError(c, apperrors.NewForbiddenError("only the account owner may request review"))
			return
		}
		if err := s.deps.Approvals.RequestDHReview(c.Request.Context(), id); err != nil {
			s.respondError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": models.StatusDHReviewRequested})
	}
}

type reviewFunc func(c *gin.Context, id string, actor models.Actor, decision models.Decision, remark string) error

func (s *Server) review(fn reviewFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := s.actor(c)
		if !ok {
			return
		}
		var req reviewRequest
		if !s.bindValidated(c, reviewSchema, &req) {
			return
		}
		if err := fn(c, c.Param("id"), actor, req.Decision, req.Remark); err != nil {
			s.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"decision": req.Decision})
	}
}

func (s *Server) handleDHReview() gin.HandlerFunc {
	return s.review(func(c *gin.Context, id string, actor models.Actor, decision models.Decision, remark string) error {
		return s.deps.Approvals.ResolveDHReview(c.Request.Context(), id, actor, decision, remark)
	})
}

func (s *Server) handleAdminReview() gin.HandlerFunc {
	return s.review(func(c *gin.Context, id string, actor models.Actor, decision models.Decision, remark string) error {
		return s.deps.Approvals.ResolveAdminReview(c.Request.Context(), id, actor, decision, remark)
	})
}

func (s *Server) handleAdminAccountReview() gin.HandlerFunc {
	return s.review(func(c *gin.Context, id string, actor models.Actor, decision models.Decision, remark string) error {
		return s.deps.Approvals.ResolveAdminAccountReview(c.Request.Context(), id, actor, decision, remark)
	})
}

func (s *Server) toggle(fn func(c *gin.Context, id string, actor models.Actor) (bool, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := s.actor(c)
		if !ok {
			return
		}
		disabled, err := fn(c, c.Param("id"), actor)
		if err != nil {
			s.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"isDisabled": disabled})
	}
}

func (s *Server) handleToggleSubject() gin.HandlerFunc {
	return s.toggle(func(c *gin.Context, id string, actor models.Actor) (bool, error) {
		return s.deps.Approvals.ToggleSubjectDisabled(c.Request.Context(), id, actor)
	})
}

func (s *Server) handleToggleAdmin() gin.HandlerFunc {
	return s.toggle(func(c *gin.Context, id string, actor models.Actor) (bool, error) {
		return s.deps.Approvals.ToggleAdminDisabled(c.Request.Context(), id, actor)
	})
}
