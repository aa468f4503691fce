package api

import (
	"net/http"

	apperrors "approval-notify/internal/common/errors"

	"github.com/gin-gonic/gin"
)

// respondError writes err with the status its code maps to. Unclassified errors are not echoed.
func (s *Server) respondError(c *gin.Context, err error) {
	stdErr, ok := apperrors.As(err)
	if !ok {
		stdErr = apperrors.NewInternalError(err)
	}
	status := apperrors.HTTPStatus(stdErr.Code)

	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", map[string]interface{}{
			"path":      c.FullPath(),
			"errorCode": string(stdErr.Code),
			"error":     err.Error(),
		})
		c.AbortWithStatusJSON(status, gin.H{"error": gin.H{"code": stdErr.Code, "message": stdErr.Message}})
		return
	}
	c.AbortWithStatusJSON(status, gin.H{"error": stdErr})
}

func (s *Server) badRequest(c *gin.Context, details string) {
	s.respondError(c, apperrors.NewValidationError(details))
}
