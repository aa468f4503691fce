package api

import (
	"encoding/json"
	"strings"

	"approval-notify/internal/common/validation"

	"github.com/gin-gonic/gin"
)

// bindValidated checks the body against schema before decoding it into dst.
func (s *Server) bindValidated(c *gin.Context, schema *validation.Schema, dst interface{}) bool {
	raw, err := c.GetRawData()
	if err != nil || len(raw) == 0 {
		s.badRequest(c, "request body is required")
		return false
	}
	if result := schema.ValidateJSON(raw); !result.Valid {
		s.badRequest(c, strings.Join(result.GetErrorMessages(), "; "))
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		s.badRequest(c, err.Error())
		return false
	}
	return true
}
