package server

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	billingdomain "github.com/railzwaylabs/paygate/internal/billing/domain"
	"go.uber.org/zap"
)

const (
	requestIDHeader  = "X-Request-Id"
	contextRequestID = "request_id"
	contextOrgIDKey  = "org_id"
)

// RequestID propagates the caller's X-Request-Id or assigns a new one.
func (s *Server) RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(contextRequestID, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func (s *Server) AccessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(started)),
			zap.String("request_id", c.GetString(contextRequestID)),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("error", c.Errors.String()))
			s.log.Error("request failed", fields...)
			return
		}
		s.log.Debug("request", fields...)
	}
}

// OrgScope resolves the :org_id path segment for billing routes.
func (s *Server) OrgScope() gin.HandlerFunc {
	return func(c *gin.Context) {
		orgID, err := snowflake.ParseString(strings.TrimSpace(c.Param("org_id")))
		if err != nil || orgID <= 0 {
			AbortWithError(c, billingdomain.ErrInvalidOrganization)
			return
		}
		c.Set(contextOrgIDKey, orgID)
		c.Next()
	}
}

func orgIDFromContext(c *gin.Context) snowflake.ID {
	if v, ok := c.Get(contextOrgIDKey); ok {
		if id, ok := v.(snowflake.ID); ok {
			return id
		}
	}
	return 0
}

func parseID(c *gin.Context, name string) (snowflake.ID, bool) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param(name)))
	if err != nil || id <= 0 {
		AbortWithError(c, newValidationError(name, "invalid_id", name+" must be a numeric id"))
		return 0, false
	}
	return id, true
}
