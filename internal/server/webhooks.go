package server

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	paymentdomain "github.com/railzwaylabs/paygate/internal/payment/domain"
)

// HandleWebhook ingests one provider delivery. Successful, duplicate and
// unrecognized deliveries all answer 200 so the provider stops retrying.
// POST /webhooks/:provider
func (s *Server) HandleWebhook(c *gin.Context) {
	provider := strings.TrimSpace(c.Param("provider"))

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, s.maxPayloadBytes+1))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	res, err := s.webhookSvc.IngestWebhook(c.Request.Context(), provider, payload, c.Request.Header)
	if err != nil {
		status := webhookStatus(err)
		if status >= http.StatusInternalServerError {
			_ = c.Error(err)
			c.AbortWithStatusJSON(status, gin.H{"error": "reconciliation failed"})
			return
		}
		c.AbortWithStatusJSON(status, gin.H{"error": toAPIError(err).Code})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":            ingestStatus(res),
		"provider_event_id": res.ProviderEventID,
	})
}

// ReplayWebhook re-runs a failed or stuck event.
// POST /internal/webhooks/:provider/:event_id/replay
func (s *Server) ReplayWebhook(c *gin.Context) {
	res, err := s.webhookSvc.Replay(c.Request.Context(), c.Param("provider"), strings.TrimSpace(c.Param("event_id")))
	if err != nil && res == nil {
		AbortWithError(c, err)
		return
	}
	body := gin.H{
		"status":            ingestStatus(res),
		"provider_event_id": res.ProviderEventID,
	}
	if err != nil {
		body["error"] = err.Error()
	}
	c.JSON(http.StatusOK, gin.H{"data": body})
}

func ingestStatus(res *paymentdomain.IngestResult) string {
	switch {
	case res.Duplicate:
		return "duplicate"
	case res.Unrecognized:
		return "unrecognized"
	case res.Deferred:
		return "deferred"
	case res.Status == paymentdomain.WebhookStatusFailed:
		return "failed"
	default:
		return "accepted"
	}
}
