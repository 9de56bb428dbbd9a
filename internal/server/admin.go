package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	paymentdomain "github.com/railzwaylabs/paygate/internal/payment/domain"
	"github.com/railzwaylabs/paygate/internal/payment/router"
	"github.com/railzwaylabs/paygate/internal/tiersync"
)

type migrateProviderRequest struct {
	Provider string         `json:"provider" binding:"required"`
	Config   map[string]any `json:"config" binding:"required"`
	Actor    string         `json:"actor" binding:"required"`
	Reason   string         `json:"reason"`
}

// MigrateProvider switches the organization's authoritative provider.
// PUT /api/orgs/:org_id/billing-provider
func (s *Server) MigrateProvider(c *gin.Context) {
	var req migrateProviderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	binding, err := s.providerSvc.MigrateProvider(c.Request.Context(), router.MigrateRequest{
		OrgID:    orgIDFromContext(c),
		Provider: req.Provider,
		Config:   req.Config,
		Actor:    strings.TrimSpace(req.Actor),
		Reason:   strings.TrimSpace(req.Reason),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, binding)
}

// ChangeTier applies a tier change from the tier management service. The
// Idempotency-Key header is used when the body carries no key.
// POST /internal/tiers
func (s *Server) ChangeTier(c *gin.Context) {
	var req tiersync.ChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if strings.TrimSpace(req.IdempotencyKey) == "" {
		req.IdempotencyKey = idempotencyKeyFromHeader(c)
	}

	res, err := s.tierSvc.Change(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, res)
}

// GET /internal/tiers/:org_id
func (s *Server) GetTier(c *gin.Context) {
	orgID, ok := parseID(c, "org_id")
	if !ok {
		return
	}
	tier, err := s.tierSvc.Current(c.Request.Context(), orgID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, gin.H{"org_id": orgID, "tier": tier})
}

// ListProviders reports which registered providers accept a currency and
// payment method type.
// GET /api/providers?currency=&method_type=
func (s *Server) ListProviders(c *gin.Context) {
	currency := strings.ToUpper(strings.TrimSpace(c.Query("currency")))
	methodType := paymentdomain.PaymentMethodType(strings.ToLower(strings.TrimSpace(c.Query("method_type"))))
	respondList(c, s.providerSvc.SupportingProviders(currency, methodType), "")
}

func (s *Server) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

