package server

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	billingdomain "github.com/railzwaylabs/paygate/internal/billing/domain"
	paymentdomain "github.com/railzwaylabs/paygate/internal/payment/domain"
)

// POST /api/orgs/:org_id/customers
func (s *Server) CreateCustomer(c *gin.Context) {
	var req billingdomain.CreateCustomerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.OrgID = orgIDFromContext(c)
	req.RequestID = idempotencyKeyFromHeader(c)

	customer, err := s.billingSvc.CreateCustomer(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, customer)
}

// GET /api/orgs/:org_id/subscriptions
func (s *Server) ListSubscriptions(c *gin.Context) {
	subs, err := s.billingSvc.ListSubscriptions(c.Request.Context(), orgIDFromContext(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondList(c, subs, "")
}

// POST /api/orgs/:org_id/subscriptions
func (s *Server) CreateSubscription(c *gin.Context) {
	var req billingdomain.CreateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.OrgID = orgIDFromContext(c)
	req.RequestID = idempotencyKeyFromHeader(c)
	req.PlanCode = strings.TrimSpace(req.PlanCode)

	sub, err := s.billingSvc.CreateSubscription(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, sub)
}

// POST /api/orgs/:org_id/subscriptions/:id/cancel
func (s *Server) CancelSubscription(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req billingdomain.CancelSubscriptionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}
	req.OrgID = orgIDFromContext(c)
	req.SubscriptionID = id
	req.RequestID = idempotencyKeyFromHeader(c)

	sub, err := s.billingSvc.CancelSubscription(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, sub)
}

// POST /api/orgs/:org_id/subscriptions/:id/resume
func (s *Server) ResumeSubscription(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	sub, err := s.billingSvc.ResumeSubscription(c.Request.Context(), billingdomain.ResumeSubscriptionRequest{
		OrgID:          orgIDFromContext(c),
		RequestID:      idempotencyKeyFromHeader(c),
		SubscriptionID: id,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, sub)
}

// GET /api/orgs/:org_id/payment-methods
func (s *Server) ListPaymentMethods(c *gin.Context) {
	methods, err := s.billingSvc.ListPaymentMethods(c.Request.Context(), orgIDFromContext(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondList(c, methods, "")
}

// POST /api/orgs/:org_id/payment-methods
func (s *Server) AddPaymentMethod(c *gin.Context) {
	var req billingdomain.AddPaymentMethodRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.OrgID = orgIDFromContext(c)
	req.RequestID = idempotencyKeyFromHeader(c)

	pm, err := s.billingSvc.AddPaymentMethod(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, pm)
}

// POST /api/orgs/:org_id/payment-methods/:id/default
func (s *Server) SetDefaultPaymentMethod(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	pm, err := s.billingSvc.SetDefaultPaymentMethod(c.Request.Context(), orgIDFromContext(c), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, pm)
}

// DELETE /api/orgs/:org_id/payment-methods/:id
func (s *Server) DetachPaymentMethod(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	err := s.billingSvc.DetachPaymentMethod(c.Request.Context(), billingdomain.DetachPaymentMethodRequest{
		OrgID:           orgIDFromContext(c),
		RequestID:       idempotencyKeyFromHeader(c),
		PaymentMethodID: id,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, gin.H{"id": id, "detached": true})
}

// GET /api/orgs/:org_id/invoices?status=&page_size=&page_token=
func (s *Server) ListInvoices(c *gin.Context) {
	req := billingdomain.ListInvoicesRequest{
		OrgID:     orgIDFromContext(c),
		Status:    paymentdomain.InvoiceStatus(strings.ToLower(strings.TrimSpace(c.Query("status")))),
		PageToken: c.Query("page_token"),
	}
	if raw := strings.TrimSpace(c.Query("page_size")); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil {
			AbortWithError(c, newValidationError("page_size", "invalid_page_size", "page_size must be a number"))
			return
		}
		req.PageSize = size
	}

	resp, err := s.billingSvc.ListInvoices(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondList(c, resp.Invoices, resp.NextPageToken)
}

// POST /api/orgs/:org_id/invoices/:id/pay
func (s *Server) PayInvoice(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req billingdomain.PayInvoiceRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}
	req.OrgID = orgIDFromContext(c)
	req.InvoiceID = id
	req.RequestID = idempotencyKeyFromHeader(c)

	invoice, err := s.billingSvc.PayInvoice(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, invoice)
}

// POST /api/orgs/:org_id/refunds
func (s *Server) Refund(c *gin.Context) {
	var req billingdomain.RefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.OrgID = orgIDFromContext(c)
	req.RequestID = idempotencyKeyFromHeader(c)

	refund, err := s.billingSvc.Refund(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, refund)
}

// GET /api/orgs/:org_id/plans
func (s *Server) ListPlans(c *gin.Context) {
	respondList(c, s.billingSvc.ListPlans(c.Request.Context()), "")
}
