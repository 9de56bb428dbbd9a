package server

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) registerRoutes() {
	r := s.engine

	r.GET("/healthz", s.Healthz)
	if s.gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	r.POST("/webhooks/:provider", s.HandleWebhook)
	r.GET("/api/providers", s.ListProviders)

	api := r.Group("/api/orgs/:org_id", s.OrgScope())
	{
		api.POST("/customers", s.CreateCustomer)

		api.GET("/subscriptions", s.ListSubscriptions)
		api.POST("/subscriptions", s.CreateSubscription)
		api.POST("/subscriptions/:id/cancel", s.CancelSubscription)
		api.POST("/subscriptions/:id/resume", s.ResumeSubscription)

		api.GET("/payment-methods", s.ListPaymentMethods)
		api.POST("/payment-methods", s.AddPaymentMethod)
		api.POST("/payment-methods/:id/default", s.SetDefaultPaymentMethod)
		api.DELETE("/payment-methods/:id", s.DetachPaymentMethod)

		api.GET("/invoices", s.ListInvoices)
		api.POST("/invoices/:id/pay", s.PayInvoice)
		api.POST("/refunds", s.Refund)

		api.GET("/plans", s.ListPlans)
		api.PUT("/billing-provider", s.MigrateProvider)
	}

	internal := r.Group("/internal")
	{
		internal.POST("/tiers", s.ChangeTier)
		internal.GET("/tiers/:org_id", s.GetTier)
		internal.POST("/webhooks/:provider/:event_id/replay", s.ReplayWebhook)
	}
}
