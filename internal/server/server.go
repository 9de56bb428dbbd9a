package server

import (
	"context"
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	billingdomain "github.com/railzwaylabs/paygate/internal/billing/domain"
	"github.com/railzwaylabs/paygate/internal/config"
	paymentdomain "github.com/railzwaylabs/paygate/internal/payment/domain"
	"github.com/railzwaylabs/paygate/internal/payment/router"
	"github.com/railzwaylabs/paygate/internal/tiersync"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Cfg      config.Config
	Webhooks paymentdomain.Service
	Billing  billingdomain.Service
	Router   *router.Router
	Tiers    *tiersync.Service
	Registry *prometheus.Registry `optional:"true"`
}

type providerSwitcher interface {
	MigrateProvider(ctx context.Context, req router.MigrateRequest) (*paymentdomain.BillingBinding, error)
	SupportingProviders(currency string, methodType paymentdomain.PaymentMethodType) []string
}

type tierService interface {
	Change(ctx context.Context, req tiersync.ChangeRequest) (*tiersync.ChangeResult, error)
	Current(ctx context.Context, orgID snowflake.ID) (string, error)
}

type Server struct {
	log             *zap.Logger
	maxPayloadBytes int64
	engine          *gin.Engine

	webhookSvc  paymentdomain.Service
	billingSvc  billingdomain.Service
	providerSvc providerSwitcher
	tierSvc     tierService
	gatherer    prometheus.Gatherer
}

func New(p Params) *Server {
	if p.Cfg.App.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	s := &Server{
		log:             p.Log.Named("server"),
		maxPayloadBytes: p.Cfg.Webhook.MaxPayloadBytes,
		webhookSvc:      p.Webhooks,
		billingSvc:      p.Billing,
		providerSvc:     p.Router,
		tierSvc:         p.Tiers,
	}
	if p.Registry != nil {
		s.gatherer = p.Registry
	}
	s.init()
	return s
}

func (s *Server) init() {
	if s.maxPayloadBytes <= 0 {
		s.maxPayloadBytes = 1 << 20
	}
	engine := gin.New()
	engine.Use(gin.Recovery(), s.RequestID(), s.AccessLog())
	s.engine = engine
	s.registerRoutes()
}

// Handler exposes the gin engine for http.Server and tests.
func (s *Server) Handler() http.Handler { return s.engine }
