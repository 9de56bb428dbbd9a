package payment

import (
	"context"
	"net/http"

	"github.com/railzwaylabs/paygate/internal/config"
	"github.com/railzwaylabs/paygate/internal/observability"
	"github.com/railzwaylabs/paygate/internal/payment/adapters"
	"github.com/railzwaylabs/paygate/internal/payment/adapters/stripe"
	"github.com/railzwaylabs/paygate/internal/payment/adapters/xendit"
	"github.com/railzwaylabs/paygate/internal/payment/domain"
	"github.com/railzwaylabs/paygate/internal/payment/repository"
	"github.com/railzwaylabs/paygate/internal/payment/repository/scylla"
	"github.com/railzwaylabs/paygate/internal/payment/router"
	"github.com/railzwaylabs/paygate/internal/payment/webhook"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("payment",
	fx.Provide(NewRegistry),
	fx.Provide(repository.NewBindingRepository),
	fx.Provide(NewLedger),
	router.Module,
	webhook.Module,
)

// NewRegistry wires every supported provider. Adding a provider is one
// factory here; nothing else changes.
func NewRegistry(cfg config.Config, metrics *observability.Metrics) *adapters.Registry {
	client := &http.Client{Timeout: cfg.Providers.Timeout}
	return adapters.NewRegistry(
		stripe.NewFactory(stripe.Options{
			BaseURL:   cfg.Providers.StripeAPIURL,
			Timeout:   cfg.Providers.Timeout,
			Tolerance: cfg.Webhook.SignatureTolerance,
			Client:    client,
			Metrics:   metrics,
		}),
		xendit.NewFactory(xendit.Options{
			BaseURL: cfg.Providers.XenditAPIURL,
			Timeout: cfg.Providers.Timeout,
			Client:  client,
			Metrics: metrics,
		}),
	)
}

// NewLedger selects the webhook ledger backend.
func NewLedger(lc fx.Lifecycle, cfg config.Config, db *gorm.DB, log *zap.Logger) (domain.LedgerRepository, error) {
	if cfg.Webhook.LedgerBackend != "scylla" {
		return repository.NewLedgerRepository(db), nil
	}

	session, err := scylla.NewSession(cfg.Scylla)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			session.Close()
			return nil
		},
	})
	log.Named("payment").Info("webhook ledger on scylla",
		zap.Strings("hosts", cfg.Scylla.Hosts),
		zap.String("keyspace", cfg.Scylla.Keyspace),
	)
	return scylla.NewLedger(session), nil
}
