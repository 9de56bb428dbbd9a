package webhook

import (
	"context"

	paymentdomain "github.com/railzwaylabs/paygate/internal/payment/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.webhook",
	fx.Provide(
		NewService,
		func(s *Service) paymentdomain.Service { return s },
		NewWorker,
	),
	fx.Invoke(func(lc fx.Lifecycle, w *Worker) {
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error { return w.Start() },
			OnStop:  func(context.Context) error { return w.Stop() },
		})
	}),
)
