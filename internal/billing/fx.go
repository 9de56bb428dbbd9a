package billing

import (
	"github.com/railzwaylabs/paygate/internal/billing/reconciler"
	"github.com/railzwaylabs/paygate/internal/billing/repository"
	"github.com/railzwaylabs/paygate/internal/billing/service"
	"go.uber.org/fx"
)

var Module = fx.Module("billing",
	fx.Provide(repository.New),
	reconciler.Module,
	fx.Provide(service.New),
)
