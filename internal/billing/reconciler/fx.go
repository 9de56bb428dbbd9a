package reconciler

import "go.uber.org/fx"

var Module = fx.Module("billing.reconciler",
	fx.Provide(New),
)
