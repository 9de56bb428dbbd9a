package router

import "go.uber.org/fx"

var Module = fx.Module("payment.router",
	fx.Provide(New),
)
