package tiersync

import "go.uber.org/fx"

var Module = fx.Module("tiersync",
	fx.Provide(New),
)
