package archive

import (
	"context"

	"github.com/railzwaylabs/paygate/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("archive",
	fx.Provide(func(cfg config.Config, log *zap.Logger) (Store, error) {
		if !cfg.Archive.Enabled {
			return Nop{}, nil
		}
		return NewS3Store(context.Background(), cfg.Archive, log)
	}),
)
