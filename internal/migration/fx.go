package migration

import (
	"context"

	"github.com/railzwaylabs/paygate/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Module migrates once the database connection is up.
var Module = fx.Module("migrations",
	fx.Invoke(register(false)),
)

// OnBoot migrates only when database.auto_migrate is set, for servers that
// own their schema.
var OnBoot = fx.Module("migrations.boot",
	fx.Invoke(register(true)),
)

func register(onlyIfAuto bool) func(fx.Lifecycle, config.Config, *gorm.DB, *zap.Logger) {
	return func(lc fx.Lifecycle, cfg config.Config, db *gorm.DB, log *zap.Logger) {
		if onlyIfAuto && !cfg.Database.AutoMigrate {
			return
		}
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				return Run(ctx, cfg, db, log)
			},
		})
	}
}
