package bootstrap

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// EnforceSchemaGate stops startup until the database carries the schema this
// binary was built with. Register it after migration.Module when the server
// migrates on boot.
func EnforceSchemaGate(lc fx.Lifecycle, gate SchemaGate, log *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := gate.MustBeActive(ctx); err != nil {
				return err
			}
			log.Named("bootstrap").Debug("schema gate passed")
			return nil
		},
	})
}
