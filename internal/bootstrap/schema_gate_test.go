package bootstrap

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/railzwaylabs/paygate/internal/config"
	"github.com/railzwaylabs/paygate/internal/migration"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestSchemaGate(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	ctx := context.Background()

	gate, err := NewSchemaGate(db)
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&migration.SchemaState{}))
	require.ErrorIs(t, gate.MustBeActive(ctx), migration.ErrSchemaStateNotFound)

	cfg := config.Config{}
	cfg.Database.Driver = "sqlite"
	require.NoError(t, migration.Run(ctx, cfg, db, zap.NewNop()))
	require.NoError(t, gate.MustBeActive(ctx))

	require.NoError(t, db.Model(&migration.SchemaState{}).Where("id = ?", true).Update("schema_version", "0").Error)
	require.ErrorIs(t, gate.MustBeActive(ctx), ErrSchemaVersionMismatch)
}
