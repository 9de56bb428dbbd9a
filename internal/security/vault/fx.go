package vault

import (
	"github.com/railzwaylabs/paygate/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("security.vault",
	fx.Provide(
		func(cfg config.Config) (Provider, error) {
			return NewAESVault(cfg.Vault.AESKey)
		},
	),
)
