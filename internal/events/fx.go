package events

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/railzwaylabs/paygate/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("events",
	fx.Provide(NewConn),
	fx.Provide(func(conn *nats.Conn, cfg config.Config, log *zap.Logger) *Bus {
		return NewBus(conn, cfg.NATS.SubjectPrefix, cfg.NATS.QueueGroup, log)
	}),
	fx.Provide(func(b *Bus) Publisher { return b }),
)

// NewConn connects to NATS when enabled and returns nil otherwise.
func NewConn(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (*nats.Conn, error) {
	if !cfg.NATS.Enabled {
		return nil, nil
	}
	conn, err := nats.Connect(cfg.NATS.URL,
		nats.Name(cfg.App.Name),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	log.Info("connected to NATS", zap.String("url", cfg.NATS.URL))

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return conn.Drain()
		},
	})
	return conn, nil
}
