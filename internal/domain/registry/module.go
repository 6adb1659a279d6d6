package registry

import (
	"context"
	"log/slog"

	"github.com/relayhub/relay-service/config"
	"go.uber.org/fx"
)

var Module = fx.Module("registry",
	fx.Provide(
		func(cfg *config.Config, logger *slog.Logger) *Hub {
			return NewHub(logger,
				WithSendBuffer(cfg.Registry.SendBuffer),
				WithSendTimeout(cfg.Registry.SendTimeout),
			)
		},
		fx.Annotate(
			func(h *Hub) Hubber { return h },
			fx.As(new(Hubber)),
		),
	),
	fx.Invoke(func(lc fx.Lifecycle, h Hubber) {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				h.Shutdown()
				return nil
			},
		})
	}),
)
