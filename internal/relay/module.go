package relay

import (
	"context"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/relayhub/relay-service/config"
	"github.com/relayhub/relay-service/internal/domain/registry"
	"github.com/relayhub/relay-service/internal/metrics"
	"go.uber.org/fx"
)

var Module = fx.Module("relay",
	fx.Provide(
		newSinks,
		fx.Annotate(
			func(hub registry.Hubber, cfg *config.Config, s sinks, logger *slog.Logger, m *metrics.Metrics) *Service {
				return NewService(hub, cfg, s.http, s.amqp, logger, m)
			},
			fx.As(new(Relayer)),
		),
	),
)

// sinks bundles the optional external legs so fx can provide them even
// when disabled (as nils inside the struct).
type sinks struct {
	http ExternalSink
	amqp Publisher
}

func newSinks(lc fx.Lifecycle, cfg *config.Config, logger *slog.Logger, wmLogger watermill.LoggerAdapter) (sinks, error) {
	var s sinks

	if cfg.Sink.HTTP.URL != "" {
		s.http = NewHTTPSink(cfg.Sink.HTTP.URL, cfg.Sink.HTTP.Timeout, logger)
	}

	if cfg.Sink.AMQP.Enabled {
		amqpSink, err := NewAMQPSink(cfg.Sink.AMQP.URL, cfg.Sink.AMQP.Exchange, wmLogger)
		if err != nil {
			return sinks{}, err
		}
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return amqpSink.Close()
			},
		})
		s.amqp = amqpSink
	}

	return s, nil
}
