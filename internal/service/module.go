package service

import (
	"log/slog"

	"github.com/relayhub/relay-service/internal/dispatch"
	"github.com/relayhub/relay-service/internal/metrics"
	"github.com/relayhub/relay-service/internal/relay"
	"github.com/relayhub/relay-service/internal/storage"
	"go.uber.org/fx"
)

var Module = fx.Module("service",
	fx.Provide(
		NewHandlerRegistry,
		dispatch.NewDispatcher,
	),
)

// NewHandlerRegistry enumerates every supported message kind in one place.
// Adding a kind means adding a handler here; nothing is discovered at
// runtime.
func NewHandlerRegistry(store storage.Sink, relayer relay.Relayer, logger *slog.Logger, m *metrics.Metrics) *dispatch.HandlerRegistry {
	return dispatch.NewHandlerRegistry(logger,
		NewMessageCreateHandler(store, relayer, logger, m),
		NewMessageUpdateHandler(store, relayer, logger, m),
		NewMessageDeleteHandler(store, relayer, logger, m),
		NewReactionAddHandler(store, relayer, logger, m),
		NewReactionRemoveHandler(store, relayer, logger, m),
		NewVoiceStateHandler(store, relayer, logger, m),
		NewCommandResultHandler(store, relayer, logger, m),
		NewMetricSampleHandler(store, relayer, logger, m),
		NewGuildChangeHandler(store, relayer, logger, m),
	)
}
