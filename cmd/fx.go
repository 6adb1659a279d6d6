package cmd

import (
	"log/slog"
	"os"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/relayhub/relay-service/config"
	httpsrv "github.com/relayhub/relay-service/infra/server/http"
	"github.com/relayhub/relay-service/internal/domain/registry"
	"github.com/relayhub/relay-service/internal/metrics"
	"github.com/relayhub/relay-service/internal/relay"
	"github.com/relayhub/relay-service/internal/service"
	"github.com/relayhub/relay-service/internal/storage"
	"go.uber.org/fx"
)

func NewApp(cfg *config.Config) *fx.App {
	return fx.New(
		fx.Provide(
			func() *config.Config { return cfg },
			ProvideLogger,
			ProvideWatermillLogger,
		),
		metrics.Module,
		registry.Module,
		storage.Module,
		relay.Module,
		service.Module,
		httpsrv.Module,
	)
}

func ProvideLogger() *slog.Logger {
	level := slog.LevelInfo
	if lvl := os.Getenv("RELAY_LOG_LEVEL"); lvl != "" {
		_ = level.UnmarshalText([]byte(lvl))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func ProvideWatermillLogger(logger *slog.Logger) watermill.LoggerAdapter {
	return watermill.NewSlogLogger(logger)
}
