package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/relayhub/relay-service/config"
	handlerhttp "github.com/relayhub/relay-service/internal/handler/http"
	"github.com/relayhub/relay-service/internal/handler/ws"
	"go.uber.org/fx"
)

var Module = fx.Module("http-server",
	fx.Provide(
		ws.NewWSHandler,
		handlerhttp.NewDiagnosticsHandler,
		NewRouter,
	),
	fx.Invoke(Register),
)

func NewRouter(wsHandler *ws.WSHandler, diag *handlerhttp.DiagnosticsHandler, promReg *prometheus.Registry) chi.Router {
	r := chi.NewRouter()
	r.Handle("/ws", wsHandler)
	r.Get("/connections", diag.Connections)
	r.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
	return r
}

// Register starts the HTTP listener with the fx lifecycle and shuts it
// down gracefully on stop.
func Register(lc fx.Lifecycle, cfg *config.Config, router chi.Router, logger *slog.Logger) {
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				logger.Info("http server listening", "addr", cfg.Server.Addr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("http server failed", "error", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}
