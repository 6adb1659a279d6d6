package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/relayhub/relay-service/config"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("storage",
	fx.Provide(NewSink),
)

// NewSink picks the storage driver from configuration. The postgres driver
// registers a lifecycle hook to close the pool on shutdown.
func NewSink(lc fx.Lifecycle, cfg *config.Config, logger *slog.Logger) (Sink, error) {
	switch cfg.Storage.Driver {
	case "memory", "":
		logger.Info("storage driver", "driver", "memory")
		return NewMemoryStore(), nil

	case "postgres":
		db, err := Connect(cfg.Storage.DSN)
		if err != nil {
			return nil, err
		}
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return closeDB(db)
			},
		})
		logger.Info("storage driver", "driver", "postgres")
		return NewPostgresStore(db, logger)

	default:
		return nil, fmt.Errorf("storage: unknown driver %q", cfg.Storage.Driver)
	}
}

func closeDB(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
