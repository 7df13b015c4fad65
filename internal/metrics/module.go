package metrics

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"bmscore/internal/storage"
)

// Module provides host/runtime metrics collection to the Fx application.
var Module = fx.Module("metrics",
	fx.Provide(ProvideManager),
	fx.Invoke(RegisterLifecycle),
)

// ProvideManager creates and provides a metrics manager instance.
func ProvideManager(influx *storage.InfluxStore, logger *zap.Logger) *Manager {
	return NewManager(influx, logger)
}

// RegisterLifecycle starts and stops the Manager with the Fx application.
func RegisterLifecycle(lc fx.Lifecycle, manager *Manager, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return manager.Start()
		},
		OnStop: func(ctx context.Context) error {
			manager.Stop()
			return nil
		},
	})
}
