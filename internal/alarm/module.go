package alarm

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"bmscore/internal/engine"
	"bmscore/internal/storage"
)

// Module provides the asynchronous Protection-transition persistence layer
// to the Fx application, supplying engine.TransitionSink.
var Module = fx.Module("alarm",
	fx.Provide(
		ProvideManager,
		func(m *Manager) engine.TransitionSink { return m },
	),
	fx.Invoke(RegisterLifecycle),
)

// ProvideManager creates and provides an alarm manager instance.
func ProvideManager(pg *storage.PostgresStore, logger *zap.Logger) *Manager {
	return NewManager(pg, logger)
}

// RegisterLifecycle registers lifecycle hooks for the alarm manager.
func RegisterLifecycle(lc fx.Lifecycle, manager *Manager) {
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
