package storage

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"bmscore/internal/config"
	"bmscore/internal/engine"
)

// Module provides both persistence sinks to the Fx application. InfluxStore
// is registered into the "publishers" value group the orchestrator
// collects; PostgresStore is consumed by internal/alarm's async queue
// rather than wired as a TransitionSink directly.
var Module = fx.Module("storage",
	fx.Provide(
		ProvideInfluxStore,
		ProvidePostgresStore,
		fx.Annotate(
			func(s *InfluxStore) engine.Publisher { return s },
			fx.ResultTags(`group:"publishers"`),
		),
	),
	fx.Invoke(RegisterLifecycle),
)

// ProvideInfluxStore constructs the InfluxDB telemetry sink.
func ProvideInfluxStore(cfg *config.Config, log *zap.Logger) (*InfluxStore, error) {
	return NewInfluxStore(cfg.InfluxDB, log)
}

// ProvidePostgresStore constructs the PostgreSQL audit sink.
func ProvidePostgresStore(cfg *config.Config, log *zap.Logger) (*PostgresStore, error) {
	return NewPostgresStore(cfg.PostgreSQL, log)
}

// RegisterLifecycle closes both stores on shutdown. Fx requests them
// unannotated here purely to get a typed handle for Close; the annotated
// provides above still supply the interface-typed values to consumers.
func RegisterLifecycle(lc fx.Lifecycle, influx *InfluxStore, pg *PostgresStore) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			influx.Close()
			return pg.Close()
		},
	})
}
