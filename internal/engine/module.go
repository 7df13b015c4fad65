package engine

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"bmscore/internal/config"
	"bmscore/internal/driver"
)

// Module provides the orchestrator and wires its lifecycle into the Fx
// application, mirroring the teacher's ems.Module.
var Module = fx.Module("engine",
	fx.Provide(ProvideOrchestrator),
	fx.Invoke(RegisterLifecycle),
)

// ProvideOrchestrator builds the Orchestrator from its already-provided
// dependencies. Publishers are collected from the "publishers" value group
// (the storage module adds the InfluxDB sink to it); the TransitionSink is
// the single optional value the alarm module provides. Either may be absent.
func ProvideOrchestrator(cfg *config.Config, log *zap.Logger, drv driver.Driver, in OrchestratorParams) *Orchestrator {
	return New(cfg, log, drv, in.Publishers, in.Sink)
}

// OrchestratorParams collects the optional fan-out dependencies: a value
// group of Publishers and an optional TransitionSink.
type OrchestratorParams struct {
	fx.In

	Publishers []Publisher     `group:"publishers"`
	Sink       TransitionSink  `optional:"true"`
}

// RegisterLifecycle starts and stops the orchestrator's tick loop with the
// Fx application.
func RegisterLifecycle(lc fx.Lifecycle, o *Orchestrator) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return o.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			return o.Stop(ctx)
		},
	})
}
