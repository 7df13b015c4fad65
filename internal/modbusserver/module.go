package modbusserver

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"bmscore/internal/config"
	"bmscore/internal/engine"
)

// Module provides the secondary Modbus publication server to the Fx
// application, mirroring the teacher's internal/modbus.Module.
var Module = fx.Module("modbusserver",
	fx.Provide(ProvideServer),
	fx.Invoke(RegisterLifecycle),
)

// ProvideServer constructs the Server from configuration and the
// orchestrator's live state.
func ProvideServer(cfg *config.Config, o *engine.Orchestrator, log *zap.Logger) (*Server, error) {
	return NewServer(cfg.ModbusOut, o, log)
}

// RegisterLifecycle starts and stops the server with the Fx application.
func RegisterLifecycle(lc fx.Lifecycle, s *Server) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return s.Start()
		},
		OnStop: func(ctx context.Context) error {
			return s.Stop(ctx)
		},
	})
}
