// Command bmscore runs the battery control engine as a standalone process:
// load config, connect a driver, run the tick loop, publish to every
// configured sink, and serve the introspection API, the way the teacher's
// cmd/ems assembles its own fx.New application.
package main

import (
	"go.uber.org/fx"

	"bmscore/internal/alarm"
	"bmscore/internal/api"
	"bmscore/internal/config"
	"bmscore/internal/driver"
	"bmscore/internal/engine"
	"bmscore/internal/health"
	"bmscore/internal/logger"
	"bmscore/internal/metrics"
	"bmscore/internal/modbusserver"
	"bmscore/internal/storage"
)

func main() {
	app := fx.New(
		// Configuration
		config.Module,

		// Logging
		logger.Module,
		logger.FxLogger,

		// Persistence sinks (InfluxDB telemetry, PostgreSQL audit trail)
		storage.Module,

		// Protection-transition audit queue
		alarm.Module,

		// Host/runtime metrics
		metrics.Module,

		// BMS transport
		driver.Module,

		// Control engine: pack state, SoC, voltage, current, orchestrator
		engine.Module,

		// Secondary Modbus TCP publication surface
		modbusserver.Module,

		// Health monitoring
		health.Module,

		// Introspection API
		api.Module,
	)

	app.Run()
}
