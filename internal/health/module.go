package health

import (
	"context"

	"go.uber.org/fx"

	"bmscore/internal/driver"
	"bmscore/internal/storage"
)

// Module provides health check functionality to the Fx application.
var Module = fx.Module("health",
	fx.Provide(ProvideHealthService),
)

// driverChecker adapts Driver.TestConnection to the Checker interface.
type driverChecker struct {
	drv driver.Driver
}

func (d *driverChecker) Name() string { return "driver" }

func (d *driverChecker) Check(ctx context.Context) error {
	return d.drv.TestConnection(ctx)
}

// ProvideHealthService creates and configures a health service instance,
// registering checkers for the pack's Driver connection and both
// persistence sinks.
func ProvideHealthService(drv driver.Driver, pg *storage.PostgresStore, influx *storage.InfluxStore) *HealthService {
	healthService := NewHealthService()
	healthService.RegisterChecker(&driverChecker{drv: drv})
	healthService.RegisterChecker(NewDatabaseChecker("postgres", pg))
	healthService.RegisterChecker(NewDatabaseChecker("influxdb", influx))

	// Some drivers additionally report a passive connected/disconnected
	// flag; when present, surface it as its own checker alongside the
	// active TestConnection probe above.
	if svc, ok := drv.(interface{ IsConnected() bool }); ok {
		healthService.RegisterChecker(NewServiceChecker("driver_session", svc))
	}
	return healthService
}
