package driver

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"bmscore/internal/config"
)

// Module provides the reference Modbus Driver implementation to the Fx
// application. A deployment targeting different hardware swaps this
// module for one that provides the same Driver interface.
var Module = fx.Module("driver",
	fx.Provide(ProvideDriver),
)

// ProvideDriver constructs the reference ModbusDriver from configuration.
func ProvideDriver(cfg *config.Config, log *zap.Logger) Driver {
	return NewModbusDriver(ModbusConfig{
		Host:           cfg.Driver.Host,
		Port:           cfg.Driver.Port,
		SlaveID:        cfg.Driver.SlaveID,
		Timeout:        cfg.Driver.Timeout,
		ReconnectDelay: cfg.Driver.ReconnectDelay,
		CellCount:      cfg.Driver.CellCount,
		CapacityAh:     cfg.Pack.Capacity,
	}, log)
}
