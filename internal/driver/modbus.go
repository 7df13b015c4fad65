package driver

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"bmscore/internal/pack"
	pkgmodbus "bmscore/pkg/modbus"
	"bmscore/pkg/utils"
)

// Modbus register layout for the reference driver. Base data is one
// contiguous input-register block; cell voltages are read in
// MaxRegistersPerRead-sized chunks the way the teacher's cell reader does,
// so a pack with more cells than one request can carry is still covered.
// Per-cell temperatures are not read.
const (
	regVoltage     = 0x0000 // uint16, 0.01V
	regCurrent     = 0x0001 // int16, 0.1A
	regTemp1       = 0x0002 // int16, 0.1C
	regTemp2       = 0x0003
	regTemp3       = 0x0004
	regTemp4       = 0x0005
	regTempMOS     = 0x0006
	regSoC         = 0x0007 // uint16, 0.1%
	regChargeFET   = 0x0008 // 0/1
	regDischgFET   = 0x0009 // 0/1
	regBalanceFET  = 0x000A // 0/1
	regCellVBase   = 0x0100 // uint16 per cell, 0.001V
)

// ModbusConfig is the subset of config.DriverConfig the driver needs.
type ModbusConfig struct {
	Host           string
	Port           int
	SlaveID        byte
	Timeout        time.Duration
	ReconnectDelay time.Duration
	CellCount      int
	CapacityAh     float64
}

// ModbusDriver is the reference Driver implementation: a single Modbus TCP
// base-unit talking cell voltages, temperatures and pack aggregates,
// grounded on the teacher's BMS Modbus client conventions.
type ModbusDriver struct {
	cfg    ModbusConfig
	client *pkgmodbus.Client
	log    *zap.Logger
}

// NewModbusDriver constructs a ModbusDriver for the given endpoint.
func NewModbusDriver(cfg ModbusConfig, log *zap.Logger) *ModbusDriver {
	return &ModbusDriver{
		cfg:    cfg,
		client: pkgmodbus.NewClient(cfg.Host, cfg.Port, cfg.SlaveID, cfg.Timeout),
		log:    log.With(zap.String("component", "modbus_driver")),
	}
}

// TestConnection verifies the endpoint answers. If the tick loop already
// holds an open session it trusts that session rather than tearing it
// down just to prove it works; otherwise it probes with a connect/
// disconnect cycle that leaves no session open behind it.
func (d *ModbusDriver) TestConnection(ctx context.Context) error {
	if d.client.IsConnected() {
		return nil
	}
	if err := d.client.Connect(ctx); err != nil {
		return fmt.Errorf("modbus driver: test connection: %w", err)
	}
	d.client.Disconnect()
	return nil
}

// IsConnected reports whether the underlying Modbus session is currently
// open, satisfying health.ServiceChecker's service interface.
func (d *ModbusDriver) IsConnected() bool {
	return d.client.IsConnected()
}

// GetSettings reads the one-time nameplate block. The reference layout
// carries no independently configurable ceilings, so the returned limits
// are nil and the engine falls back to its configured global ceilings.
func (d *ModbusDriver) GetSettings(ctx context.Context) (Settings, error) {
	if !d.client.IsConnected() {
		if err := d.client.Connect(ctx); err != nil {
			return Settings{}, fmt.Errorf("modbus driver: connect: %w", err)
		}
	}
	return Settings{
		HardwareVersion: "modbus-reference-v1",
		UniqueID:        fmt.Sprintf("%s:%d/%d", d.cfg.Host, d.cfg.Port, d.cfg.SlaveID),
		CapacityAh:      d.cfg.CapacityAh,
	}, nil
}

// RefreshData reads base aggregates and every cell's voltage for this
// tick. A read failure anywhere returns an error, which the orchestrator
// treats as a full disconnect; the client also marks itself disconnected
// when the failure is not a Modbus exception response.
func (d *ModbusDriver) RefreshData(ctx context.Context, ps *pack.PackState) error {
	if !d.client.IsConnected() {
		if err := d.reconnect(ctx); err != nil {
			return err
		}
	}

	base, err := d.client.ReadInputRegisters(ctx, regVoltage, regBalanceFET-regVoltage+1)
	if err != nil {
		return fmt.Errorf("modbus driver: read base registers: %w", err)
	}
	d.decodeBase(ps, base)

	if err := d.readCells(ctx, ps); err != nil {
		return fmt.Errorf("modbus driver: read cells: %w", err)
	}

	return nil
}

func (d *ModbusDriver) decodeBase(ps *pack.PackState, data []byte) {
	word := func(reg int) []byte { return data[reg*2 : reg*2+2] }

	voltage := utils.Scale(utils.FromBytes[uint16](word(regVoltage-regVoltage)), 0.01)
	current := utils.Scale(utils.FromBytes[int16](word(regCurrent-regVoltage)), 0.1)
	soc := utils.Scale(utils.FromBytes[uint16](word(regSoC-regVoltage)), 0.1)

	ps.Voltage = &voltage
	ps.Current = &current
	ps.SoC = &soc

	t1 := utils.Scale(utils.FromBytes[int16](word(regTemp1-regVoltage)), 0.1)
	t2 := utils.Scale(utils.FromBytes[int16](word(regTemp2-regVoltage)), 0.1)
	t3 := utils.Scale(utils.FromBytes[int16](word(regTemp3-regVoltage)), 0.1)
	t4 := utils.Scale(utils.FromBytes[int16](word(regTemp4-regVoltage)), 0.1)
	tmos := utils.Scale(utils.FromBytes[int16](word(regTempMOS-regVoltage)), 0.1)
	ps.Temp1, ps.Temp2, ps.Temp3, ps.Temp4, ps.TempMOS = &t1, &t2, &t3, &t4, &tmos

	chargeFET := utils.FromBytes[uint16](word(regChargeFET-regVoltage)) != 0
	dischargeFET := utils.FromBytes[uint16](word(regDischgFET-regVoltage)) != 0
	balanceFET := utils.FromBytes[uint16](word(regBalanceFET-regVoltage)) != 0
	ps.ChargeFET, ps.DischargeFET, ps.BalanceFET = &chargeFET, &dischargeFET, &balanceFET
}

// readCells reads cell voltages in MaxRegistersPerRead-sized chunks, the
// way the teacher's BMS cell reader splits a rack's register block across
// multiple requests rather than assuming a single read covers it.
func (d *ModbusDriver) readCells(ctx context.Context, ps *pack.PackState) error {
	if len(ps.Cells) != ps.CellCount {
		ps.Cells = make([]pack.Cell, ps.CellCount)
	}

	const chunk = pkgmodbus.MaxRegistersPerRead
	for offset := 0; offset < ps.CellCount; offset += chunk {
		count := chunk
		if offset+count > ps.CellCount {
			count = ps.CellCount - offset
		}
		data, err := d.client.ReadInputRegisters(ctx, uint16(regCellVBase+offset), uint16(count))
		if err != nil {
			return err
		}
		for i := 0; i < count; i++ {
			raw := utils.FromBytes[uint16](data[i*2 : i*2+2])
			v := utils.Scale(raw, 0.001)
			ps.Cells[offset+i].Voltage = &v
		}
	}
	return nil
}

// reconnect mirrors the teacher's poll-loop reconnect procedure: disconnect
// first to clear any half-open socket, then attempt a single connect. The
// orchestrator's own tick loop supplies the retry cadence.
func (d *ModbusDriver) reconnect(ctx context.Context) error {
	d.client.Disconnect()
	if err := d.client.Connect(ctx); err != nil {
		d.log.Warn("modbus reconnect failed", zap.Error(err))
		return fmt.Errorf("modbus driver: reconnect: %w", err)
	}
	d.log.Info("modbus reconnected")
	return nil
}

// TriggerSoCReset has no hardware-side effect for this transport; the
// engine's own coulomb counter handles the reset entirely in software.
func (d *ModbusDriver) TriggerSoCReset(ps *pack.PackState) {}

// ForceChargingOff writes the charge FET coil directly, satisfying
// driver.ChargeOffCommander. Always handled: the reference register map
// has a dedicated coil for this.
func (d *ModbusDriver) ForceChargingOff(ctx context.Context) (bool, error) {
	if err := d.client.WriteSingleCoil(ctx, regChargeFET, 0); err != nil {
		return false, fmt.Errorf("modbus driver: force charging off: %w", err)
	}
	return true, nil
}

// ForceDischargingOff is ForceChargingOff's discharge-side counterpart,
// satisfying driver.DischargeOffCommander.
func (d *ModbusDriver) ForceDischargingOff(ctx context.Context) (bool, error) {
	if err := d.client.WriteSingleCoil(ctx, regDischgFET, 0); err != nil {
		return false, fmt.Errorf("modbus driver: force discharging off: %w", err)
	}
	return true, nil
}

// TurnBalancingOff writes the balance FET coil off, satisfying
// driver.BalanceOffCommander.
func (d *ModbusDriver) TurnBalancingOff(ctx context.Context) (bool, error) {
	if err := d.client.WriteSingleCoil(ctx, regBalanceFET, 0); err != nil {
		return false, fmt.Errorf("modbus driver: turn balancing off: %w", err)
	}
	return true, nil
}

// ResetSoC has no hardware-side effect for this transport; the orchestrator
// snaps the coulomb counter to full in software once this reports handled,
// satisfying driver.SoCResetCommander.
func (d *ModbusDriver) ResetSoC(ctx context.Context) (bool, error) {
	return true, nil
}
