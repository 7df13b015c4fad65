package modbusserver

import (
	"go.uber.org/zap"

	gomodbus "github.com/simonvetter/modbus"

	"bmscore/internal/pack"
)

// StateReader is the read-only view the handler needs of the live pack.
// internal/engine.Orchestrator satisfies this directly.
type StateReader interface {
	State() *pack.PackState
}

// RequestHandler implements gomodbus.RequestHandler, republishing the
// engine's regulated outputs as input registers for a SCADA/inverter poller,
// grounded on the teacher's internal/modbus.RequestHandler (§4.4/§4.5's
// outputs in place of the teacher's BMS/PCS data blocks).
type RequestHandler struct {
	state StateReader
	log   *zap.Logger
}

// NewRequestHandler constructs a RequestHandler over state.
func NewRequestHandler(state StateReader, log *zap.Logger) *RequestHandler {
	return &RequestHandler{state: state, log: log.With(zap.String("component", "modbusserver_handler"))}
}

// HandleCoils rejects all coil requests: the publication surface is
// read-only, it never accepts a write-side command.
func (h *RequestHandler) HandleCoils(req *gomodbus.CoilsRequest) ([]bool, error) {
	return nil, gomodbus.ErrIllegalFunction
}

// HandleDiscreteInputs rejects all discrete-input requests; this map has
// none.
func (h *RequestHandler) HandleDiscreteInputs(req *gomodbus.DiscreteInputsRequest) ([]bool, error) {
	return nil, gomodbus.ErrIllegalFunction
}

// HandleHoldingRegisters rejects writes (the engine's outputs are not
// externally settable) and mirrors the same fixed block on reads.
func (h *RequestHandler) HandleHoldingRegisters(req *gomodbus.HoldingRegistersRequest) ([]uint16, error) {
	if req.IsWrite {
		return nil, gomodbus.ErrIllegalFunction
	}
	return h.readRegisters(req.Addr, req.Quantity)
}

// HandleInputRegisters serves the fixed output block and the per-cell
// voltage block.
func (h *RequestHandler) HandleInputRegisters(req *gomodbus.InputRegistersRequest) ([]uint16, error) {
	return h.readRegisters(req.Addr, req.Quantity)
}

func (h *RequestHandler) readRegisters(addr, quantity uint16) ([]uint16, error) {
	if quantity == 0 || quantity > 125 {
		return nil, gomodbus.ErrIllegalDataValue
	}

	ps := h.state.State()
	result := make([]uint16, quantity)

	for i := range quantity {
		reg := addr + i
		val, ok := h.registerValue(ps, reg)
		if !ok {
			h.log.Warn("read from unmapped register", zap.Uint16("address", reg))
			return nil, gomodbus.ErrIllegalDataAddress
		}
		result[i] = val
	}
	return result, nil
}

func (h *RequestHandler) registerValue(ps *pack.PackState, reg uint16) (uint16, bool) {
	if reg >= CellVoltageBase {
		idx := int(reg - CellVoltageBase)
		if idx >= len(ps.Cells) {
			return 0, false
		}
		v := ps.Cells[idx].Voltage
		if v == nil {
			return 0, true
		}
		return uint16(*v * 1000), true
	}

	switch reg {
	case RegVoltage:
		return optUint16(ps.Voltage, 100), true
	case RegCurrent:
		return optInt16(ps.Current, 10), true
	case RegSoCCalc:
		return optUint16(ps.SoCCalc, 100), true
	case RegControlVoltage:
		return optUint16(ps.ControlVoltage, 100), true
	case RegControlChargeCur:
		return uint16(ps.ControlChargeCurrent * 10), true
	case RegControlDischCur:
		return uint16(ps.ControlDischargeCurrent * 10), true
	case RegAllowCharge:
		return boolReg(ps.ControlAllowCharge), true
	case RegAllowDischarge:
		return boolReg(ps.ControlAllowDischarge), true
	case RegProtectionWorst:
		return uint16(ps.Protection.Worst()), true
	default:
		return 0, false
	}
}

func optUint16(v *float64, scale float64) uint16 {
	if v == nil {
		return 0
	}
	return uint16(*v * scale)
}

func optInt16(v *float64, scale float64) uint16 {
	if v == nil {
		return 0
	}
	return uint16(int16(*v * scale))
}

func boolReg(b bool) uint16 {
	if b {
		return 1
	}
	return 0
}
