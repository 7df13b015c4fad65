// Package api exposes a read-mostly introspection surface over the running
// engine: pack telemetry, computed limits, protection status and liveness,
// grounded on the teacher's gin handler idiom (internal/api/handlers.go)
// but slimmed to the single orchestrator this core drives instead of a
// fleet of BMS/PCS/PLC/wind-farm managers.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"bmscore/internal/engine"
	"bmscore/internal/health"
	"bmscore/internal/pack"
)

// Handlers holds the dependencies every route needs.
type Handlers struct {
	orchestrator *engine.Orchestrator
	health       *health.HealthService
	log          *zap.Logger
}

// NewHandlers creates a new handlers instance.
func NewHandlers(orchestrator *engine.Orchestrator, healthService *health.HealthService, logger *zap.Logger) *Handlers {
	return &Handlers{
		orchestrator: orchestrator,
		health:       healthService,
		log:          logger.With(zap.String("component", "api_handlers")),
	}
}

// cellView is the JSON-facing projection of one pack.Cell.
type cellView struct {
	Voltage   *float64 `json:"voltage,omitempty"`
	Temp      *float64 `json:"temp,omitempty"`
	Balancing *bool    `json:"balancing,omitempty"`
}

// packView is the JSON-facing projection of pack.PackState's telemetry.
type packView struct {
	Voltage      *float64   `json:"voltage,omitempty"`
	Current      *float64   `json:"current,omitempty"`
	SoC          *float64   `json:"soc,omitempty"`
	SoCCalc      *float64   `json:"soc_calc,omitempty"`
	Temp1        *float64   `json:"temp1,omitempty"`
	Temp2        *float64   `json:"temp2,omitempty"`
	Temp3        *float64   `json:"temp3,omitempty"`
	Temp4        *float64   `json:"temp4,omitempty"`
	TempMOS      *float64   `json:"temp_mos,omitempty"`
	Cells        []cellView `json:"cells,omitempty"`
	MinCellV     *float64   `json:"min_cell_voltage,omitempty"`
	MaxCellV     *float64   `json:"max_cell_voltage,omitempty"`
	Imbalance    *float64   `json:"imbalance,omitempty"`
	ChargeFET    *bool      `json:"charge_fet,omitempty"`
	DischargeFET *bool      `json:"discharge_fet,omitempty"`
	BalanceFET   *bool      `json:"balance_fet,omitempty"`
	HardwareVer  string          `json:"hardware_version,omitempty"`
	UniqueID     string          `json:"unique_id,omitempty"`
	Disconnected bool            `json:"disconnected"`
	TimeToSoC    map[int]float64 `json:"time_to_soc,omitempty"`
	MidpointV    *float64        `json:"midpoint_voltage,omitempty"`
	MidpointDev  *float64        `json:"midpoint_deviation_percent,omitempty"`
}

func toPackView(ps *pack.PackState) packView {
	cells := make([]cellView, 0, len(ps.Cells))
	for _, c := range ps.Cells {
		cells = append(cells, cellView{Voltage: c.Voltage, Temp: c.Temp, Balancing: c.Balancing})
	}
	return packView{
		Voltage: ps.Voltage, Current: ps.Current,
		SoC: ps.SoC, SoCCalc: ps.SoCCalc,
		Temp1: ps.Temp1, Temp2: ps.Temp2, Temp3: ps.Temp3, Temp4: ps.Temp4, TempMOS: ps.TempMOS,
		Cells:        cells,
		MinCellV:     ps.MinCellVoltage(),
		MaxCellV:     ps.MaxCellVoltage(),
		Imbalance:    ps.Imbalance(),
		ChargeFET:    ps.ChargeFET,
		DischargeFET: ps.DischargeFET,
		BalanceFET:   ps.BalanceFET,
		HardwareVer:  ps.HardwareVersion,
		UniqueID:     ps.UniqueID,
		Disconnected: ps.BlockBecauseDisconnect,
		TimeToSoC:    ps.TimeToSoC,
		MidpointV:    ps.MidpointVoltage,
		MidpointDev:  ps.MidpointDeviation,
	}
}

// GetPack returns the current pack telemetry snapshot.
func (h *Handlers) GetPack(c *gin.Context) {
	c.JSON(http.StatusOK, toPackView(h.orchestrator.State()))
}

// limitsView is the JSON-facing projection of the control setpoints.
type limitsView struct {
	ControlVoltage          *float64 `json:"control_voltage,omitempty"`
	ControlChargeCurrent    float64  `json:"control_charge_current"`
	ControlDischargeCurrent float64  `json:"control_discharge_current"`
	AllowCharge             bool     `json:"allow_charge"`
	AllowDischarge          bool     `json:"allow_discharge"`
	ChargeMode              string   `json:"charge_mode"`
	ChargeLimitReason       string   `json:"charge_limitation_reason,omitempty"`
	DischargeLimitReason    string   `json:"discharge_limitation_reason,omitempty"`
}

// GetLimits returns the engine's currently committed CVL/CCL/DCL setpoints
// and permission flags.
func (h *Handlers) GetLimits(c *gin.Context) {
	ps := h.orchestrator.State()
	c.JSON(http.StatusOK, limitsView{
		ControlVoltage:          ps.ControlVoltage,
		ControlChargeCurrent:    ps.ControlChargeCurrent,
		ControlDischargeCurrent: ps.ControlDischargeCurrent,
		AllowCharge:             ps.ControlAllowCharge,
		AllowDischarge:          ps.ControlAllowDischarge,
		ChargeMode:              ps.ChargeMode,
		ChargeLimitReason:       ps.ChargeLimitationReason,
		DischargeLimitReason:    ps.DischargeLimitationReason,
	})
}

// protectionView is the JSON-facing projection of protect.Protection.
type protectionView struct {
	VoltageHigh       string `json:"voltage_high"`
	VoltageLow        string `json:"voltage_low"`
	CellLow           string `json:"cell_low"`
	SoCLow            string `json:"soc_low"`
	CurrentOver       string `json:"current_over"`
	CurrentUnder      string `json:"current_under"`
	CellImbalance     string `json:"cell_imbalance"`
	InternalFailure   string `json:"internal_failure"`
	TempHighCharge    string `json:"temp_high_charge"`
	TempLowCharge     string `json:"temp_low_charge"`
	TempHighDischarge string `json:"temp_high_discharge"`
	TempLowDischarge  string `json:"temp_low_discharge"`
	TempHighInternal  string `json:"temp_high_internal"`
	TempLowInternal   string `json:"temp_low_internal"`
	Worst             string `json:"worst"`
}

// GetProtection returns the current hazard record.
func (h *Handlers) GetProtection(c *gin.Context) {
	p := h.orchestrator.State().Protection
	c.JSON(http.StatusOK, protectionView{
		VoltageHigh:       p.VoltageHigh.String(),
		VoltageLow:        p.VoltageLow.String(),
		CellLow:           p.CellLow.String(),
		SoCLow:            p.SoCLow.String(),
		CurrentOver:       p.CurrentOver.String(),
		CurrentUnder:      p.CurrentUnder.String(),
		CellImbalance:     p.CellImbalance.String(),
		InternalFailure:   p.InternalFailure.String(),
		TempHighCharge:    p.TempHighCharge.String(),
		TempLowCharge:     p.TempLowCharge.String(),
		TempHighDischarge: p.TempHighDischarge.String(),
		TempLowDischarge:  p.TempLowDischarge.String(),
		TempHighInternal:  p.TempHighInternal.String(),
		TempLowInternal:   p.TempLowInternal.String(),
		Worst:             p.Worst().String(),
	})
}

// commandResponse reports whether an operator-issued command (spec §6's
// four optional driver callbacks) was honored by the wired driver.
type commandResponse struct {
	Handled bool   `json:"handled"`
	Error   string `json:"error,omitempty"`
}

func (h *Handlers) runCommand(c *gin.Context, cmd func(context.Context) error) {
	err := cmd(c.Request.Context())
	switch {
	case err == nil:
		c.JSON(http.StatusOK, commandResponse{Handled: true})
	case errors.Is(err, engine.ErrCommandNotHandled):
		c.JSON(http.StatusNotImplemented, commandResponse{Handled: false, Error: err.Error()})
	default:
		h.log.Warn("command failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, commandResponse{Handled: false, Error: err.Error()})
	}
}

// ResetSoC requests the driver honor an operator-issued SoC reset.
func (h *Handlers) ResetSoC(c *gin.Context) {
	h.runCommand(c, h.orchestrator.RequestSoCReset)
}

// ForceChargingOff requests the driver open the charge FET directly.
func (h *Handlers) ForceChargingOff(c *gin.Context) {
	h.runCommand(c, h.orchestrator.RequestForceChargingOff)
}

// ForceDischargingOff requests the driver open the discharge FET directly.
func (h *Handlers) ForceDischargingOff(c *gin.Context) {
	h.runCommand(c, h.orchestrator.RequestForceDischargingOff)
}

// TurnBalancingOff requests the driver disable active cell balancing.
func (h *Handlers) TurnBalancingOff(c *gin.Context) {
	h.runCommand(c, h.orchestrator.RequestBalancingOff)
}

// HealthCheck runs every registered checker and reports overall status.
func (h *Handlers) HealthCheck(c *gin.Context) {
	results := h.health.CheckAll(c.Request.Context())
	overall := h.health.GetOverallStatus(results)

	status := http.StatusOK
	if overall == health.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, gin.H{
		"status":    overall,
		"checks":    results,
		"timestamp": time.Now().UTC(),
	})
}
