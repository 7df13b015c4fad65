// Package driver defines the transport-facing boundary described in spec
// §6: a Driver knows how to talk to one physical BMS and populate a
// pack.PackState tick by tick; everything upstream of it (SoC, voltage,
// current, the orchestrator) is transport-agnostic.
package driver

import (
	"context"

	"bmscore/internal/pack"
)

// Settings is the one-time, mostly-static snapshot a driver reports at
// startup: nameplate values the orchestrator folds into Config-derived
// Params rather than re-reading every tick.
type Settings struct {
	HardwareVersion         string
	UniqueID                string
	CapacityAh              float64
	MaxBatteryChargeCurrent *float64
	MaxBatteryDischargeCurrent *float64
	MinBatteryVoltage       *float64
	MaxBatteryVoltage       *float64
}

// Driver is the boundary every transport-specific implementation
// satisfies. Every method is required; a driver with nothing to do in
// TriggerSoCReset implements it as an empty method. The four operator
// commands are the separate optional interfaces declared below.
type Driver interface {
	// TestConnection verifies the transport is reachable without
	// mutating any pack state.
	TestConnection(ctx context.Context) error

	// GetSettings reads the one-time nameplate snapshot. Called once, from
	// the orchestrator's Start; a reconnect does not call it again.
	GetSettings(ctx context.Context) (Settings, error)

	// RefreshData populates ps with this tick's telemetry. A returned
	// error means the tick is unusable; the orchestrator treats it as a
	// disconnect and calls ps.InitValues().
	RefreshData(ctx context.Context, ps *pack.PackState) error

	// TriggerSoCReset is the hook the voltage controller calls exactly
	// once, on the tick it first enters Float Transition. The orchestrator
	// has already snapped the coulomb counter to full (soc.TriggerReset)
	// before it calls this, so a driver only adds any hardware-side action
	// here; a driver with none leaves the method empty.
	TriggerSoCReset(ps *pack.PackState)
}

// The four optional command interfaces below mirror battery.py's
// reset_soc_callback/force_charging_off_callback/
// force_discharging_off_callback/turn_balancing_off_callback: inbound
// requests from an external operator (dashboard, service bus, API client)
// that a driver may or may not be able to honor on its hardware. A driver
// that doesn't implement one simply isn't type-asserted to it, and the
// orchestrator reports the request as unhandled — exactly the source's
// "return False to indicate the callback was not handled" idiom.

// SoCResetCommander lets a driver honor an operator-requested SoC reset by
// telling the pack it is authoritatively full, the same effect
// TriggerSoCReset has when the voltage controller fires it automatically.
type SoCResetCommander interface {
	ResetSoC(ctx context.Context) (handled bool, err error)
}

// ChargeOffCommander lets a driver command its charge FET open directly,
// independent of the next tick's CCL-driven permission flag.
type ChargeOffCommander interface {
	ForceChargingOff(ctx context.Context) (handled bool, err error)
}

// DischargeOffCommander is ChargeOffCommander's discharge-side counterpart.
type DischargeOffCommander interface {
	ForceDischargingOff(ctx context.Context) (handled bool, err error)
}

// BalanceOffCommander lets a driver disable active cell balancing
// regardless of what the aggregator's BalancingActive scan currently shows.
type BalanceOffCommander interface {
	TurnBalancingOff(ctx context.Context) (handled bool, err error)
}
