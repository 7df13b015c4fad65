package pack

import "bmscore/internal/protect"

// PackState is the engine's mutable data model (spec §3). It is owned
// exclusively by the orchestrator and mutated only on a tick; every other
// component receives it by reference and reads or writes only the fields
// its own section of the spec names.
//
// Timestamps are monotonic seconds since an arbitrary epoch, never wall
// clock: a nil pointer means "timer not running" the way spec §9's Design
// Notes describe ("running" = Some(t), "cleared" = None).
type PackState struct {
	CellCount int
	Cells     []Cell

	// Some drivers expose pack-wide min/max cell voltage directly instead
	// of (or in addition to) per-cell readings; aggregators prefer these
	// when set (spec §9, "Balancing flag across drivers").
	CellMinVoltageOverride *float64
	CellMaxVoltageOverride *float64

	Voltage *float64
	Current *float64

	Temp1, Temp2, Temp3, Temp4, TempMOS *float64

	Capacity float64

	SoC                               *float64
	SoCCalc                           *float64
	SoCCalcCapacityRemain             *float64
	SoCCalcCapacityRemainLastTime     *float64
	SoCCalcResetStartTime             *float64

	MaxVoltageStartTime *float64
	AllowMaxVoltage     bool
	SoCResetRequested   bool
	SoCResetLastReached *float64

	TransitionStartTime   *float64
	InitialControlVoltage *float64

	ControlVoltage           *float64
	ControlChargeCurrent     float64
	ControlDischargeCurrent  float64
	ControlAllowCharge       bool
	ControlAllowDischarge    bool

	ChargeFET             *bool
	DischargeFET          *bool
	BalanceFET            *bool
	BlockBecauseDisconnect bool

	LinearCVLLastSet *float64
	LinearCCLLastSet *float64
	LinearDCLLastSet *float64

	Protection protect.Protection

	ChargeMode               string
	ChargeLimitationReason   string
	DischargeLimitationReason string

	HardwareVersion string
	UniqueID        string

	// TimeToSoC is a display-only cache: target SoC percent -> estimated
	// seconds to reach it at the current integration rate, recovered from
	// battery.py's calc_time_to_soc helpers (spec's supplemented features).
	TimeToSoC map[int]float64

	// MidpointVoltage/MidpointDeviation cache Midpoint()'s result for packs
	// with pack.MidpointEnable set; nil when disabled or not computable.
	MidpointVoltage   *float64
	MidpointDeviation *float64
}

// New constructs a PackState for a pack of cellCount cells with the given
// nameplate capacity (Ah) and runs init_values once. AllowMaxVoltage starts
// true (battery.py's init_values default) so a freshly constructed pack
// begins in Bulk, not stuck behind a Float gate it never earned.
func New(cellCount int, capacity float64) *PackState {
	ps := &PackState{CellCount: cellCount, Capacity: capacity, AllowMaxVoltage: true}
	ps.InitValues()
	return ps
}

// InitValues clears all telemetry and resets all derived control state
// except the four fields the source preserves across a restart/reconnect
// (spec §3 Lifecycle): SoCCalc, SoCResetLastReached, AllowMaxVoltage and
// MaxVoltageStartTime. The orchestrator calls this both at construction and
// again whenever the transport reports a disconnect, so the inverter never
// sees a sudden regime change purely because the link dropped.
func (ps *PackState) InitValues() {
	preservedSoCCalc := ps.SoCCalc
	preservedResetLastReached := ps.SoCResetLastReached
	preservedAllowMaxVoltage := ps.AllowMaxVoltage
	preservedMaxVoltageStartTime := ps.MaxVoltageStartTime

	cellCount := ps.CellCount
	capacity := ps.Capacity

	*ps = PackState{
		CellCount: cellCount,
		Capacity:  capacity,
		Cells:     make([]Cell, cellCount),
		TimeToSoC: make(map[int]float64),
	}

	ps.SoCCalc = preservedSoCCalc
	ps.SoCResetLastReached = preservedResetLastReached
	ps.AllowMaxVoltage = preservedAllowMaxVoltage
	ps.MaxVoltageStartTime = preservedMaxVoltageStartTime
}
