// Package voltage implements the Bulk/Absorption/Float/Transition/SoC-Reset
// state machine and per-cell overvoltage penalty regulator described in
// spec §4.4. It is the single largest component in the engine by design
// (spec §2 budgets it at ≈25% of the core).
package voltage

import (
	"math"

	"bmscore/internal/pack"
)

// Params are the subset of Config the controller needs each tick.
type Params struct {
	CVCMEnable             bool
	LinearLimitationEnable bool
	IControllerMode        bool
	IControllerFactor      float64

	MinCellVoltage   float64
	MaxCellVoltage   float64
	FloatCellVoltage float64
	SoCResetVoltage  float64
	CellCount        int

	MaxVoltageTimeSeconds              float64
	CellVoltageDiffKeepMaxUntil        float64
	CellVoltageDiffKeepMaxTimeRestart  float64
	CellVoltageDiffToResetLimit        float64
	SoCResetAfterDaysSeconds           float64
	SoCLevelToResetVoltageLimit        float64
	FloatRampRateVoltsPerSecond        float64
	LinearRecalculationEverySeconds    float64
}

// Controller holds no state; every field it reads or writes lives on
// pack.PackState.
type Controller struct{}

// New returns a voltage Controller.
func New() *Controller { return &Controller{} }

// Update runs §4.4's nine-step per-tick pipeline. triggerSoCReset is called
// exactly once, on the tick the pack first enters Float Transition, mirroring
// battery.py's trigger_soc_reset() hook.
func (vc *Controller) Update(ps *pack.PackState, p Params, now float64, triggerSoCReset func()) {
	minPackV := p.MinCellVoltage * float64(p.CellCount)

	// CVCM disabled: skip the whole state machine and just pin the ceiling,
	// mirroring battery.py's manage_charge_voltage "CVCM_ENABLE = False"
	// branch.
	if !p.CVCMEnable {
		maxPackV := p.MaxCellVoltage * float64(p.CellCount)
		ps.ControlVoltage = &maxPackV
		ps.ChargeMode = "Keep always max voltage"
		return
	}

	// Step 1: targets.
	socResetDue := ps.AllowMaxVoltage &&
		(ps.SoCResetLastReached == nil || now-*ps.SoCResetLastReached >= p.SoCResetAfterDaysSeconds)
	activeCeiling := p.MaxCellVoltage
	maxPackV := p.MaxCellVoltage * float64(p.CellCount)
	if socResetDue {
		activeCeiling = p.SoCResetVoltage
		maxPackV = p.SoCResetVoltage * float64(p.CellCount)
	}
	ps.SoCResetRequested = socResetDue

	maxCell, minCell := ps.MaxCellVoltage(), ps.MinCellVoltage()
	var imbalance *float64
	if maxCell != nil && minCell != nil {
		d := *maxCell - *minCell
		imbalance = &d
	}
	packSum := packVoltage(ps)

	if maxCell == nil || packSum == nil {
		ps.ControlVoltage = nil
		ps.ChargeMode = "--"
		return
	}

	// Step 2: penalty sum.
	penaltySum := 0.0
	for _, c := range ps.Cells {
		if c.Voltage == nil {
			continue
		}
		if over := *c.Voltage - activeCeiling; over > 0 {
			penaltySum += over
		}
	}
	penaltyActive := penaltySum > 0

	// Step 3: absorption timer. The "no timer running" and "timer running"
	// cases are mutually exclusive, matching manage_charge_voltage_linear's
	// if/else: the re-arm below only ever runs when no timer is running, so
	// it can never fire on the same tick the timer below expires and clears
	// AllowMaxVoltage.
	if ps.MaxVoltageStartTime == nil {
		switch {
		case *packSum >= maxPackV && imbalance != nil && *imbalance <= p.CellVoltageDiffKeepMaxUntil && ps.AllowMaxVoltage:
			start := now
			ps.MaxVoltageStartTime = &start
		case !ps.AllowMaxVoltage && ((ps.SoCCalc != nil && *ps.SoCCalc < p.SoCLevelToResetVoltageLimit) ||
			(imbalance != nil && *imbalance >= p.CellVoltageDiffToResetLimit)):
			ps.AllowMaxVoltage = true
		}
	} else {
		if imbalance != nil && *imbalance > p.CellVoltageDiffKeepMaxTimeRestart {
			restart := now
			ps.MaxVoltageStartTime = &restart
		}
		if now-*ps.MaxVoltageStartTime >= p.MaxVoltageTimeSeconds {
			ps.AllowMaxVoltage = false
			ps.MaxVoltageStartTime = nil
		}
		if ps.MaxVoltageStartTime != nil && *packSum < maxPackV-0.5 {
			ps.MaxVoltageStartTime = nil
		}
	}

	inAbsorption := ps.MaxVoltageStartTime != nil

	var raw float64
	var stage string

	if p.LinearLimitationEnable {
		raw, stage = vc.linearCVL(ps, p, penaltyActive, penaltySum, packSum, inAbsorption, maxPackV, minPackV, now, triggerSoCReset)
	} else {
		raw, stage = vc.stepCVL(ps, p, now, inAbsorption, maxPackV, triggerSoCReset)
	}

	// Step 5: I-controller alternative.
	if p.IControllerMode && ps.ControlVoltage != nil {
		raw = *ps.ControlVoltage - (*maxCell - activeCeiling - p.CellVoltageDiffKeepMaxUntil)*p.IControllerFactor
		raw = clamp(raw, minPackV, maxPackV)
	} else {
		raw = clamp(raw, minPackV, maxPackV)
	}

	mode := stage
	if socResetDue {
		mode += " & SoC Reset"
	}
	if ps.AllowMaxVoltage && ps.BalancingActive() && imbalance != nil && *imbalance >= p.CellVoltageDiffToResetLimit {
		mode += " + Balancing"
	}
	if p.LinearLimitationEnable {
		mode += " (Linear Mode)"
	} else {
		mode += " (Step Mode)"
	}
	ps.ChargeMode = mode

	// Step 8: change throttle. Only the dynamic (linear, penalty-engaged)
	// branch is throttled; everything else commits unthrottled.
	dynamic := p.LinearLimitationEnable && ps.AllowMaxVoltage && penaltyActive
	if dynamic && ps.LinearCVLLastSet != nil && now-*ps.LinearCVLLastSet < p.LinearRecalculationEverySeconds {
		return
	}
	ps.ControlVoltage = &raw
	if dynamic {
		committed := now
		ps.LinearCVLLastSet = &committed
	}
}

// linearCVL implements §4.4 step 4's linear branch plus the Float ramp.
func (vc *Controller) linearCVL(ps *pack.PackState, p Params, penaltyActive bool, penaltySum float64, packSum *float64, inAbsorption bool, maxPackV, minPackV, now float64, triggerSoCReset func()) (float64, string) {
	if ps.AllowMaxVoltage {
		ps.TransitionStartTime = nil
		ps.InitialControlVoltage = nil
		if penaltyActive {
			raw := clamp(*packSum-penaltySum, minPackV, maxPackV)
			if inAbsorption {
				return raw, "Absorption dynamic"
			}
			return raw, "Bulk dynamic"
		}
		if inAbsorption {
			return maxPackV, "Absorption"
		}
		return maxPackV, "Bulk"
	}

	// Reset the excursion timer the moment the pack enters Float, mirroring
	// manage_charge_voltage_linear's "reset bulk when going into float".
	// Without this, a nil SoCResetLastReached reads as "always due" and the
	// excursion never disarms.
	if ps.SoCResetRequested {
		ps.SoCResetRequested = false
		reached := now
		ps.SoCResetLastReached = &reached
	}

	floatV := p.FloatCellVoltage * float64(p.CellCount)
	if ps.TransitionStartTime == nil {
		start := now
		ps.TransitionStartTime = &start
		initial := floatV
		if ps.ControlVoltage != nil {
			initial = *ps.ControlVoltage
		}
		ps.InitialControlVoltage = &initial
		if triggerSoCReset != nil {
			triggerSoCReset()
		}
	}

	elapsed := now - *ps.TransitionStartTime
	ramped := *ps.InitialControlVoltage - p.FloatRampRateVoltsPerSecond*elapsed
	if ramped <= floatV {
		return floatV, "Float"
	}
	return ramped, "Float Transition"
}

// stepCVL implements §4.4 step 6: no penalty regulator, no ramp.
func (vc *Controller) stepCVL(ps *pack.PackState, p Params, now float64, inAbsorption bool, maxPackV float64, triggerSoCReset func()) (float64, string) {
	if ps.AllowMaxVoltage {
		if inAbsorption {
			return maxPackV, "Absorption"
		}
		return maxPackV, "Bulk"
	}
	if ps.SoCResetRequested {
		ps.SoCResetRequested = false
		reached := now
		ps.SoCResetLastReached = &reached
	}
	if ps.TransitionStartTime != nil || ps.InitialControlVoltage != nil {
		ps.TransitionStartTime = nil
		ps.InitialControlVoltage = nil
	}
	if triggerSoCReset != nil && ps.ControlVoltage != nil && *ps.ControlVoltage > p.FloatCellVoltage*float64(p.CellCount) {
		triggerSoCReset()
	}
	return p.FloatCellVoltage * float64(p.CellCount), "Float"
}

func packVoltage(ps *pack.PackState) *float64 {
	if ps.Voltage != nil {
		return ps.Voltage
	}
	var sum float64
	for _, c := range ps.Cells {
		if c.Voltage == nil {
			return nil
		}
		sum += *c.Voltage
	}
	if len(ps.Cells) == 0 {
		return nil
	}
	return &sum
}

func clamp(v, lo, hi float64) float64 {
	if lo > hi {
		lo, hi = hi, lo
	}
	return math.Max(lo, math.Min(hi, v))
}
