// Package current implements the three-pipeline current derating and
// hysteresis-throttled limit commit described in spec §4.5.
package current

import (
	"math"
	"strings"

	"bmscore/internal/derate"
	"bmscore/internal/pack"
)

// DirectionParams configures one direction (charge or discharge) of the
// limiter.
type DirectionParams struct {
	GlobalCeiling float64
	BMSOverride   *float64 // driver-reported ceiling, overrides downward only

	CVEnable bool
	CVCurve  derate.Curve
	CVStep   bool
	CVAscending bool

	TEnable bool
	TCurve  derate.Curve
	TStep   bool
	TAscending bool

	SoCEnable bool
	SoCCurve  derate.Curve
	SoCStep   bool
	SoCAscending bool

	HardZero bool // FET open or disconnect latch: forces a 0 "BMS" candidate

	RecalculationEverySeconds float64
	RecalculationOnPercent    float64
}

// cvFallback is the value a CV-derate candidate takes when the relevant cell
// voltage reading is missing. battery.py's calcMaxDischargeCurrentReferringToCellVoltage
// returns self.max_battery_charge_current (the charge ceiling, not its own)
// on this exception path; spec §9 Open Question #2 preserves the quirk
// rather than fixing it, so the discharge pipeline is handed the charge
// ceiling explicitly while charge falls back to its own.
func cvFallback(own, chargeCeilingForDischargeFallback float64, isCharge bool) float64 {
	if isCharge {
		return own
	}
	return chargeCeilingForDischargeFallback
}

// Limiter holds no state; everything it reads or writes lives on
// pack.PackState.
type Limiter struct{}

// New returns a current Limiter.
func New() *Limiter { return &Limiter{} }

// Update computes and, subject to hysteresis, commits CCL and DCL.
func (l *Limiter) Update(ps *pack.PackState, charge, discharge DirectionParams, now float64) {
	chargeCeiling := charge.GlobalCeiling
	if charge.BMSOverride != nil && *charge.BMSOverride < chargeCeiling {
		chargeCeiling = *charge.BMSOverride
	}

	ccl, chargeReason := computeLimit(ps, charge, ps.MaxCellVoltage, true, chargeCeiling)
	commitCurrent(&ps.ControlChargeCurrent, &ps.LinearCCLLastSet, &ps.ChargeLimitationReason, ccl, chargeReason, charge, now)
	ps.ControlAllowCharge = ps.ControlChargeCurrent > 0

	dcl, dischargeReason := computeLimit(ps, discharge, ps.MinCellVoltage, false, chargeCeiling)
	commitCurrent(&ps.ControlDischargeCurrent, &ps.LinearDCLLastSet, &ps.DischargeLimitationReason, dcl, dischargeReason, discharge, now)
	ps.ControlAllowDischarge = ps.ControlDischargeCurrent > 0
}

type candidate struct {
	value  float64
	reason string
}

func computeLimit(ps *pack.PackState, p DirectionParams, cellVoltage func() *float64, charging bool, chargeCeiling float64) (float64, string) {
	ceiling := p.GlobalCeiling
	if p.BMSOverride != nil && *p.BMSOverride < ceiling {
		ceiling = *p.BMSOverride
	}
	candidates := []candidate{{ceiling, "Global"}}

	if p.CVEnable {
		tmp := cvFallback(ceiling, chargeCeiling, charging)
		if v := cellVoltage(); v != nil {
			tmp = evalCurve(p.CVCurve, *v, p.CVStep, p.CVAscending)
		}
		candidates = append(candidates, candidate{tmp, "CV"})
	}

	if p.TEnable {
		tmp := ceiling
		hot, cold := ps.MaxTemp(), ps.MinTemp()
		if hot != nil && cold != nil {
			tmp = math.Min(evalCurve(p.TCurve, *hot, p.TStep, p.TAscending), evalCurve(p.TCurve, *cold, p.TStep, p.TAscending))
		}
		candidates = append(candidates, candidate{tmp, "Temp"})
	}

	if p.SoCEnable {
		tmp := ceiling
		if ps.SoCCalc != nil {
			tmp = evalCurve(p.SoCCurve, *ps.SoCCalc, p.SoCStep, p.SoCAscending)
		}
		candidates = append(candidates, candidate{tmp, "SoC"})
	}

	if p.HardZero {
		candidates = append(candidates, candidate{0, "BMS"})
	}

	limit := candidates[0].value
	for _, c := range candidates[1:] {
		if c.value < limit {
			limit = c.value
		}
	}

	var reasons []string
	for _, c := range candidates {
		if c.value == limit {
			reasons = append(reasons, c.reason)
		}
	}

	return limit, strings.Join(reasons, "/")
}

func evalCurve(c derate.Curve, x float64, step, ascending bool) float64 {
	if step {
		return derate.Step(c, x, ascending)
	}
	return derate.Linear(c, x)
}

// commitCurrent applies §4.5's hysteresis/throttle: commit only if enough
// wall time has passed since the last commit, the new limit is exactly
// zero, or the change is large relative to the previously committed value.
func commitCurrent(committed *float64, lastSet **float64, reason *string, candidate float64, candidateReason string, p DirectionParams, now float64) {
	timeElapsed := *lastSet == nil || now-**lastSet >= p.RecalculationEverySeconds
	isZero := candidate == 0
	bigChange := false
	if *committed != 0 {
		bigChange = math.Abs(candidate-*committed) >= p.RecalculationOnPercent/100*math.Abs(*committed)
	} else {
		bigChange = candidate != 0
	}

	if !timeElapsed && !isZero && !bigChange {
		return
	}

	*committed = candidate
	*reason = candidateReason
	ts := now
	*lastSet = &ts
}
