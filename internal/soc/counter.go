// Package soc implements the coulomb counter and SoC endpoint recalibration
// described in spec §4.3: integrate corrected current into a remaining-
// capacity accumulator, then snap to a rail when voltage and dwell
// conditions confirm the pack is actually full or empty.
package soc

import (
	"math"

	"go.uber.org/zap"

	"bmscore/internal/pack"
)

// Params are the subset of Config the counter needs, passed in by the
// engine each tick rather than importing internal/config directly (keeps
// this package testable without a full Config value).
type Params struct {
	Enable            bool
	MaxCellVoltage    float64
	MinCellVoltage    float64
	ResetCurrent      float64
	ResetTimeSeconds  float64
	VoltageDrop       float64
	CalibrationSlope  float64
	CalibrationBias   float64
	CellCount         int
}

// Counter carries no state of its own; every field it touches lives on
// pack.PackState so a disconnect/reconnect cycle (which re-runs InitValues)
// naturally resets or preserves the right things.
type Counter struct {
	log *zap.Logger
}

// New returns a Counter that logs endpoint-snap events through log.
func New(log *zap.Logger) *Counter {
	return &Counter{log: log.With(zap.String("component", "soc_counter"))}
}

// Update runs one tick of §4.3's five numbered steps against ps, given the
// monotonic clock reading now (seconds).
func (c *Counter) Update(ps *pack.PackState, p Params, now float64) {
	if !p.Enable {
		if ps.SoC != nil {
			v := *ps.SoC
			ps.SoCCalc = &v
		}
		return
	}

	if ps.Current == nil || ps.Capacity <= 0 {
		return
	}

	correctedCurrent := *ps.Current*p.CalibrationSlope + p.CalibrationBias

	c.seedRemainIfUnset(ps, p)

	dt := 0.0
	if ps.SoCCalcCapacityRemainLastTime != nil {
		dt = now - *ps.SoCCalcCapacityRemainLastTime
		if dt < 0 {
			dt = 0
		}
	}
	lastTime := now
	ps.SoCCalcCapacityRemainLastTime = &lastTime

	remain := *ps.SoCCalcCapacityRemain
	remain += correctedCurrent * dt / 3600
	remain = clamp(remain, 0, ps.Capacity)
	ps.SoCCalcCapacityRemain = &remain

	c.evaluateEndpointSnap(ps, p, now)

	remain = *ps.SoCCalcCapacityRemain
	calc := math.Round(clamp(remain/ps.Capacity*100, 0, 100)*100) / 100
	ps.SoCCalc = &calc
}

// seedRemainIfUnset implements §4.3's first-tick initialization, preserving
// Open Question #1 exactly: the persisted-soc_calc branch is consulted
// before the BMS-reported soc branch, and it guards on self.soc (not
// self.soc_calc) — see DESIGN.md for the full justification.
func (c *Counter) seedRemainIfUnset(ps *pack.PackState, p Params) {
	if ps.SoCCalcCapacityRemain != nil {
		return
	}
	var remain float64
	switch {
	case ps.SoCCalc != nil:
		if ps.SoC != nil && *ps.SoC > 0 {
			remain = ps.Capacity * (*ps.SoCCalc) / 100
		} else {
			remain = 0
		}
	case ps.SoC != nil:
		remain = ps.Capacity * (*ps.SoC) / 100
	default:
		remain = ps.Capacity
	}
	ps.SoCCalcCapacityRemain = &remain
}

func (c *Counter) evaluateEndpointSnap(ps *pack.PackState, p Params, now float64) {
	minCell := ps.MinCellVoltage()
	maxPackV := p.MaxCellVoltage * float64(p.CellCount)

	fullCondition := minCell != nil && *minCell > 0.99*p.MaxCellVoltage &&
		ps.Current != nil && math.Abs(*ps.Current) < p.ResetCurrent &&
		ps.Voltage != nil && *ps.Voltage >= maxPackV-p.VoltageDrop

	var perCellDrop float64
	if p.CellCount > 0 {
		perCellDrop = p.VoltageDrop / float64(p.CellCount)
	}
	emptyCondition := minCell != nil && *minCell < 1.01*p.MinCellVoltage &&
		*minCell-perCellDrop <= p.MinCellVoltage

	switch {
	case fullCondition:
		dwell := c.dwell(ps, now)
		if dwell >= p.ResetTimeSeconds && *ps.SoCCalcCapacityRemain != ps.Capacity {
			full := ps.Capacity
			ps.SoCCalcCapacityRemain = &full
			c.log.Info("coulomb counter snapped to full endpoint",
				zap.Float64("dwell_seconds", dwell),
				zap.Float64("capacity_ah", ps.Capacity))
		}
	case emptyCondition:
		dwell := c.dwell(ps, now)
		if dwell >= p.ResetTimeSeconds && *ps.SoCCalcCapacityRemain != 0 {
			zero := 0.0
			ps.SoCCalcCapacityRemain = &zero
			c.log.Info("coulomb counter snapped to empty endpoint",
				zap.Float64("dwell_seconds", dwell))
		}
	default:
		// Spec §4.3 step 4: a single failing tick restarts the dwell
		// clock, it does not merely pause it (Open Question #3).
		start := now
		ps.SoCCalcResetStartTime = &start
	}
}

func (c *Counter) dwell(ps *pack.PackState, now float64) float64 {
	if ps.SoCCalcResetStartTime == nil {
		start := now
		ps.SoCCalcResetStartTime = &start
		return 0
	}
	return now - *ps.SoCCalcResetStartTime
}

// TriggerReset implements the no-op driver hook's effect (spec §4.6): the
// core assumes SoC = 100% whenever it fires, regardless of the coulomb
// counter's running integration.
func TriggerReset(ps *pack.PackState) {
	full := ps.Capacity
	ps.SoCCalcCapacityRemain = &full
	calc := 100.0
	ps.SoCCalc = &calc
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
