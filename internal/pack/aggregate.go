package pack

import (
	"fmt"
	"strings"
)

// Aggregators are derived read-only queries over PackState (spec §2's
// "Aggregators" component). None of them mutate the pack; the voltage
// controller and current limiter call these every tick rather than scanning
// cells themselves.

// MinCellVoltage returns the lowest known cell voltage, preferring a
// driver-reported override over a manual scan (spec §9).
func (ps *PackState) MinCellVoltage() *float64 {
	if ps.CellMinVoltageOverride != nil {
		return ps.CellMinVoltageOverride
	}
	return extreme(ps.Cells, func(c Cell) *float64 { return c.Voltage }, less)
}

// MaxCellVoltage returns the highest known cell voltage, preferring a
// driver-reported override over a manual scan (spec §9).
func (ps *PackState) MaxCellVoltage() *float64 {
	if ps.CellMaxVoltageOverride != nil {
		return ps.CellMaxVoltageOverride
	}
	return extreme(ps.Cells, func(c Cell) *float64 { return c.Voltage }, greater)
}

// MinTemp returns the coldest of the pack's four sensor readings
// (Temp1..Temp4), grounded on battery.py's get_min_temp. TempMOS is the
// MOSFET junction sensor, not a pack temperature, and is excluded the same
// way the source excludes it.
func (ps *PackState) MinTemp() *float64 {
	return extreme([]Cell{{Temp: ps.Temp1}, {Temp: ps.Temp2}, {Temp: ps.Temp3}, {Temp: ps.Temp4}}, func(c Cell) *float64 { return c.Temp }, less)
}

// MaxTemp returns the hottest of the pack's four sensor readings
// (Temp1..Temp4), grounded on battery.py's get_max_temp.
func (ps *PackState) MaxTemp() *float64 {
	return extreme([]Cell{{Temp: ps.Temp1}, {Temp: ps.Temp2}, {Temp: ps.Temp3}, {Temp: ps.Temp4}}, func(c Cell) *float64 { return c.Temp }, greater)
}

// BalancingActive reports whether any cell currently reports an active
// balancing shunt.
func (ps *PackState) BalancingActive() bool {
	for _, c := range ps.Cells {
		if c.Balancing != nil && *c.Balancing {
			return true
		}
	}
	return false
}

// Imbalance returns max_cell_voltage - min_cell_voltage, or nil if either
// bound is unknown.
func (ps *PackState) Imbalance() *float64 {
	maxV, minV := ps.MaxCellVoltage(), ps.MinCellVoltage()
	if maxV == nil || minV == nil {
		return nil
	}
	d := *maxV - *minV
	return &d
}

// Midpoint returns the voltage at the pack's midpoint tap (sum of the lower
// half of the cell stack) and its deviation from an ideal 50% split,
// expressed as a percentage of total pack voltage. Grounded on
// battery.py's calc_voltage_midpoint; only meaningful when the caller's
// config enables it and the pack has an even, known cell stack.
func (ps *PackState) Midpoint() (midpoint, deviationPercent *float64) {
	if ps.CellCount < 2 || len(ps.Cells) < ps.CellCount {
		return nil, nil
	}
	half := ps.CellCount / 2
	var lowerSum, total float64
	for i, c := range ps.Cells {
		if c.Voltage == nil {
			return nil, nil
		}
		total += *c.Voltage
		if i < half {
			lowerSum += *c.Voltage
		}
	}
	if total == 0 {
		return nil, nil
	}
	dev := (lowerSum - total/2) / total * 100
	return &lowerSum, &dev
}

// UpdateTimeToSoC recomputes the display-only TimeToSoC cache for each
// target percent in targets, grounded on battery.py's get_timeToSoc: only
// targets reachable in the pack's current direction of travel (charging
// moves toward higher targets, discharging toward lower ones) get an
// entry, using the coulomb counter's present charge/discharge current to
// derive a percent-per-second rate rather than the source's separate
// historical-sample tracker.
func (ps *PackState) UpdateTimeToSoC(targets []int) {
	for k := range ps.TimeToSoC {
		delete(ps.TimeToSoC, k)
	}
	if ps.SoCCalc == nil || ps.Current == nil || ps.Capacity <= 0 || *ps.Current == 0 {
		return
	}

	percentPerSecond := (abs(*ps.Current) / ps.Capacity) * 100 / 3600
	charging := *ps.Current > 0

	for _, target := range targets {
		soc := float64(target)
		var diff float64
		if charging {
			diff = soc - *ps.SoCCalc
		} else {
			diff = *ps.SoCCalc - soc
		}
		if diff < 0 {
			continue
		}
		ps.TimeToSoC[target] = diff / percentPerSecond
	}
}

// UniqueIdentifier derives a fallback id from hardware version and
// capacity for a driver that doesn't report its own, grounded on
// battery.py's unique_identifier: small capacity differences (+/- a few
// Ah) are enough to tell otherwise-identical packs apart on a multi-pack
// bus.
func (ps *PackState) UniqueIdentifier() string {
	var b strings.Builder
	for _, r := range ps.HardwareVersion {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	if b.Len() > 0 {
		b.WriteByte('_')
	}
	fmt.Fprintf(&b, "%gAh", ps.Capacity)
	return b.String()
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func less(a, b float64) bool    { return a < b }
func greater(a, b float64) bool { return a > b }

func extreme(cells []Cell, pick func(Cell) *float64, better func(a, b float64) bool) *float64 {
	var result *float64
	for _, c := range cells {
		v := pick(c)
		if v == nil {
			continue
		}
		if result == nil || better(*v, *result) {
			value := *v
			result = &value
		}
	}
	return result
}
