// Package protect implements the Protection aggregator (spec §4.1): a
// tri-valued hazard record populated by the driver and published through
// the API and the Modbus register map. The core never computes thresholds
// itself, and the current limiter does not read this record: charge and
// discharge are gated only by the FET states and the disconnect latch.
package protect

import "go.uber.org/zap"

// Level is one hazard's tri-valued state.
type Level int

const (
	OK Level = iota
	WARNING
	ALARM
)

func (l Level) String() string {
	switch l {
	case WARNING:
		return "WARNING"
	case ALARM:
		return "ALARM"
	default:
		return "OK"
	}
}

// Protection is the full hazard record for one tick. Drivers populate it;
// the core only reads it.
type Protection struct {
	VoltageHigh        Level
	VoltageLow         Level
	CellLow            Level
	SoCLow             Level
	CurrentOver        Level
	CurrentUnder       Level
	CellImbalance      Level
	InternalFailure    Level
	TempHighCharge     Level
	TempLowCharge      Level
	TempHighDischarge  Level
	TempLowDischarge   Level
	TempHighInternal   Level
	TempLowInternal    Level
}

// Worst returns the most severe level across every hazard field, reported by
// the API's protection view and the Modbus publication register.
func (p Protection) Worst() Level {
	worst := OK
	for _, l := range p.fields() {
		if l > worst {
			worst = l
		}
	}
	return worst
}

func (p Protection) fields() []Level {
	return []Level{
		p.VoltageHigh, p.VoltageLow, p.CellLow, p.SoCLow,
		p.CurrentOver, p.CurrentUnder, p.CellImbalance, p.InternalFailure,
		p.TempHighCharge, p.TempLowCharge, p.TempHighDischarge, p.TempLowDischarge,
		p.TempHighInternal, p.TempLowInternal,
	}
}

// namedFields pairs each hazard with a stable name for transition logging
// and audit persistence.
func (p Protection) namedFields() map[string]Level {
	return map[string]Level{
		"voltage_high":       p.VoltageHigh,
		"voltage_low":        p.VoltageLow,
		"cell_low":           p.CellLow,
		"soc_low":            p.SoCLow,
		"current_over":       p.CurrentOver,
		"current_under":      p.CurrentUnder,
		"cell_imbalance":     p.CellImbalance,
		"internal_failure":   p.InternalFailure,
		"temp_high_charge":   p.TempHighCharge,
		"temp_low_charge":    p.TempLowCharge,
		"temp_high_discharge": p.TempHighDischarge,
		"temp_low_discharge":  p.TempLowDischarge,
		"temp_high_internal":  p.TempHighInternal,
		"temp_low_internal":   p.TempLowInternal,
	}
}

// Transition is one hazard field moving from one level to another, the unit
// the alarm tracker and storage layer persist.
type Transition struct {
	Field string
	From  Level
	To    Level
}

// Diff reports every hazard field whose level differs between prev and
// current, in a stable field order. Grounded on the teacher's
// activeAlarms-map state-change idiom (internal/alarm/manager.go): only a
// transition is ever logged, never every tick's steady state.
func Diff(prev, current Protection) []Transition {
	prevFields := prev.namedFields()
	curFields := current.namedFields()
	names := []string{
		"voltage_high", "voltage_low", "cell_low", "soc_low",
		"current_over", "current_under", "cell_imbalance", "internal_failure",
		"temp_high_charge", "temp_low_charge", "temp_high_discharge", "temp_low_discharge",
		"temp_high_internal", "temp_low_internal",
	}
	var out []Transition
	for _, name := range names {
		if prevFields[name] != curFields[name] {
			out = append(out, Transition{Field: name, From: prevFields[name], To: curFields[name]})
		}
	}
	return out
}

// LogFields renders one Transition as zap fields for state-change log
// lines, mirroring the density of the teacher's alarm log calls.
func (t Transition) LogFields() []zap.Field {
	return []zap.Field{
		zap.String("hazard", t.Field),
		zap.String("from", t.From.String()),
		zap.String("to", t.To.String()),
	}
}
