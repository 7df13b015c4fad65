// Package pack holds the engine's mutable data model: per-cell telemetry,
// pack totals and the control state the orchestrator carries tick to tick.
package pack

// Cell is one position in the pack's cell array. Every field is optional:
// a missing reading keeps the pointer nil rather than using a sentinel
// value, so a stale or unsupported register never silently participates in
// arithmetic.
type Cell struct {
	Voltage   *float64
	Temp      *float64
	Balancing *bool
}
