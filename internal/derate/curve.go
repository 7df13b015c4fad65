// Package derate implements the two piecewise interpolation primitives
// spec §4.2 builds every derating pipeline from: a monotone-in-evaluation-
// order linear ramp and a threshold-crossing step function.
package derate

import "fmt"

// Curve is a pair of parallel arrays evaluated in array order. X need not be
// monotonic in value, only in the order segments are meant to be walked;
// segments must cover the input domain the caller evaluates against.
type Curve struct {
	X []float64
	Y []float64
}

// Validate checks the shape invariants Linear and Step both rely on.
func (c Curve) Validate() error {
	if len(c.X) == 0 || len(c.Y) == 0 {
		return fmt.Errorf("derate: curve must have at least one point")
	}
	if len(c.X) != len(c.Y) {
		return fmt.Errorf("derate: X and Y must be the same length, got %d and %d", len(c.X), len(c.Y))
	}
	return nil
}

// Linear clamps x to [min(X), max(X)], finds the bracketing segment and
// returns the linearly interpolated Y. A single-point curve returns that
// point's Y unconditionally.
func Linear(c Curve, x float64) float64 {
	lo, hi := bounds(c.X)
	if x < lo {
		x = lo
	}
	if x > hi {
		x = hi
	}

	if len(c.X) == 1 {
		return c.Y[0]
	}

	for i := 0; i < len(c.X)-1; i++ {
		xi, xi1 := c.X[i], c.X[i+1]
		inSegment := (xi <= x && x <= xi1) || (xi1 <= x && x <= xi)
		if !inSegment {
			continue
		}
		if xi1 == xi {
			return c.Y[i]
		}
		yi, yi1 := c.Y[i], c.Y[i+1]
		return yi + (x-xi)*(yi1-yi)/(xi1-xi)
	}

	// x sits exactly at the last breakpoint within floating tolerance.
	return c.Y[len(c.Y)-1]
}

// Step returns the Y of the first segment whose X threshold is crossed.
// ascending selects the comparison direction: true means the curve is
// walked with "<=" (inclusive at the upper endpoint), false means ">="
// (inclusive at the lower endpoint) per spec §4.2's edge policy.
func Step(c Curve, x float64, ascending bool) float64 {
	for i, threshold := range c.X {
		if ascending {
			if x <= threshold {
				return c.Y[i]
			}
		} else {
			if x >= threshold {
				return c.Y[i]
			}
		}
	}
	return c.Y[len(c.Y)-1]
}

func bounds(xs []float64) (lo, hi float64) {
	lo, hi = xs[0], xs[0]
	for _, x := range xs {
		if x < lo {
			lo = x
		}
		if x > hi {
			hi = x
		}
	}
	return lo, hi
}
