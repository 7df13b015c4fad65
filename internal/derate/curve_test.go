package derate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCurveValidate(t *testing.T) {
	require.NoError(t, Curve{X: []float64{0, 1}, Y: []float64{1, 0}}.Validate())
	require.Error(t, Curve{}.Validate())
	require.Error(t, Curve{X: []float64{0, 1, 2}, Y: []float64{1, 0}}.Validate())
}

func TestLinearInterpolatesWithinSegment(t *testing.T) {
	c := Curve{X: []float64{0, 15, 45, 55}, Y: []float64{50, 100, 50, 0}}

	assert.InDelta(t, 100, Linear(c, 15), 1e-9)
	assert.InDelta(t, 75, Linear(c, 7.5), 1e-9)
	assert.InDelta(t, 25, Linear(c, 50), 1e-9)
	assert.InDelta(t, 0, Linear(c, 55), 1e-9)
}

func TestLinearClampsOutOfRangeInput(t *testing.T) {
	c := Curve{X: []float64{0, 15, 45, 55}, Y: []float64{50, 100, 50, 0}}

	assert.InDelta(t, 50, Linear(c, -100), 1e-9)
	assert.InDelta(t, 0, Linear(c, 1000), 1e-9)
}

func TestLinearSinglePointCurve(t *testing.T) {
	c := Curve{X: []float64{3.4}, Y: []float64{10}}
	assert.InDelta(t, 10, Linear(c, -5), 1e-9)
	assert.InDelta(t, 10, Linear(c, 100), 1e-9)
}

func TestLinearDescendingX(t *testing.T) {
	// Over-temperature derate example (spec §8 scenario F) with its points
	// listed in descending X order: 55C -> 0A.
	c := Curve{X: []float64{55, 45, 15, 0}, Y: []float64{0, 50, 100, 50}}
	assert.InDelta(t, 0, Linear(c, 55), 1e-9)
}

func TestStepAscendingInclusiveUpperEndpoint(t *testing.T) {
	// Ascending: "<=" comparison, first threshold the value does not exceed.
	c := Curve{X: []float64{0, 10, 20}, Y: []float64{100, 50, 0}}

	assert.Equal(t, 100.0, Step(c, -5, true))
	assert.Equal(t, 100.0, Step(c, 0, true))
	assert.Equal(t, 50.0, Step(c, 10, true))
	assert.Equal(t, 50.0, Step(c, 7, true))
	assert.Equal(t, 0.0, Step(c, 20, true))
	assert.Equal(t, 0.0, Step(c, 1000, true))
}

func TestStepDescendingInclusiveLowerEndpoint(t *testing.T) {
	// Descending: ">=" comparison, first threshold the value does not fall below.
	c := Curve{X: []float64{20, 10, 0}, Y: []float64{100, 50, 0}}

	assert.Equal(t, 100.0, Step(c, 25, false))
	assert.Equal(t, 100.0, Step(c, 20, false))
	assert.Equal(t, 50.0, Step(c, 15, false))
	assert.Equal(t, 50.0, Step(c, 10, false))
	assert.Equal(t, 0.0, Step(c, 5, false))
	assert.Equal(t, 0.0, Step(c, -100, false))
}
