// Package prediction projects obstacle motion over the decision
// horizon, either as the most-likely trajectory or as a set-based
// occupancy with growing longitudinal uncertainty.
package prediction

import (
	"github.com/CommonRoad/sandra/internal/scenario"
)

// Step is one predicted obstacle state. HalfLength is the additional
// longitudinal uncertainty beyond the vehicle body on each side.
type Step struct {
	State      scenario.State
	HalfLength float64
}

// Predictor produces per-step predictions for an obstacle, index 0
// being the obstacle's current state.
type Predictor interface {
	Predict(o *scenario.Obstacle, steps int, dt float64) []Step
}

// ConstantVelocity follows the recorded trajectory where available and
// extrapolates with constant velocity along the heading beyond it.
type ConstantVelocity struct{}

func (ConstantVelocity) Predict(o *scenario.Obstacle, steps int, dt float64) []Step {
	out := make([]Step, 0, steps+1)
	last := o.InitialState
	for t := 0; t <= steps; t++ {
		if st, ok := o.StateAt(o.InitialState.TimeStep + t); ok {
			last = st
		} else {
			last = extrapolate(last, dt)
		}
		out = append(out, Step{State: last})
	}
	return out
}

// SetBased widens the constant-velocity prediction by an uncertainty
// interval growing quadratically with the assumed acceleration bound.
type SetBased struct {
	// AMax bounds the obstacle's unknown acceleration (m/s^2).
	AMax float64
}

func (p SetBased) Predict(o *scenario.Obstacle, steps int, dt float64) []Step {
	out := ConstantVelocity{}.Predict(o, steps, dt)
	for t := range out {
		elapsed := float64(t) * dt
		out[t].HalfLength = 0.5 * p.AMax * elapsed * elapsed
	}
	return out
}

func extrapolate(st scenario.State, dt float64) scenario.State {
	next := st
	next.TimeStep++
	next.Position = st.Position.Add(st.Direction().Scale(st.Velocity * dt))
	next.Acceleration = 0
	return next
}
