package prediction

import (
	"math"
	"testing"

	"github.com/CommonRoad/sandra/internal/scenario"
)

func movingObstacle() *scenario.Obstacle {
	o := &scenario.Obstacle{
		ID:           7,
		Type:         scenario.ObstacleCar,
		Length:       4.5,
		Width:        1.8,
		InitialState: scenario.State{TimeStep: 0, Position: scenario.Vec2{X: 0, Y: 0}, Velocity: 10},
	}
	o.AppendState(scenario.State{TimeStep: 1, Position: scenario.Vec2{X: 2, Y: 0}, Velocity: 10})
	return o
}

func TestConstantVelocityFollowsRecordedStates(t *testing.T) {
	steps := ConstantVelocity{}.Predict(movingObstacle(), 3, 0.2)
	if len(steps) != 4 {
		t.Fatalf("got %d steps, want 4", len(steps))
	}
	if steps[1].State.Position.X != 2 {
		t.Errorf("step 1 x = %v, want recorded 2", steps[1].State.Position.X)
	}
	// Beyond the trajectory: constant velocity, 10 m/s * 0.2 s per step.
	if got := steps[2].State.Position.X; math.Abs(got-4) > 1e-9 {
		t.Errorf("step 2 x = %v, want 4", got)
	}
	if got := steps[3].State.Position.X; math.Abs(got-6) > 1e-9 {
		t.Errorf("step 3 x = %v, want 6", got)
	}
}

func TestSetBasedGrowsUncertainty(t *testing.T) {
	steps := SetBased{AMax: 4}.Predict(movingObstacle(), 2, 0.5)
	if steps[0].HalfLength != 0 {
		t.Errorf("step 0 half length = %v, want 0", steps[0].HalfLength)
	}
	if got := steps[1].HalfLength; math.Abs(got-0.5) > 1e-9 {
		t.Errorf("step 1 half length = %v, want 0.5", got)
	}
	if got := steps[2].HalfLength; math.Abs(got-2) > 1e-9 {
		t.Errorf("step 2 half length = %v, want 2", got)
	}
}
