package labeler

import (
	"testing"

	"github.com/CommonRoad/sandra/internal/actions"
	"github.com/CommonRoad/sandra/internal/config"
	"github.com/CommonRoad/sandra/internal/roads"
	"github.com/CommonRoad/sandra/internal/scenario"
)

// twoLaneScene builds a straight two-lane road, right lane lanelet 1,
// left lane lanelet 2, both 200 m long.
func twoLaneScene() *scenario.Scenario {
	straight := func(y float64) []scenario.Vec2 {
		return []scenario.Vec2{{X: 0, Y: y}, {X: 100, Y: y}, {X: 200, Y: y}}
	}
	right := &scenario.Lanelet{
		ID:                  1,
		RightVertices:       straight(0),
		CenterVertices:      straight(2),
		LeftVertices:        straight(4),
		AdjacentLeft:        2,
		AdjacentLeftSameDir: true,
	}
	left := &scenario.Lanelet{
		ID:                   2,
		RightVertices:        straight(4),
		CenterVertices:       straight(6),
		LeftVertices:         straight(8),
		AdjacentRight:        1,
		AdjacentRightSameDir: true,
	}
	return &scenario.Scenario{
		ID:             "labeler-test",
		DT:             0.2,
		LaneletNetwork: scenario.NewLaneletNetwork([]*scenario.Lanelet{right, left}),
	}
}

// drive builds an obstacle following the given velocity profile along y,
// integrating positions with the scenario step size.
func drive(id int, start scenario.Vec2, y func(step int) float64, velocities []float64, dt float64) *scenario.Obstacle {
	o := &scenario.Obstacle{
		ID:           id,
		Type:         scenario.ObstacleCar,
		Length:       5,
		Width:        2,
		InitialState: scenario.State{TimeStep: 0, Position: start, Velocity: velocities[0]},
	}
	x := start.X
	for i := 1; i < len(velocities); i++ {
		x += velocities[i-1] * dt
		o.AppendState(scenario.State{
			TimeStep: i,
			Position: scenario.Vec2{X: x, Y: y(i)},
			Velocity: velocities[i],
		})
	}
	return o
}

func egoNetAt(t *testing.T, scn *scenario.Scenario, st scenario.State) *roads.EgoLaneNetwork {
	t.Helper()
	rn, err := roads.FromPosition(scn.LaneletNetwork, st.Position)
	if err != nil {
		t.Fatalf("FromPosition: %v", err)
	}
	net, err := roads.NewEgoLaneNetwork(scn.LaneletNetwork, rn, st)
	if err != nil {
		t.Fatalf("NewEgoLaneNetwork: %v", err)
	}
	return net
}

func constVelocities(v float64, n int) []float64 {
	vs := make([]float64, n)
	for i := range vs {
		vs[i] = v
	}
	return vs
}

func TestLabelKeepFollowLane(t *testing.T) {
	scn := twoLaneScene()
	cfg := config.Default()
	o := drive(1, scenario.Vec2{X: 10, Y: 2}, func(int) float64 { return 2 }, constVelocities(20, 20), scn.DT)
	scn.AddObstacle(o)

	l := New(cfg, scn)
	got, err := l.Label(o, egoNetAt(t, scn, o.InitialState))
	if err != nil {
		t.Fatalf("Label: %v", err)
	}
	want := actions.Action{Longitudinal: actions.Keep, Lateral: actions.FollowLane}
	if got != want {
		t.Fatalf("Label = %v, want %v", got, want)
	}
}

func TestLabelStop(t *testing.T) {
	scn := twoLaneScene()
	cfg := config.Default()
	vs := []float64{10, 8, 6, 4, 2, 0.2}
	o := drive(2, scenario.Vec2{X: 10, Y: 2}, func(int) float64 { return 2 }, vs, scn.DT)
	scn.AddObstacle(o)

	lon, err := New(cfg, scn).LongitudinalLabel(o)
	if err != nil {
		t.Fatalf("LongitudinalLabel: %v", err)
	}
	if lon != actions.Stop {
		t.Fatalf("longitudinal = %v, want %v", lon, actions.Stop)
	}
}

func TestLabelAccelerateAndDecelerate(t *testing.T) {
	scn := twoLaneScene()
	cfg := config.Default()
	l := New(cfg, scn)

	up := drive(3, scenario.Vec2{X: 10, Y: 2}, func(int) float64 { return 2 },
		[]float64{10, 10.5, 11, 11.5, 12}, scn.DT)
	lon, err := l.LongitudinalLabel(up)
	if err != nil {
		t.Fatalf("LongitudinalLabel: %v", err)
	}
	if lon != actions.Accelerate {
		t.Fatalf("longitudinal = %v, want %v", lon, actions.Accelerate)
	}

	down := drive(4, scenario.Vec2{X: 10, Y: 2}, func(int) float64 { return 2 },
		[]float64{20, 19.5, 19, 18.5, 18}, scn.DT)
	lon, err = l.LongitudinalLabel(down)
	if err != nil {
		t.Fatalf("LongitudinalLabel: %v", err)
	}
	if lon != actions.Decelerate {
		t.Fatalf("longitudinal = %v, want %v", lon, actions.Decelerate)
	}
}

func TestLabelChangeLeft(t *testing.T) {
	scn := twoLaneScene()
	cfg := config.Default()
	// Crosses from y=2 (lanelet 1) to y=6 (lanelet 2) halfway through.
	y := func(step int) float64 {
		if step >= 5 {
			return 6
		}
		return 2
	}
	o := drive(5, scenario.Vec2{X: 10, Y: 2}, y, constVelocities(15, 10), scn.DT)
	scn.AddObstacle(o)

	l := New(cfg, scn)
	lat := l.LateralLabel(o, egoNetAt(t, scn, o.InitialState))
	if lat != actions.ChangeLeft {
		t.Fatalf("lateral = %v, want %v", lat, actions.ChangeLeft)
	}
}

func TestLabelNoTrajectory(t *testing.T) {
	scn := twoLaneScene()
	cfg := config.Default()
	o := &scenario.Obstacle{ID: 6, InitialState: scenario.State{Position: scenario.Vec2{X: 10, Y: 2}}}
	if _, err := New(cfg, scn).LongitudinalLabel(o); err == nil {
		t.Fatal("expected error for empty trajectory")
	}
}

func TestAugmentAccelerations(t *testing.T) {
	scn := twoLaneScene()
	o := drive(7, scenario.Vec2{X: 0, Y: 2}, func(int) float64 { return 2 },
		[]float64{10, 11, 12}, scn.DT)
	accels := AugmentAccelerations(o, scn.DT)
	if len(accels) != 2 {
		t.Fatalf("got %d accelerations, want 2", len(accels))
	}
	if accels[0] != 5 || accels[1] != 5 {
		t.Fatalf("accelerations = %v, want [5 5]", accels)
	}
	if o.InitialState.Acceleration != 5 || o.Trajectory[0].Acceleration != 5 {
		t.Fatalf("states not augmented: %v, %v", o.InitialState.Acceleration, o.Trajectory[0].Acceleration)
	}
}
