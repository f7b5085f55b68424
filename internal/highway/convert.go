package highway

import (
	"fmt"
	"math"
	"sort"

	"github.com/CommonRoad/sandra/internal/prediction"
	"github.com/CommonRoad/sandra/internal/scenario"
)

// vertexInterval is the sampling distance of lanelet polylines.
const vertexInterval = 10.0

// ScenarioID names a snapshot scenario of this episode at a time step.
func (sim *Simulation) ScenarioID() string {
	return fmt.Sprintf("Sandra-%d_T-%d", sim.seed, sim.step)
}

// EpisodeID names the whole recorded episode.
func (sim *Simulation) EpisodeID() string {
	hw := sim.cfg.Highway
	return fmt.Sprintf("highenv_%d_%.1f_%d", hw.LanesCount, hw.VehiclesDensity, sim.seed)
}

// LaneletNetwork builds the static road as one lanelet per lane,
// numbered 1..lanes from left to right.
func (sim *Simulation) LaneletNetwork() *scenario.LaneletNetwork {
	hw := sim.cfg.Highway
	lanelets := make([]*scenario.Lanelet, 0, hw.LanesCount)
	for lane := 0; lane < hw.LanesCount; lane++ {
		center := sim.laneCenterY(lane)
		l := &scenario.Lanelet{
			ID:             lane + 1,
			LeftVertices:   straightLine(center+hw.LaneWidth/2, hw.RoadLength),
			CenterVertices: straightLine(center, hw.RoadLength),
			RightVertices:  straightLine(center-hw.LaneWidth/2, hw.RoadLength),
		}
		if lane > 0 {
			l.AdjacentLeft = lane
			l.AdjacentLeftSameDir = true
			l.LineMarkingLeft = scenario.MarkingDashed
		} else {
			l.LineMarkingLeft = scenario.MarkingSolid
		}
		if lane < hw.LanesCount-1 {
			l.AdjacentRight = lane + 2
			l.AdjacentRightSameDir = true
			l.LineMarkingRight = scenario.MarkingDashed
		} else {
			l.LineMarkingRight = scenario.MarkingSolid
		}
		lanelets = append(lanelets, l)
	}
	return scenario.NewLaneletNetwork(lanelets)
}

func straightLine(y, length float64) []scenario.Vec2 {
	n := int(math.Ceil(length / vertexInterval))
	pts := make([]scenario.Vec2, 0, n+1)
	for i := 0; i <= n; i++ {
		x := float64(i) * vertexInterval
		if x > length {
			x = length
		}
		pts = append(pts, scenario.Vec2{X: x, Y: y})
	}
	return pts
}

// EgoObstacle snapshots the ego vehicle as a dynamic obstacle, used
// when recording the driven episode for monitoring.
func (sim *Simulation) EgoObstacle() *scenario.Obstacle {
	return &scenario.Obstacle{
		ID:           sim.Ego.ID,
		Type:         scenario.ObstacleCar,
		Length:       sim.Ego.Length,
		Width:        sim.Ego.Width,
		InitialState: sim.Ego.State(0),
	}
}

func (v *Vehicle) State(step int) scenario.State {
	return scenario.State{
		TimeStep:     step,
		Position:     scenario.Vec2{X: v.X, Y: v.Y},
		Orientation:  v.heading,
		Velocity:     v.Speed,
		Acceleration: v.accel,
	}
}

// ToScenario snapshots the current world into a scenario with
// constant-velocity obstacle predictions over the horizon, plus the
// ego as a planning problem. The ego itself is not an obstacle.
func (sim *Simulation) ToScenario(horizon int) (*scenario.Scenario, *scenario.PlanningProblem, error) {
	scn := &scenario.Scenario{
		ID:             sim.ScenarioID(),
		DT:             sim.dt,
		Source:         "highway simulation",
		Tags:           []string{"highway"},
		LaneletNetwork: sim.LaneletNetwork(),
	}

	// Nearest vehicles first, bounded by perception range.
	visible := make([]*Vehicle, 0, len(sim.Traffic))
	for _, v := range sim.Traffic {
		if math.Abs(v.X-sim.Ego.X) <= PerceptionDistance && v.X <= sim.cfg.Highway.RoadLength {
			visible = append(visible, v)
		}
	}
	sort.Slice(visible, func(i, j int) bool {
		return math.Abs(visible[i].X-sim.Ego.X) < math.Abs(visible[j].X-sim.Ego.X)
	})

	predictor := prediction.ConstantVelocity{}
	for _, v := range visible {
		o := &scenario.Obstacle{
			ID:           v.ID,
			Type:         scenario.ObstacleCar,
			Length:       v.Length,
			Width:        v.Width,
			InitialState: v.State(0),
		}
		for _, p := range predictor.Predict(o, horizon, sim.dt)[1:] {
			o.AppendState(p.State)
		}
		if err := scn.AddObstacle(o); err != nil {
			return nil, nil, err
		}
	}

	initial := sim.Ego.State(0)
	goalX := sim.Ego.X + sim.Ego.Speed*sim.dt*float64(horizon+1)
	pp := &scenario.PlanningProblem{
		ID:           10000,
		InitialState: initial,
		Goal: scenario.GoalRegion{
			Center:         scenario.Vec2{X: goalX, Y: sim.laneCenterY(sim.Ego.TargetLane)},
			Length:         sim.Ego.Length,
			Width:          sim.Ego.Width,
			TimeMin:        0,
			TimeMax:        horizon + 1,
			VelocityMin:    egoSpeedMin,
			VelocityMax:    egoSpeedMax,
			OrientationMin: -math.Pi / 2,
			OrientationMax: math.Pi / 2,
		},
	}
	scn.PlanningProblems = append(scn.PlanningProblems, pp)
	return scn, pp, nil
}
