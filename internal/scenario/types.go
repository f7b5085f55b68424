// Package scenario models driving scenes in the CommonRoad style:
// a lanelet network, dynamic obstacles with recorded or predicted
// trajectories, and a planning problem for the ego vehicle. Scenes are
// persisted as XML for the rule-monitoring and analysis tooling.
package scenario

import (
	"fmt"
	"math"
)

// Vec2 is a planar point or vector.
type Vec2 struct {
	X float64
	Y float64
}

// Add returns v + w.
func (v Vec2) Add(w Vec2) Vec2 { return Vec2{v.X + w.X, v.Y + w.Y} }

// Sub returns v - w.
func (v Vec2) Sub(w Vec2) Vec2 { return Vec2{v.X - w.X, v.Y - w.Y} }

// Scale returns v scaled by f.
func (v Vec2) Scale(f float64) Vec2 { return Vec2{v.X * f, v.Y * f} }

// Dot returns the dot product of v and w.
func (v Vec2) Dot(w Vec2) float64 { return v.X*w.X + v.Y*w.Y }

// Norm returns the Euclidean length of v.
func (v Vec2) Norm() float64 { return math.Hypot(v.X, v.Y) }

// Dist returns the distance between v and w.
func (v Vec2) Dist(w Vec2) float64 { return v.Sub(w).Norm() }

// State is a single kinematic state of a vehicle.
type State struct {
	TimeStep     int
	Position     Vec2
	Orientation  float64
	Velocity     float64
	Acceleration float64
}

// Direction returns the unit heading vector of the state.
func (s State) Direction() Vec2 {
	return Vec2{math.Cos(s.Orientation), math.Sin(s.Orientation)}
}

// ObstacleType classifies dynamic obstacles.
type ObstacleType string

const (
	ObstacleCar        ObstacleType = "car"
	ObstacleTruck      ObstacleType = "truck"
	ObstacleBus        ObstacleType = "bus"
	ObstacleBicycle    ObstacleType = "bicycle"
	ObstaclePedestrian ObstacleType = "pedestrian"
)

// Obstacle is a dynamic traffic participant with a rectangular shape,
// an initial state and a trajectory. For input scenarios the trajectory
// is a prediction; for recorded scenarios it is the driven path.
type Obstacle struct {
	ID           int
	Type         ObstacleType
	Length       float64
	Width        float64
	InitialState State
	Trajectory   []State
}

// StateAt returns the state at the given time step. The initial state
// carries its own time step, which trimmed recordings start above zero;
// later steps come from the trajectory.
func (o *Obstacle) StateAt(step int) (State, bool) {
	if step == o.InitialState.TimeStep {
		return o.InitialState, true
	}
	for _, s := range o.Trajectory {
		if s.TimeStep == step {
			return s, true
		}
	}
	return State{}, false
}

// FinalState returns the last trajectory state, or the initial state
// for obstacles without a trajectory.
func (o *Obstacle) FinalState() State {
	if len(o.Trajectory) == 0 {
		return o.InitialState
	}
	return o.Trajectory[len(o.Trajectory)-1]
}

// AppendState extends the recorded trajectory.
func (o *Obstacle) AppendState(s State) {
	o.Trajectory = append(o.Trajectory, s)
}

// States returns initial state plus trajectory in time order.
func (o *Obstacle) States() []State {
	states := make([]State, 0, len(o.Trajectory)+1)
	states = append(states, o.InitialState)
	states = append(states, o.Trajectory...)
	return states
}

// GoalRegion is the target set of the planning problem.
type GoalRegion struct {
	Center         Vec2
	Length         float64
	Width          float64
	TimeMin        int
	TimeMax        int
	VelocityMin    float64
	VelocityMax    float64
	OrientationMin float64
	OrientationMax float64
}

// PlanningProblem describes the ego task: an initial state and a goal.
type PlanningProblem struct {
	ID           int
	InitialState State
	Goal         GoalRegion
}

// Scenario is a complete scene.
type Scenario struct {
	ID               string
	DT               float64
	Author           string
	Affiliation      string
	Source           string
	Tags             []string
	LaneletNetwork   *LaneletNetwork
	Obstacles        []*Obstacle
	PlanningProblems []*PlanningProblem
}

// ObstacleByID returns the obstacle with the given ID, or nil.
func (s *Scenario) ObstacleByID(id int) *Obstacle {
	for _, o := range s.Obstacles {
		if o.ID == id {
			return o
		}
	}
	return nil
}

// AddObstacle appends an obstacle, rejecting duplicate IDs.
func (s *Scenario) AddObstacle(o *Obstacle) error {
	if s.ObstacleByID(o.ID) != nil {
		return fmt.Errorf("duplicate obstacle id %d", o.ID)
	}
	s.Obstacles = append(s.Obstacles, o)
	return nil
}

// FirstPlanningProblem returns the scenario's planning problem.
func (s *Scenario) FirstPlanningProblem() (*PlanningProblem, error) {
	if len(s.PlanningProblems) == 0 {
		return nil, fmt.Errorf("scenario %s has no planning problem", s.ID)
	}
	return s.PlanningProblems[0], nil
}

// egoMatchTolerance is the maximum distance between the planning
// problem initial position and an obstacle's initial position for that
// obstacle to count as the recorded ego vehicle.
const egoMatchTolerance = 0.1

// EgoVehicle returns the dynamic obstacle representing the ego vehicle
// of the given planning problem, or nil if none matches.
func (s *Scenario) EgoVehicle(pp *PlanningProblem) *Obstacle {
	for _, o := range s.Obstacles {
		if o.InitialState.Position.Dist(pp.InitialState.Position) < egoMatchTolerance {
			return o
		}
	}
	return nil
}
