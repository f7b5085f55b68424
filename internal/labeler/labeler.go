// Package labeler assigns high-level action labels to driven trajectories.
// The labels serve as ground truth when comparing ranked decisions against
// what a recorded vehicle actually did.
package labeler

import (
	"fmt"
	"math"

	"github.com/CommonRoad/sandra/internal/actions"
	"github.com/CommonRoad/sandra/internal/config"
	"github.com/CommonRoad/sandra/internal/roads"
	"github.com/CommonRoad/sandra/internal/scenario"
)

// TrajectoryLabeler derives one (longitudinal, lateral) label from a
// dynamic obstacle's full trajectory.
type TrajectoryLabeler struct {
	cfg *config.Config
	scn *scenario.Scenario
}

// New returns a labeler bound to a scenario.
func New(cfg *config.Config, scn *scenario.Scenario) *TrajectoryLabeler {
	return &TrajectoryLabeler{cfg: cfg, scn: scn}
}

// Label classifies the trajectory of an obstacle relative to its lane
// network at the start of the recording.
func (l *TrajectoryLabeler) Label(o *scenario.Obstacle, net *roads.EgoLaneNetwork) (actions.Action, error) {
	lon, err := l.LongitudinalLabel(o)
	if err != nil {
		return actions.Action{}, err
	}
	lat := l.LateralLabel(o, net)
	return actions.Action{Longitudinal: lon, Lateral: lat}, nil
}

// AugmentAccelerations fills in state accelerations from finite velocity
// differences. Recorded datasets often ship without acceleration data.
func AugmentAccelerations(o *scenario.Obstacle, dt float64) []float64 {
	states := o.States()
	if len(states) < 2 {
		return nil
	}
	accels := make([]float64, len(states)-1)
	for i := 1; i < len(states); i++ {
		accels[i-1] = (states[i].Velocity - states[i-1].Velocity) / dt
	}
	o.InitialState.Acceleration = accels[0]
	for i := range o.Trajectory {
		if i+1 < len(accels) {
			o.Trajectory[i].Acceleration = accels[i+1]
		}
	}
	return accels
}

// LongitudinalLabel classifies the speed profile. Stopping is judged on
// the final state only; acceleration and deceleration on the trajectory
// average, which is more robust than individual time steps.
func (l *TrajectoryLabeler) LongitudinalLabel(o *scenario.Obstacle) (actions.Longitudinal, error) {
	accels := AugmentAccelerations(o, l.scn.DT)
	if len(accels) == 0 {
		return actions.LongitudinalUnknown, fmt.Errorf("obstacle %d has no trajectory to label", o.ID)
	}
	if math.Abs(o.FinalState().Velocity) <= l.cfg.Vehicle.VErr {
		return actions.Stop, nil
	}
	var sum float64
	for _, a := range accels {
		sum += a
	}
	avg := sum / float64(len(accels))
	switch {
	case avg > l.cfg.Vehicle.ALim:
		return actions.Accelerate, nil
	case avg < -l.cfg.Vehicle.ALim:
		return actions.Decelerate, nil
	case avg <= l.cfg.Vehicle.ALim && avg >= -l.cfg.Vehicle.ALim:
		return actions.Keep, nil
	}
	return actions.LongitudinalUnknown, nil
}

// LateralLabel classifies lane keeping and lane changes by the lanelets
// the trajectory most likely occupies.
func (l *TrajectoryLabeler) LateralLabel(o *scenario.Obstacle, net *roads.EgoLaneNetwork) actions.Lateral {
	states := o.States()
	occupied := make([]int, 0, len(states))
	for _, st := range states {
		occupied = append(occupied, l.scn.LaneletNetwork.MostLikelyLanelet(st))
	}

	inLane := func(ids []int, id int) bool {
		for _, c := range ids {
			if c == id {
				return true
			}
		}
		return false
	}

	current := net.CurrentLaneletIDs()
	allCurrent := true
	for _, id := range occupied {
		if !inLane(current, id) {
			allCurrent = false
			break
		}
	}
	if allCurrent {
		return actions.FollowLane
	}

	final := occupied[len(occupied)-1]
	if inLane(net.LeftLaneletIDs(), final) {
		return actions.ChangeLeft
	}
	if inLane(net.RightLaneletIDs(), final) {
		return actions.ChangeRight
	}
	return actions.LateralUnknown
}
