package rules

import (
	"fmt"
	"math"

	"github.com/CommonRoad/sandra/internal/scenario"
)

// Monitoring constants: a driver reaction time, the braking
// deceleration assumed for the safe-distance rule, and the
// deceleration beyond which braking counts as abrupt.
const (
	reactionTime = 0.3
	brakeDecel   = 10.0
	abruptDecel  = 2.0
)

// unboundedRobustness stands in where a rule imposes no constraint at
// a step, e.g. the speed-limit rule on an unrestricted road.
const unboundedRobustness = 1e6

// Report is the monitoring outcome of one rule over one trajectory.
type Report struct {
	Rule ID
	// Robustness holds the per-step margin; negative means violated.
	Robustness []float64
	Violated   bool
}

// Monitor scores ego trajectories against the interstate rules.
type Monitor struct {
	// SkipFirstStep ignores a violation at step 0, which simulations
	// may spawn into.
	SkipFirstStep bool
}

// Evaluate computes the robustness series of every interstate rule
// over the ego vehicle's recorded trajectory.
func (m *Monitor) Evaluate(scn *scenario.Scenario, ego *scenario.Obstacle) ([]Report, error) {
	if scn.LaneletNetwork == nil {
		return nil, fmt.Errorf("scenario %s has no lanelet network", scn.ID)
	}
	states := ego.States()
	if len(states) == 0 {
		return nil, fmt.Errorf("ego vehicle %d has no states", ego.ID)
	}

	reports := []Report{{Rule: RG1}, {Rule: RG2}, {Rule: RG3}}
	for _, st := range states {
		gap, lead, hasLead := m.leadingVehicle(scn, ego, st)

		rg1 := unboundedRobustness
		if hasLead {
			rg1 = gap - safeDistance(st.Velocity, lead.Velocity)
		}
		reports[0].Robustness = append(reports[0].Robustness, rg1)

		// Braking harder than the abrupt threshold needs a reason: a
		// leading vehicle inside its safe distance.
		rg2 := st.Acceleration + abruptDecel
		if hasLead && gap < safeDistance(st.Velocity, lead.Velocity) {
			rg2 = unboundedRobustness
		}
		reports[1].Robustness = append(reports[1].Robustness, rg2)

		rg3 := unboundedRobustness
		if id := scn.LaneletNetwork.MostLikelyLanelet(st); id >= 0 {
			if limit := scn.LaneletNetwork.SpeedLimitAt(id); limit > 0 {
				rg3 = limit - st.Velocity
			}
		}
		reports[2].Robustness = append(reports[2].Robustness, rg3)
	}
	for i := range reports {
		reports[i].Violated = Violated(reports[i].Robustness, m.SkipFirstStep)
	}
	return reports, nil
}

// Violated reports whether any step's robustness is negative,
// optionally ignoring the first step.
func Violated(series []float64, skipFirst bool) bool {
	for i, r := range series {
		if i == 0 && skipFirst {
			continue
		}
		if r < 0 {
			return true
		}
	}
	return false
}

// safeDistance is the stopping-distance margin the following vehicle
// must keep to a leader braking at full deceleration.
func safeDistance(vFollow, vLead float64) float64 {
	d := vFollow*reactionTime + (vFollow*vFollow-vLead*vLead)/(2*brakeDecel)
	return math.Max(d, 0)
}

// leadingVehicle finds the nearest obstacle ahead of the ego in the
// same lanelet and returns the bumper-to-bumper gap.
func (m *Monitor) leadingVehicle(scn *scenario.Scenario, ego *scenario.Obstacle, st scenario.State) (float64, scenario.State, bool) {
	egoLanelet := scn.LaneletNetwork.MostLikelyLanelet(st)
	if egoLanelet < 0 {
		return 0, scenario.State{}, false
	}
	dir := st.Direction()
	bestGap := math.Inf(1)
	var bestState scenario.State
	found := false
	for _, o := range scn.Obstacles {
		if o.ID == ego.ID {
			continue
		}
		ost, ok := o.StateAt(st.TimeStep)
		if !ok {
			continue
		}
		if scn.LaneletNetwork.MostLikelyLanelet(ost) != egoLanelet {
			continue
		}
		ahead := ost.Position.Sub(st.Position).Dot(dir)
		if ahead <= 0 {
			continue
		}
		gap := ahead - o.Length/2 - ego.Length/2
		if gap < bestGap {
			bestGap = gap
			bestState = ost
			found = true
		}
	}
	return bestGap, bestState, found
}
