// Package verifier checks proposed maneuvers with reachability
// analysis: position/velocity sets propagated over the decision
// horizon on the admissible lanes, pruned by predicted obstacle
// occupancy. A maneuver is safe iff the reachable set at the horizon
// is non-empty and satisfies the maneuver's temporal requirement.
package verifier

import (
	"context"
	"fmt"
	"math"

	"github.com/CommonRoad/sandra/internal/actions"
	"github.com/CommonRoad/sandra/internal/config"
	"github.com/CommonRoad/sandra/internal/observability"
	"github.com/CommonRoad/sandra/internal/prediction"
	"github.com/CommonRoad/sandra/internal/roads"
	"github.com/CommonRoad/sandra/internal/scenario"
)

// Status is a verification outcome.
type Status string

const (
	Safe   Status = "safe"
	Unsafe Status = "unsafe"
)

// Safe-distance predicate parameters.
const reactionTime = 0.3

// node is one reachable cell: a position interval on a lane with the
// velocity range attainable inside it.
type node struct {
	s interval
	v interval
}

// CorridorStep is the reachable envelope chosen at one step.
type CorridorStep struct {
	Step       int
	LaneletIDs []int
	SMin, SMax float64
	VMin, VMax float64
}

// Corridor is the per-step envelope of the verified maneuver, handed
// to downstream planning.
type Corridor []CorridorStep

// Verifier runs reachability analysis for one scene.
type Verifier struct {
	cfg       *config.Config
	scn       *scenario.Scenario
	initial   scenario.State
	egoID     int
	egoNet    *roads.EgoLaneNetwork
	predictor prediction.Predictor
	log       *observability.Logger
	metrics   *observability.Metrics

	frames   []*laneFrame
	corridor Corridor
}

// laneFrame is a lane with a curvilinear frame over its lanelet chain.
type laneFrame struct {
	lane    *roads.Lane
	ids     []int
	length  float64
	offsets []float64 // arc offset of each lanelet's start
	// role relative to the ego: 0 current, -1 left, +1 right.
	side int
}

// New prepares the verifier; the ego starts in the ego lane network's
// current lane at the given initial state. egoID excludes the ego's
// own obstacle record from occupancy prediction; pass a negative ID
// when the scenario carries no ego obstacle.
func New(cfg *config.Config, scn *scenario.Scenario, initial scenario.State, egoID int, egoNet *roads.EgoLaneNetwork, predictor prediction.Predictor, log *observability.Logger, metrics *observability.Metrics) (*Verifier, error) {
	if egoNet == nil || egoNet.Lane == nil {
		return nil, fmt.Errorf("ego lane network is required")
	}
	if predictor == nil {
		predictor = prediction.ConstantVelocity{}
	}
	v := &Verifier{
		cfg:       cfg,
		scn:       scn,
		initial:   initial,
		egoID:     egoID,
		egoNet:    egoNet,
		predictor: predictor,
		log:       log,
		metrics:   metrics,
	}
	v.frames = append(v.frames, newLaneFrame(egoNet.Lane, 0))
	for _, lane := range egoNet.LeftAdjacent {
		v.frames = append(v.frames, newLaneFrame(lane, -1))
	}
	for _, lane := range egoNet.RightAdjacent {
		v.frames = append(v.frames, newLaneFrame(lane, 1))
	}
	return v, nil
}

func newLaneFrame(lane *roads.Lane, side int) *laneFrame {
	f := &laneFrame{lane: lane, ids: lane.ContainedIDs, side: side}
	for _, l := range lane.Lanelets {
		f.offsets = append(f.offsets, f.length)
		if l != nil {
			f.length += l.Length()
		}
	}
	return f
}

// sOf projects a position into the lane's arc coordinate.
func (f *laneFrame) sOf(p scenario.Vec2) (float64, bool) {
	for i, l := range f.lane.Lanelets {
		if l == nil || !l.Contains(p) {
			continue
		}
		s, _, err := l.ArcCoordinates(p)
		if err != nil {
			continue
		}
		return f.offsets[i] + s, true
	}
	return 0, false
}

// Formulas renders the maneuver's temporal-logic constraints over the
// concrete lane predicates, for logs and recorded outputs.
func (v *Verifier) Formulas(action *actions.Action) []string {
	if action == nil {
		return []string{"LTL true"}
	}
	var out []string
	if f, err := actions.LongitudinalLTL(action.Longitudinal, v.cfg.Vehicle.ALim); err == nil {
		out = append(out, f)
	}
	if f, err := actions.LateralLTL(action.Lateral); err == nil {
		switch action.Lateral {
		case actions.ChangeLeft:
			f = actions.ExpandLanePlaceholder(f, "InLeftAdjacentLane", v.egoNet.LeftLaneletIDs())
		case actions.ChangeRight:
			f = actions.ExpandLanePlaceholder(f, "InRightAdjacentLane", v.egoNet.RightLaneletIDs())
		case actions.FollowLane:
			f = actions.ExpandLanePlaceholder(f, "InCurrentLane", v.egoNet.CurrentLaneletIDs())
		}
		out = append(out, f)
	}
	return out
}

// Verify runs the reachability analysis for the maneuver. A nil
// action is the fail-safe query: any lane, full dynamic range.
func (v *Verifier) Verify(ctx context.Context, action *actions.Action) (Status, error) {
	aMin, aMax := v.accelBounds(action)

	admissible, target, err := v.admissibleLanes(action)
	if err != nil {
		return Unsafe, err
	}

	s0, ok := v.frames[0].sOf(v.initial.Position)
	if !ok {
		return Unsafe, fmt.Errorf("initial position (%.2f, %.2f) is not on the ego lane", v.initial.Position.X, v.initial.Position.Y)
	}

	occ := v.occupancies(admissible)

	// Reachable nodes per admissible lane, starting in the ego lane.
	reach := make(map[int][]node, len(admissible))
	for _, li := range admissible {
		reach[li] = nil
	}
	v0 := math.Max(v.initial.Velocity, 0)
	// The ego is tracked by its center; occupancies are already
	// inflated by half the ego length.
	const eps = 1e-3
	reach[0] = pruneNodes([]node{{
		s: interval{s0 - eps, s0 + eps},
		v: interval{v0, v0},
	}}, occ[0][0], v.frames[0].length)

	steps := v.cfg.Horizon.Steps
	dt := v.cfg.Horizon.DT
	v.corridor = v.corridor[:0]
	v.appendCorridorStep(0, reach, target)

	for t := 1; t <= steps; t++ {
		if err := ctx.Err(); err != nil {
			return Unsafe, err
		}
		next := make(map[int][]node, len(admissible))
		for _, li := range admissible {
			var propagated []node
			for _, n := range reach[li] {
				propagated = append(propagated, propagate(n, aMin, aMax, dt, v.cfg.Vehicle.VMax))
			}
			next[li] = pruneNodes(propagated, occ[li][t], v.frames[li].length)
		}
		// Lane transfer: a lane change can begin at any step, so the
		// target lane additionally receives the source lane's nodes.
		for _, li := range admissible {
			if li == 0 {
				continue
			}
			transferred := append(append([]node(nil), next[li]...), next[0]...)
			next[li] = pruneNodes(transferred, occ[li][t], v.frames[li].length)
		}
		reach = next
		v.appendCorridorStep(t, reach, target)
	}

	status := v.finalStatus(action, reach, admissible, target)
	if v.metrics != nil {
		v.metrics.VerificationCounter.WithLabelValues(string(status)).Inc()
	}
	if v.log != nil {
		v.log.Debug(ctx, "verification finished", "action", actionName(action), "status", string(status))
	}
	return status, nil
}

// Corridor returns the envelope of the most recent Verify call.
func (v *Verifier) Corridor() Corridor {
	return v.corridor
}

func (v *Verifier) accelBounds(action *actions.Action) (float64, float64) {
	aMax := v.cfg.Vehicle.AMax
	aLim := v.cfg.Vehicle.ALim
	if action == nil {
		return -aMax, aMax
	}
	switch action.Longitudinal {
	case actions.Accelerate:
		return aLim, aMax
	case actions.Decelerate:
		return -aMax, -aLim
	case actions.Keep:
		return -aLim, aLim
	default:
		return -aMax, aMax
	}
}

// admissibleLanes returns the frame indices the ego may occupy and the
// index of the lane the maneuver must end in (-1 when any will do).
func (v *Verifier) admissibleLanes(action *actions.Action) ([]int, int, error) {
	all := make([]int, len(v.frames))
	for i := range v.frames {
		all[i] = i
	}
	if action == nil {
		return all, -1, nil
	}
	switch action.Lateral {
	case actions.FollowLane:
		return []int{0}, 0, nil
	case actions.ChangeLeft:
		idx := v.frameIndex(-1)
		if idx < 0 {
			return nil, -1, fmt.Errorf("no left adjacent lane for action %s", action)
		}
		return []int{0, idx}, idx, nil
	case actions.ChangeRight:
		idx := v.frameIndex(1)
		if idx < 0 {
			return nil, -1, fmt.Errorf("no right adjacent lane for action %s", action)
		}
		return []int{0, idx}, idx, nil
	default:
		return all, -1, nil
	}
}

func (v *Verifier) frameIndex(side int) int {
	for i, f := range v.frames {
		if f.side == side {
			return i
		}
	}
	return -1
}

// occupancies collects blocked arc intervals per admissible lane and
// step from the predicted obstacle motion.
func (v *Verifier) occupancies(admissible []int) map[int][][]interval {
	steps := v.cfg.Horizon.Steps
	occ := make(map[int][][]interval, len(admissible))
	for _, li := range admissible {
		occ[li] = make([][]interval, steps+1)
	}
	egoHalf := v.cfg.Vehicle.Length / 2
	for _, o := range v.scn.Obstacles {
		if o.ID == v.egoID {
			continue
		}
		margin := 0.0
		if v.cfg.Highway.RulesInReach && v.withinSafeDistanceScope(o) {
			margin = safeDistanceMargin(v.initial.Velocity, o.InitialState.Velocity)
		}
		pred := v.predictor.Predict(o, steps, v.cfg.Horizon.DT)
		for t, p := range pred {
			for _, li := range admissible {
				s, ok := v.frames[li].sOf(p.State.Position)
				if !ok {
					continue
				}
				half := o.Length/2 + egoHalf + p.HalfLength
				occ[li][t] = append(occ[li][t], interval{s - half - margin, s + half})
			}
		}
	}
	for _, li := range admissible {
		for t := range occ[li] {
			occ[li][t] = mergeIntervals(occ[li][t])
		}
	}
	return occ
}

// withinSafeDistanceScope mirrors the rule activation: obstacles
// closer than twice the ego speed get a safe-distance predicate.
func (v *Verifier) withinSafeDistanceScope(o *scenario.Obstacle) bool {
	return o.InitialState.Position.Dist(v.initial.Position) < 2*v.initial.Velocity
}

// safeDistanceMargin is the stopping-distance gap the ego must keep
// behind a leader, used to rear-extend the leader's occupancy.
func safeDistanceMargin(vEgo, vLead float64) float64 {
	const brake = 10.0
	d := vEgo*reactionTime + (vEgo*vEgo-vLead*vLead)/(2*brake)
	return math.Max(d, 0)
}

func propagate(n node, aMin, aMax, dt, vMax float64) node {
	vLo := math.Max(0, n.v.lo+aMin*dt)
	vHi := math.Min(vMax, n.v.hi+aMax*dt)
	// No reversing: the minimum displacement is clamped at zero.
	dLo := math.Max(0, n.v.lo*dt+0.5*aMin*dt*dt)
	dHi := math.Max(dLo, n.v.hi*dt+0.5*aMax*dt*dt)
	return node{s: interval{n.s.lo + dLo, n.s.hi + dHi}, v: interval{vLo, vHi}}
}

// pruneNodes subtracts blocked intervals, clips to the lane extent and
// merges what remains.
func pruneNodes(nodes []node, blocked []interval, laneLength float64) []node {
	var out []node
	for _, n := range nodes {
		parts := []interval{n.s}
		for _, b := range blocked {
			var next []interval
			for _, p := range parts {
				next = append(next, p.subtract(b)...)
			}
			parts = next
		}
		for _, p := range parts {
			if p.lo < 0 {
				p.lo = 0
			}
			if p.hi > laneLength {
				p.hi = laneLength
			}
			if !p.empty() {
				out = append(out, node{s: p, v: n.v})
			}
		}
	}
	return mergeNodes(out)
}

// mergeNodes unions nodes with overlapping position intervals, taking
// the velocity hull.
func mergeNodes(nodes []node) []node {
	if len(nodes) < 2 {
		return nodes
	}
	var out []node
	for _, n := range nodes {
		merged := false
		for i := range out {
			if n.s.lo <= out[i].s.hi && n.s.hi >= out[i].s.lo {
				out[i].s.lo = math.Min(out[i].s.lo, n.s.lo)
				out[i].s.hi = math.Max(out[i].s.hi, n.s.hi)
				out[i].v.lo = math.Min(out[i].v.lo, n.v.lo)
				out[i].v.hi = math.Max(out[i].v.hi, n.v.hi)
				merged = true
				break
			}
		}
		if !merged {
			out = append(out, n)
		}
	}
	return out
}

func (v *Verifier) finalStatus(action *actions.Action, reach map[int][]node, admissible []int, target int) Status {
	final := func(li int) []node { return reach[li] }
	var candidates []node
	if target >= 0 {
		candidates = final(target)
	} else {
		for _, li := range admissible {
			candidates = append(candidates, final(li)...)
		}
	}
	if len(candidates) == 0 {
		return Unsafe
	}
	if action != nil && action.Longitudinal == actions.Stop {
		for _, n := range candidates {
			if n.v.lo <= v.cfg.Vehicle.VErr {
				return Safe
			}
		}
		return Unsafe
	}
	return Safe
}

// appendCorridorStep records the envelope of the preferred lane: the
// target lane once reachable there, the ego lane otherwise.
func (v *Verifier) appendCorridorStep(t int, reach map[int][]node, target int) {
	pick := 0
	if target > 0 && len(reach[target]) > 0 {
		pick = target
	}
	nodes := reach[pick]
	if len(nodes) == 0 {
		return
	}
	step := CorridorStep{
		Step:       t,
		LaneletIDs: v.frames[pick].ids,
		SMin:       math.Inf(1),
		SMax:       math.Inf(-1),
		VMin:       math.Inf(1),
		VMax:       math.Inf(-1),
	}
	for _, n := range nodes {
		step.SMin = math.Min(step.SMin, n.s.lo)
		step.SMax = math.Max(step.SMax, n.s.hi)
		step.VMin = math.Min(step.VMin, n.v.lo)
		step.VMax = math.Max(step.VMax, n.v.hi)
	}
	v.corridor = append(v.corridor, step)
}

func actionName(a *actions.Action) string {
	if a == nil {
		return "fail-safe"
	}
	return a.String()
}
