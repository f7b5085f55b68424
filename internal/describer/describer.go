// Package describer renders a driving scene into the prompts and the
// structured-response schema for the decision model.
package describer

import (
	"fmt"
	"math"
	"strings"

	"github.com/CommonRoad/sandra/internal/actions"
	"github.com/CommonRoad/sandra/internal/config"
	"github.com/CommonRoad/sandra/internal/roads"
	"github.com/CommonRoad/sandra/internal/rules"
	"github.com/CommonRoad/sandra/internal/scenario"
)

// Options adjust the prompt beyond the scene contents.
type Options struct {
	// Role is an extra instruction prepended to the system prompt,
	// e.g. "Don't change the lanes too often.".
	Role string
	// Goal is an optional mission statement.
	Goal string
	// ScenarioType names the setting, e.g. "highway".
	ScenarioType string
	// DescribeTTC adds time-to-collision estimates to obstacle lines.
	DescribeTTC bool
	// RulesInPrompt appends the interstate rules to the system prompt.
	RulesInPrompt bool
}

// Describer turns the scene at one time step into prompts. Update
// advances the time step between decisions.
type Describer struct {
	cfg      *config.Config
	scn      *scenario.Scenario
	ego      *scenario.Obstacle
	egoNet   *roads.EgoLaneNetwork
	opts     Options
	step     int
	egoSt    scenario.State
	pastActs []actions.Action
}

// New builds a describer for the scenario's ego vehicle at time step 0.
func New(cfg *config.Config, scn *scenario.Scenario, ego *scenario.Obstacle, egoNet *roads.EgoLaneNetwork, opts Options) (*Describer, error) {
	d := &Describer{cfg: cfg, scn: scn, ego: ego, egoNet: egoNet, opts: opts}
	if err := d.Update(0); err != nil {
		return nil, err
	}
	return d, nil
}

// Update moves the describer to the given time step.
func (d *Describer) Update(step int) error {
	st, ok := d.ego.StateAt(d.ego.InitialState.TimeStep + step)
	if !ok {
		return fmt.Errorf("ego vehicle %d has no state at step %d", d.ego.ID, step)
	}
	d.step = step
	d.egoSt = st
	return nil
}

// RecordAction keeps the most recent actions for prompt context,
// bounded to the last five decisions.
func (d *Describer) RecordAction(a actions.Action) {
	d.pastActs = append(d.pastActs, a)
	if len(d.pastActs) > 5 {
		d.pastActs = d.pastActs[1:]
	}
}

// AvailableActions restricts the proposable maneuvers to the scene:
// lane changes require the adjacent lane to exist.
func (d *Describer) AvailableActions() ([]actions.Longitudinal, []actions.Lateral) {
	laterals := []actions.Lateral{actions.FollowLane}
	if len(d.egoNet.LeftAdjacent) > 0 {
		laterals = append([]actions.Lateral{actions.ChangeLeft}, laterals...)
	}
	if len(d.egoNet.RightAdjacent) > 0 {
		laterals = append(laterals, actions.ChangeRight)
	}
	return actions.Longitudinals(), laterals
}

// Schema returns the structured-response JSON schema with the action
// enums restricted to AvailableActions.
func (d *Describer) Schema() (map[string]any, error) {
	longitudinals, laterals := d.AvailableActions()
	return DecisionSchema(longitudinals, laterals)
}

// SystemPrompt composes the role, setting and response contract.
func (d *Describer) SystemPrompt() string {
	var b strings.Builder
	b.WriteString("You are driving a car and need to make a high-level driving decision.\n")
	if d.opts.Role != "" {
		b.WriteString(d.opts.Role + "\n")
	}
	if d.opts.Goal != "" {
		b.WriteString(d.opts.Goal + "\n")
	}
	if d.opts.ScenarioType != "" {
		fmt.Fprintf(&b, "You are currently in a %s scenario.\n", d.opts.ScenarioType)
	}
	if d.opts.RulesInPrompt {
		b.WriteString("You have to adhere to the following traffic rules:\n")
		for _, r := range rules.Interstate() {
			fmt.Fprintf(&b, "  - %s\n", r.Text)
		}
	}
	b.WriteString(d.describeSchema())
	return b.String()
}

// UserPrompt renders the current scene.
func (d *Describer) UserPrompt() string {
	parts := []string{
		d.describeEgoState(),
		d.describeTrafficSigns(),
		d.describePastActions(),
		d.describeObstacles(),
	}
	var kept []string
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			kept = append(kept, strings.TrimSpace(p))
		}
	}
	return "Here is an overview of your environment:\n" + strings.Join(kept, "\n") + "\n"
}

func (d *Describer) describeSchema() string {
	longitudinals, laterals := d.AvailableActions()
	var lonLines, latLines []string
	for _, lon := range longitudinals {
		lonLines = append(lonLines, fmt.Sprintf("    - %s", lon))
	}
	for _, lat := range laterals {
		latLines = append(latLines, fmt.Sprintf("    - %s", lat))
	}
	return fmt.Sprintf(`First observe the environment and formulate your decision in natural language. Then return a ranking of the advisable actions which consist of %d combinations:
Longitudinal actions:
%s
Lateral actions:
%s`, len(longitudinals)*len(laterals), strings.Join(lonLines, "\n"), strings.Join(latLines, "\n"))
}

func (d *Describer) describeEgoState() string {
	var b strings.Builder
	if len(d.egoNet.LeftAdjacent) == 0 {
		b.WriteString("There is no lane left of your current lane.\n")
	} else {
		b.WriteString("There is a same-direction lane left of your current lane.\n")
	}
	if len(d.egoNet.RightAdjacent) == 0 {
		b.WriteString("There is no lane right of your current lane.\n")
	} else {
		b.WriteString("There is a same-direction lane right of your current lane.\n")
	}
	fmt.Fprintf(&b, "Your velocity is %s and your acceleration is %s.",
		velocityDescr(d.egoSt.Velocity), accelerationDescr(d.egoSt.Acceleration))
	return b.String()
}

func (d *Describer) describeTrafficSigns() string {
	limit := 0.0
	for _, id := range d.egoNet.CurrentLaneletIDs() {
		if v := d.scn.LaneletNetwork.SpeedLimitAt(id); v > 0 {
			limit = v
		}
	}
	if limit == 0 {
		return ""
	}
	return "These are all the traffic rules that currently apply to you:\n" +
		fmt.Sprintf("The maximum speed is %s.", velocityDescr(limit))
}

func (d *Describer) describePastActions() string {
	if len(d.pastActs) == 0 {
		return ""
	}
	var lines []string
	for _, a := range d.pastActs {
		lines = append(lines, fmt.Sprintf("    - %s", a))
	}
	return "Your most recent decisions were, oldest first:\n" + strings.Join(lines, "\n")
}

func (d *Describer) describeObstacles() string {
	var lines []string
	for _, o := range d.scn.Obstacles {
		if o.ID == d.ego.ID {
			continue
		}
		switch o.Type {
		case scenario.ObstacleCar, scenario.ObstacleTruck, scenario.ObstacleBus, scenario.ObstacleBicycle:
		default:
			continue
		}
		if line := d.describeVehicle(o); line != "" {
			lines = append(lines, fmt.Sprintf("    - %s %d: %s", o.Type, o.ID, line))
		}
	}
	if len(lines) == 0 {
		return "There are no obstacles surrounding you."
	}
	return "Here is an overview over all relevant obstacles surrounding you:\n" + strings.Join(lines, "\n")
}

func (d *Describer) describeVehicle(o *scenario.Obstacle) string {
	st, ok := o.StateAt(d.egoSt.TimeStep)
	if !ok {
		return ""
	}
	location := d.laneRelation(st)
	if location == "" {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "It is driving %s. ", location)
	angle := relativeOrientation(d.egoSt.Direction(), st.Position.Sub(d.egoSt.Position))
	fmt.Fprintf(&b, "It is located %s you, with a relative distance of %.1f meters. ",
		angleDescription(angle), st.Position.Dist(d.egoSt.Position))
	fmt.Fprintf(&b, "Its velocity is %s and its acceleration is %s.",
		velocityDescr(st.Velocity), accelerationDescr(st.Acceleration))
	if d.opts.DescribeTTC {
		if ttc, ok := d.timeToCollision(o, st); ok {
			fmt.Fprintf(&b, " The time-to-collision is %.1f sec.", ttc)
		}
	}
	return b.String()
}

// laneRelation places an obstacle's lanelet relative to the ego lane.
func (d *Describer) laneRelation(st scenario.State) string {
	id := d.scn.LaneletNetwork.MostLikelyLanelet(st)
	if id < 0 {
		return ""
	}
	if containsID(d.egoNet.CurrentLaneletIDs(), id) {
		return "in your current lane"
	}
	if containsID(d.egoNet.LeftLaneletIDs(), id) {
		return "in the lane to your left"
	}
	if containsID(d.egoNet.RightLaneletIDs(), id) {
		return "in the lane to your right"
	}
	return ""
}

// timeToCollision is the longitudinal gap over the closing speed for a
// leading vehicle in front of the ego, infinite gaps omitted.
func (d *Describer) timeToCollision(o *scenario.Obstacle, st scenario.State) (float64, bool) {
	rel := st.Position.Sub(d.egoSt.Position)
	gap := rel.Dot(d.egoSt.Direction()) - o.Length/2 - d.cfg.Vehicle.Length/2
	if gap <= 0 {
		return 0, false
	}
	closing := d.egoSt.Velocity - st.Velocity
	if closing <= 0 {
		return 0, false
	}
	return gap / closing, true
}

func velocityDescr(v float64) string {
	return fmt.Sprintf("%.1f m/s", v)
}

func accelerationDescr(a float64) string {
	return fmt.Sprintf("%.1f m/s²", a)
}

// relativeOrientation returns the angle of the other direction in the
// ego frame, in [0, 2pi): front 0, left pi/2, back pi, right 3pi/2.
func relativeOrientation(egoDir, otherDir scenario.Vec2) float64 {
	if egoDir.Norm() == 0 || otherDir.Norm() == 0 {
		return 0
	}
	cos := egoDir.Dot(otherDir) / (egoDir.Norm() * otherDir.Norm())
	cos = math.Max(-1, math.Min(1, cos))
	angle := math.Acos(cos)
	if egoDir.X*otherDir.Y-egoDir.Y*otherDir.X < 0 {
		angle = 2*math.Pi - angle
	}
	return angle
}

func angleDescription(theta float64) string {
	switch {
	case theta < math.Pi/4 || theta > 7*math.Pi/4:
		return "in front of"
	case math.Abs(theta-math.Pi/2) < math.Pi/4:
		return "left of"
	case math.Abs(theta-math.Pi) < math.Pi/4:
		return "behind"
	default:
		return "right of"
	}
}

func containsID(ids []int, want int) bool {
	for _, id := range ids {
		if id == want {
			return true
		}
	}
	return false
}
