package scenario

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// The on-disk format follows the CommonRoad document layout: a
// commonRoad root with lanelet, dynamicObstacle and planningProblem
// children. Scalar state members are written directly (the port does
// not model uncertain states, so no <exact> wrappers are needed).

type xmlDocument struct {
	XMLName     xml.Name             `xml:"commonRoad"`
	Version     string               `xml:"commonRoadVersion,attr"`
	BenchmarkID string               `xml:"benchmarkID,attr"`
	TimeStep    float64              `xml:"timeStepSize,attr"`
	Author      string               `xml:"author,attr,omitempty"`
	Affiliation string               `xml:"affiliation,attr,omitempty"`
	Source      string               `xml:"source,attr,omitempty"`
	Tags        string               `xml:"tags,attr,omitempty"`
	Lanelets    []xmlLanelet         `xml:"lanelet"`
	Obstacles   []xmlDynamicObstacle `xml:"dynamicObstacle"`
	Problems    []xmlPlanningProblem `xml:"planningProblem"`
}

type xmlPoint struct {
	X float64 `xml:"x"`
	Y float64 `xml:"y"`
}

type xmlBound struct {
	Points      []xmlPoint `xml:"point"`
	LineMarking string     `xml:"lineMarking,omitempty"`
}

type xmlRef struct {
	Ref int `xml:"ref,attr"`
}

type xmlAdjacent struct {
	Ref        int    `xml:"ref,attr"`
	DrivingDir string `xml:"drivingDir,attr"`
}

type xmlLanelet struct {
	ID            int          `xml:"id,attr"`
	LeftBound     xmlBound     `xml:"leftBound"`
	CenterBound   xmlBound     `xml:"centerBound"`
	RightBound    xmlBound     `xml:"rightBound"`
	Predecessors  []xmlRef     `xml:"predecessor"`
	Successors    []xmlRef     `xml:"successor"`
	AdjacentLeft  *xmlAdjacent `xml:"adjacentLeft"`
	AdjacentRight *xmlAdjacent `xml:"adjacentRight"`
	SpeedLimit    float64      `xml:"speedLimit,omitempty"`
}

type xmlState struct {
	TimeStep     int      `xml:"time"`
	Position     xmlPoint `xml:"position>point"`
	Orientation  float64  `xml:"orientation"`
	Velocity     float64  `xml:"velocity"`
	Acceleration float64  `xml:"acceleration"`
}

type xmlRectangle struct {
	Length float64 `xml:"length"`
	Width  float64 `xml:"width"`
}

type xmlDynamicObstacle struct {
	ID           int          `xml:"id,attr"`
	Type         string       `xml:"type"`
	Shape        xmlRectangle `xml:"shape>rectangle"`
	InitialState xmlState     `xml:"initialState"`
	Trajectory   []xmlState   `xml:"trajectory>state"`
}

type xmlInterval struct {
	Start float64 `xml:"intervalStart"`
	End   float64 `xml:"intervalEnd"`
}

type xmlGoalState struct {
	Center      xmlPoint    `xml:"position>rectangle>center"`
	Length      float64     `xml:"position>rectangle>length"`
	Width       float64     `xml:"position>rectangle>width"`
	Time        xmlInterval `xml:"time"`
	Velocity    xmlInterval `xml:"velocity"`
	Orientation xmlInterval `xml:"orientation"`
}

type xmlPlanningProblem struct {
	ID           int          `xml:"id,attr"`
	InitialState xmlState     `xml:"initialState"`
	GoalState    xmlGoalState `xml:"goalState"`
}

// Write serializes the scenario to path, creating parent directories.
func Write(s *Scenario, path string) error {
	doc := toDocument(s)
	data, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal scenario %s: %w", s.ID, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create scenario dir: %w", err)
	}
	out := append([]byte(xml.Header), data...)
	out = append(out, '\n')
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("write scenario %s: %w", s.ID, err)
	}
	return nil
}

// Read parses a scenario file.
func Read(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc xmlDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}
	return fromDocument(&doc), nil
}

func toDocument(s *Scenario) *xmlDocument {
	doc := &xmlDocument{
		Version:     "2020a",
		BenchmarkID: s.ID,
		TimeStep:    s.DT,
		Author:      s.Author,
		Affiliation: s.Affiliation,
		Source:      s.Source,
		Tags:        strings.Join(s.Tags, " "),
	}
	if s.LaneletNetwork != nil {
		for _, l := range s.LaneletNetwork.Lanelets {
			doc.Lanelets = append(doc.Lanelets, toXMLLanelet(l))
		}
	}
	for _, o := range s.Obstacles {
		doc.Obstacles = append(doc.Obstacles, toXMLObstacle(o))
	}
	for _, pp := range s.PlanningProblems {
		doc.Problems = append(doc.Problems, toXMLProblem(pp))
	}
	return doc
}

func fromDocument(doc *xmlDocument) *Scenario {
	s := &Scenario{
		ID:          doc.BenchmarkID,
		DT:          doc.TimeStep,
		Author:      doc.Author,
		Affiliation: doc.Affiliation,
		Source:      doc.Source,
	}
	if doc.Tags != "" {
		s.Tags = strings.Fields(doc.Tags)
	}
	lanelets := make([]*Lanelet, 0, len(doc.Lanelets))
	for i := range doc.Lanelets {
		lanelets = append(lanelets, fromXMLLanelet(&doc.Lanelets[i]))
	}
	s.LaneletNetwork = NewLaneletNetwork(lanelets)
	for i := range doc.Obstacles {
		s.Obstacles = append(s.Obstacles, fromXMLObstacle(&doc.Obstacles[i]))
	}
	for i := range doc.Problems {
		s.PlanningProblems = append(s.PlanningProblems, fromXMLProblem(&doc.Problems[i]))
	}
	return s
}

func toXMLPoints(verts []Vec2) []xmlPoint {
	points := make([]xmlPoint, len(verts))
	for i, v := range verts {
		points[i] = xmlPoint{X: v.X, Y: v.Y}
	}
	return points
}

func fromXMLPoints(points []xmlPoint) []Vec2 {
	verts := make([]Vec2, len(points))
	for i, p := range points {
		verts[i] = Vec2{p.X, p.Y}
	}
	return verts
}

func toXMLRefs(ids []int) []xmlRef {
	refs := make([]xmlRef, len(ids))
	for i, id := range ids {
		refs[i] = xmlRef{Ref: id}
	}
	return refs
}

func fromXMLRefs(refs []xmlRef) []int {
	ids := make([]int, len(refs))
	for i, r := range refs {
		ids[i] = r.Ref
	}
	return ids
}

func drivingDir(same bool) string {
	if same {
		return "same"
	}
	return "opposite"
}

func toXMLLanelet(l *Lanelet) xmlLanelet {
	out := xmlLanelet{
		ID:           l.ID,
		LeftBound:    xmlBound{Points: toXMLPoints(l.LeftVertices), LineMarking: string(l.LineMarkingLeft)},
		CenterBound:  xmlBound{Points: toXMLPoints(l.CenterVertices)},
		RightBound:   xmlBound{Points: toXMLPoints(l.RightVertices), LineMarking: string(l.LineMarkingRight)},
		Predecessors: toXMLRefs(l.Predecessors),
		Successors:   toXMLRefs(l.Successors),
		SpeedLimit:   l.SpeedLimit,
	}
	if l.AdjacentLeft != 0 {
		out.AdjacentLeft = &xmlAdjacent{Ref: l.AdjacentLeft, DrivingDir: drivingDir(l.AdjacentLeftSameDir)}
	}
	if l.AdjacentRight != 0 {
		out.AdjacentRight = &xmlAdjacent{Ref: l.AdjacentRight, DrivingDir: drivingDir(l.AdjacentRightSameDir)}
	}
	return out
}

func fromXMLLanelet(x *xmlLanelet) *Lanelet {
	l := &Lanelet{
		ID:               x.ID,
		LeftVertices:     fromXMLPoints(x.LeftBound.Points),
		CenterVertices:   fromXMLPoints(x.CenterBound.Points),
		RightVertices:    fromXMLPoints(x.RightBound.Points),
		Predecessors:     fromXMLRefs(x.Predecessors),
		Successors:       fromXMLRefs(x.Successors),
		LineMarkingLeft:  LineMarking(x.LeftBound.LineMarking),
		LineMarkingRight: LineMarking(x.RightBound.LineMarking),
		SpeedLimit:       x.SpeedLimit,
	}
	if x.AdjacentLeft != nil {
		l.AdjacentLeft = x.AdjacentLeft.Ref
		l.AdjacentLeftSameDir = x.AdjacentLeft.DrivingDir == "same"
	}
	if x.AdjacentRight != nil {
		l.AdjacentRight = x.AdjacentRight.Ref
		l.AdjacentRightSameDir = x.AdjacentRight.DrivingDir == "same"
	}
	// Center bound is optional in hand-written files; derive it from
	// the boundaries when absent.
	if len(l.CenterVertices) == 0 && len(l.LeftVertices) == len(l.RightVertices) {
		l.CenterVertices = make([]Vec2, len(l.LeftVertices))
		for i := range l.LeftVertices {
			l.CenterVertices[i] = l.LeftVertices[i].Add(l.RightVertices[i]).Scale(0.5)
		}
	}
	return l
}

func toXMLState(s State) xmlState {
	return xmlState{
		TimeStep:     s.TimeStep,
		Position:     xmlPoint{X: s.Position.X, Y: s.Position.Y},
		Orientation:  s.Orientation,
		Velocity:     s.Velocity,
		Acceleration: s.Acceleration,
	}
}

func fromXMLState(x xmlState) State {
	return State{
		TimeStep:     x.TimeStep,
		Position:     Vec2{x.Position.X, x.Position.Y},
		Orientation:  x.Orientation,
		Velocity:     x.Velocity,
		Acceleration: x.Acceleration,
	}
}

func toXMLObstacle(o *Obstacle) xmlDynamicObstacle {
	out := xmlDynamicObstacle{
		ID:           o.ID,
		Type:         string(o.Type),
		Shape:        xmlRectangle{Length: o.Length, Width: o.Width},
		InitialState: toXMLState(o.InitialState),
	}
	for _, s := range o.Trajectory {
		out.Trajectory = append(out.Trajectory, toXMLState(s))
	}
	return out
}

func fromXMLObstacle(x *xmlDynamicObstacle) *Obstacle {
	o := &Obstacle{
		ID:           x.ID,
		Type:         ObstacleType(x.Type),
		Length:       x.Shape.Length,
		Width:        x.Shape.Width,
		InitialState: fromXMLState(x.InitialState),
	}
	for _, s := range x.Trajectory {
		o.Trajectory = append(o.Trajectory, fromXMLState(s))
	}
	return o
}

func toXMLProblem(pp *PlanningProblem) xmlPlanningProblem {
	return xmlPlanningProblem{
		ID:           pp.ID,
		InitialState: toXMLState(pp.InitialState),
		GoalState: xmlGoalState{
			Center:      xmlPoint{X: pp.Goal.Center.X, Y: pp.Goal.Center.Y},
			Length:      pp.Goal.Length,
			Width:       pp.Goal.Width,
			Time:        xmlInterval{Start: float64(pp.Goal.TimeMin), End: float64(pp.Goal.TimeMax)},
			Velocity:    xmlInterval{Start: pp.Goal.VelocityMin, End: pp.Goal.VelocityMax},
			Orientation: xmlInterval{Start: pp.Goal.OrientationMin, End: pp.Goal.OrientationMax},
		},
	}
}

func fromXMLProblem(x *xmlPlanningProblem) *PlanningProblem {
	return &PlanningProblem{
		ID:           x.ID,
		InitialState: fromXMLState(x.InitialState),
		Goal: GoalRegion{
			Center:         Vec2{x.GoalState.Center.X, x.GoalState.Center.Y},
			Length:         x.GoalState.Length,
			Width:          x.GoalState.Width,
			TimeMin:        int(x.GoalState.Time.Start),
			TimeMax:        int(x.GoalState.Time.End),
			VelocityMin:    x.GoalState.Velocity.Start,
			VelocityMax:    x.GoalState.Velocity.End,
			OrientationMin: x.GoalState.Orientation.Start,
			OrientationMax: x.GoalState.Orientation.End,
		},
	}
}
