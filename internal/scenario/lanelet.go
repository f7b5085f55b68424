package scenario

import (
	"fmt"
	"math"
)

// LineMarking is a lane boundary marking.
type LineMarking string

const (
	MarkingDashed LineMarking = "dashed"
	MarkingSolid  LineMarking = "solid"
)

// Lanelet is an atomic lane segment bounded by two polylines.
type Lanelet struct {
	ID             int
	LeftVertices   []Vec2
	CenterVertices []Vec2
	RightVertices  []Vec2

	Predecessors []int
	Successors   []int

	// AdjacentLeft/AdjacentRight are 0 when no neighbor exists.
	AdjacentLeft         int
	AdjacentRight        int
	AdjacentLeftSameDir  bool
	AdjacentRightSameDir bool

	LineMarkingLeft  LineMarking
	LineMarkingRight LineMarking

	// SpeedLimit in m/s; 0 means unrestricted.
	SpeedLimit float64
}

// Length returns the arc length of the center polyline.
func (l *Lanelet) Length() float64 {
	return polylineLength(l.CenterVertices)
}

// Width returns the lanelet width at its start.
func (l *Lanelet) Width() float64 {
	if len(l.LeftVertices) == 0 || len(l.RightVertices) == 0 {
		return 0
	}
	return l.LeftVertices[0].Dist(l.RightVertices[0])
}

// Contains reports whether the position lies on the lanelet, using the
// lateral distance to the center polyline against half the width.
func (l *Lanelet) Contains(p Vec2) bool {
	s, d, ok := projectOntoPolyline(l.CenterVertices, p)
	if !ok {
		return false
	}
	length := l.Length()
	if s < 0 || s > length {
		return false
	}
	return math.Abs(d) <= l.Width()/2+1e-9
}

// ArcCoordinates projects a position into the lanelet's curvilinear
// frame: s along the center polyline, d lateral (positive left).
func (l *Lanelet) ArcCoordinates(p Vec2) (s, d float64, err error) {
	s, d, ok := projectOntoPolyline(l.CenterVertices, p)
	if !ok {
		return 0, 0, fmt.Errorf("lanelet %d has no center polyline", l.ID)
	}
	return s, d, nil
}

// Orientation returns the heading of the center polyline at arc
// position s.
func (l *Lanelet) Orientation(s float64) float64 {
	verts := l.CenterVertices
	if len(verts) < 2 {
		return 0
	}
	acc := 0.0
	for i := 0; i < len(verts)-1; i++ {
		seg := verts[i+1].Sub(verts[i])
		segLen := seg.Norm()
		if acc+segLen >= s || i == len(verts)-2 {
			return math.Atan2(seg.Y, seg.X)
		}
		acc += segLen
	}
	return 0
}

func polylineLength(verts []Vec2) float64 {
	total := 0.0
	for i := 0; i < len(verts)-1; i++ {
		total += verts[i+1].Dist(verts[i])
	}
	return total
}

// projectOntoPolyline returns the arc position s of the closest point
// on the polyline and the signed lateral offset d (positive to the
// left of the travel direction). ok is false for degenerate polylines.
func projectOntoPolyline(verts []Vec2, p Vec2) (s, d float64, ok bool) {
	if len(verts) < 2 {
		return 0, 0, false
	}
	bestDist := math.Inf(1)
	acc := 0.0
	for i := 0; i < len(verts)-1; i++ {
		a, b := verts[i], verts[i+1]
		seg := b.Sub(a)
		segLen := seg.Norm()
		if segLen == 0 {
			continue
		}
		t := p.Sub(a).Dot(seg) / (segLen * segLen)
		t = math.Max(0, math.Min(1, t))
		closest := a.Add(seg.Scale(t))
		dist := p.Dist(closest)
		if dist < bestDist {
			bestDist = dist
			s = acc + t*segLen
			// Cross product sign gives the side: positive = left.
			cross := seg.X*(p.Y-a.Y) - seg.Y*(p.X-a.X)
			if cross >= 0 {
				d = dist
			} else {
				d = -dist
			}
			ok = true
		}
		acc += segLen
	}
	return s, d, ok
}

// LaneletNetwork is the set of lanelets of a scenario.
type LaneletNetwork struct {
	Lanelets []*Lanelet

	byID map[int]*Lanelet
}

// NewLaneletNetwork builds a network and its ID index.
func NewLaneletNetwork(lanelets []*Lanelet) *LaneletNetwork {
	n := &LaneletNetwork{Lanelets: lanelets, byID: make(map[int]*Lanelet, len(lanelets))}
	for _, l := range lanelets {
		n.byID[l.ID] = l
	}
	return n
}

// FindByID returns the lanelet with the given ID, or nil.
func (n *LaneletNetwork) FindByID(id int) *Lanelet {
	if n.byID == nil {
		n.reindex()
	}
	return n.byID[id]
}

func (n *LaneletNetwork) reindex() {
	n.byID = make(map[int]*Lanelet, len(n.Lanelets))
	for _, l := range n.Lanelets {
		n.byID[l.ID] = l
	}
}

// FindByPosition returns the IDs of all lanelets containing the point.
func (n *LaneletNetwork) FindByPosition(p Vec2) []int {
	var ids []int
	for _, l := range n.Lanelets {
		if l.Contains(p) {
			ids = append(ids, l.ID)
		}
	}
	return ids
}

// MostLikelyLanelet returns the lanelet best matching the state: among
// lanelets containing the position, the one whose local orientation is
// closest to the state's heading. Returns -1 when no lanelet contains
// the position.
func (n *LaneletNetwork) MostLikelyLanelet(st State) int {
	bestID := -1
	bestDiff := math.Inf(1)
	for _, id := range n.FindByPosition(st.Position) {
		l := n.byID[id]
		s, _, err := l.ArcCoordinates(st.Position)
		if err != nil {
			continue
		}
		diff := math.Abs(angleDiff(l.Orientation(s), st.Orientation))
		if diff < bestDiff {
			bestDiff = diff
			bestID = id
		}
	}
	return bestID
}

// SpeedLimitAt returns the speed limit applying to a lanelet chain, 0
// if unrestricted.
func (n *LaneletNetwork) SpeedLimitAt(laneletID int) float64 {
	if l := n.FindByID(laneletID); l != nil {
		return l.SpeedLimit
	}
	return 0
}

func angleDiff(a, b float64) float64 {
	d := math.Mod(a-b, 2*math.Pi)
	if d > math.Pi {
		d -= 2 * math.Pi
	}
	if d < -math.Pi {
		d += 2 * math.Pi
	}
	return d
}
