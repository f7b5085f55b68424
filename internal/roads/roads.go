// Package roads groups lanelets into lanes: ordered successor chains
// that driving actions and reachability constraints refer to.
package roads

import (
	"fmt"
	"sort"

	"github.com/CommonRoad/sandra/internal/scenario"
)

// Lane is a series of ordered lanelets forming one drivable lane.
type Lane struct {
	ID           int
	Lanelets     []*scenario.Lanelet
	ContainedIDs []int
}

// NewLane builds a lane from an ordered lanelet chain.
func NewLane(id int, lanelets []*scenario.Lanelet) *Lane {
	l := &Lane{ID: id}
	for _, ll := range lanelets {
		l.Append(ll)
	}
	return l
}

// Append adds a lanelet to the end of the lane.
func (l *Lane) Append(lanelet *scenario.Lanelet) {
	l.Lanelets = append(l.Lanelets, lanelet)
	l.ContainedIDs = append(l.ContainedIDs, lanelet.ID)
}

// Contains reports whether the lane includes the lanelet.
func (l *Lane) Contains(laneletID int) bool {
	for _, id := range l.ContainedIDs {
		if id == laneletID {
			return true
		}
	}
	return false
}

// Length returns the summed length of the lane's lanelets.
func (l *Lane) Length() float64 {
	var total float64
	for _, ll := range l.Lanelets {
		total += ll.Length()
	}
	return total
}

// RoadNetwork is the set of lanes reachable around a position.
type RoadNetwork struct {
	Lanes []*Lane
}

// FromPosition builds the road network around a position: the lanelets
// containing it, their same-direction neighbors, and every maximal
// successor chain starting from their predecessors.
func FromPosition(n *scenario.LaneletNetwork, pos scenario.Vec2) (*RoadNetwork, error) {
	initial := n.FindByPosition(pos)
	if len(initial) == 0 {
		return nil, fmt.Errorf("no lanelet contains position (%.2f, %.2f)", pos.X, pos.Y)
	}

	startIDs := map[int]struct{}{}
	addStarts := func(l *scenario.Lanelet) {
		if l == nil {
			return
		}
		if len(l.Predecessors) == 0 {
			startIDs[l.ID] = struct{}{}
			return
		}
		for _, p := range l.Predecessors {
			startIDs[rootOf(n, p)] = struct{}{}
		}
	}
	for _, id := range initial {
		l := n.FindByID(id)
		if l == nil {
			continue
		}
		addStarts(l)
		if l.AdjacentLeft != 0 && l.AdjacentLeftSameDir {
			addStarts(n.FindByID(l.AdjacentLeft))
		}
		if l.AdjacentRight != 0 && l.AdjacentRightSameDir {
			addStarts(n.FindByID(l.AdjacentRight))
		}
	}

	ordered := make([]int, 0, len(startIDs))
	for id := range startIDs {
		ordered = append(ordered, id)
	}
	sort.Ints(ordered)

	rn := &RoadNetwork{}
	seen := map[string]struct{}{}
	laneID := 0
	for _, start := range ordered {
		for _, chain := range successorChains(n, start) {
			key := chainKey(chain)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			lanelets := make([]*scenario.Lanelet, 0, len(chain))
			for _, id := range chain {
				lanelets = append(lanelets, n.FindByID(id))
			}
			rn.Lanes = append(rn.Lanes, NewLane(laneID, lanelets))
			laneID++
		}
	}
	return rn, nil
}

// rootOf walks predecessors until a lanelet without one is found,
// guarding against cycles.
func rootOf(n *scenario.LaneletNetwork, id int) int {
	visited := map[int]struct{}{}
	for {
		if _, loop := visited[id]; loop {
			return id
		}
		visited[id] = struct{}{}
		l := n.FindByID(id)
		if l == nil || len(l.Predecessors) == 0 {
			return id
		}
		id = l.Predecessors[0]
	}
}

// successorChains enumerates every maximal lanelet chain starting at
// the given lanelet, branching at forks.
func successorChains(n *scenario.LaneletNetwork, start int) [][]int {
	var chains [][]int
	var walk func(id int, prefix []int)
	walk = func(id int, prefix []int) {
		for _, p := range prefix {
			if p == id {
				chains = append(chains, append([]int(nil), prefix...))
				return
			}
		}
		chain := append(append([]int(nil), prefix...), id)
		l := n.FindByID(id)
		if l == nil || len(l.Successors) == 0 {
			chains = append(chains, chain)
			return
		}
		for _, succ := range l.Successors {
			walk(succ, chain)
		}
	}
	walk(start, nil)
	return chains
}

func chainKey(chain []int) string {
	key := ""
	for _, id := range chain {
		key += fmt.Sprintf("%d,", id)
	}
	return key
}

// LaneByID returns the lane with the given ID, nil if absent.
func (rn *RoadNetwork) LaneByID(id int) *Lane {
	for _, lane := range rn.Lanes {
		if lane.ID == id {
			return lane
		}
	}
	return nil
}

// LanesByLaneletIDs returns the lanes containing at least one of the
// given lanelets.
func (rn *RoadNetwork) LanesByLaneletIDs(laneletIDs []int) []*Lane {
	idSet := make(map[int]struct{}, len(laneletIDs))
	for _, id := range laneletIDs {
		idSet[id] = struct{}{}
	}
	var lanes []*Lane
	for _, lane := range rn.Lanes {
		for _, id := range lane.ContainedIDs {
			if _, ok := idSet[id]; ok {
				lanes = append(lanes, lane)
				break
			}
		}
	}
	return lanes
}

// UniqueLaneByLaneletIDs returns the single lane containing at least
// one of the given lanelets, failing when zero or several match.
func (rn *RoadNetwork) UniqueLaneByLaneletIDs(laneletIDs []int) (*Lane, error) {
	lanes := rn.LanesByLaneletIDs(laneletIDs)
	switch len(lanes) {
	case 0:
		return nil, fmt.Errorf("no lane contains lanelets %v", laneletIDs)
	case 1:
		return lanes[0], nil
	default:
		return nil, fmt.Errorf("%d lanes contain lanelets %v", len(lanes), laneletIDs)
	}
}
