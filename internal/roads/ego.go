package roads

import (
	"fmt"

	"github.com/CommonRoad/sandra/internal/scenario"
)

// EgoLaneNetwork resolves the lane perspective of one vehicle: the
// lane it occupies and the same-direction lanes adjacent to it.
type EgoLaneNetwork struct {
	Lane          *Lane
	LeftAdjacent  []*Lane
	RightAdjacent []*Lane

	network *scenario.LaneletNetwork
}

// NewEgoLaneNetwork locates the vehicle's lane from its state and
// collects the adjacent lanes on each side.
func NewEgoLaneNetwork(n *scenario.LaneletNetwork, rn *RoadNetwork, st scenario.State) (*EgoLaneNetwork, error) {
	laneletID := n.MostLikelyLanelet(st)
	if laneletID < 0 {
		return nil, fmt.Errorf("state at (%.2f, %.2f) is not on any lanelet", st.Position.X, st.Position.Y)
	}
	lanes := rn.LanesByLaneletIDs([]int{laneletID})
	if len(lanes) == 0 {
		return nil, fmt.Errorf("no lane contains lanelet %d", laneletID)
	}
	ego := &EgoLaneNetwork{Lane: lanes[0], network: n}

	leftIDs := map[int]struct{}{}
	rightIDs := map[int]struct{}{}
	for _, id := range ego.Lane.ContainedIDs {
		l := n.FindByID(id)
		if l == nil {
			continue
		}
		if l.AdjacentLeft != 0 && l.AdjacentLeftSameDir {
			leftIDs[l.AdjacentLeft] = struct{}{}
		}
		if l.AdjacentRight != 0 && l.AdjacentRightSameDir {
			rightIDs[l.AdjacentRight] = struct{}{}
		}
	}
	ego.LeftAdjacent = adjacentLanes(rn, ego.Lane, leftIDs)
	ego.RightAdjacent = adjacentLanes(rn, ego.Lane, rightIDs)
	return ego, nil
}

func adjacentLanes(rn *RoadNetwork, exclude *Lane, ids map[int]struct{}) []*Lane {
	if len(ids) == 0 {
		return nil
	}
	flat := make([]int, 0, len(ids))
	for id := range ids {
		flat = append(flat, id)
	}
	var lanes []*Lane
	for _, lane := range rn.LanesByLaneletIDs(flat) {
		if lane != exclude {
			lanes = append(lanes, lane)
		}
	}
	return lanes
}

// LeftLaneletIDs returns all lanelet IDs of the left adjacent lanes.
func (e *EgoLaneNetwork) LeftLaneletIDs() []int {
	return laneletUnion(e.LeftAdjacent)
}

// RightLaneletIDs returns all lanelet IDs of the right adjacent lanes.
func (e *EgoLaneNetwork) RightLaneletIDs() []int {
	return laneletUnion(e.RightAdjacent)
}

// CurrentLaneletIDs returns the lanelet IDs of the occupied lane.
func (e *EgoLaneNetwork) CurrentLaneletIDs() []int {
	if e.Lane == nil {
		return nil
	}
	return append([]int(nil), e.Lane.ContainedIDs...)
}

func laneletUnion(lanes []*Lane) []int {
	seen := map[int]struct{}{}
	var ids []int
	for _, lane := range lanes {
		for _, id := range lane.ContainedIDs {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	return ids
}
