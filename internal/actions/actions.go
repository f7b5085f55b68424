// Package actions defines the high-level driving decision vocabulary:
// longitudinal and lateral maneuvers, ranked action pairs, and their
// LTL encodings used by the verifier.
package actions

import "fmt"

// Longitudinal is a high-level longitudinal maneuver.
type Longitudinal string

const (
	Accelerate Longitudinal = "accelerate"
	Decelerate Longitudinal = "decelerate"
	Keep       Longitudinal = "keep"
	Stop       Longitudinal = "stop"

	// LongitudinalUnknown is assigned by the labeler when a recorded
	// trajectory matches none of the maneuver definitions.
	LongitudinalUnknown Longitudinal = "unknown"
)

// Lateral is a high-level lateral maneuver.
type Lateral string

const (
	ChangeLeft  Lateral = "left"
	ChangeRight Lateral = "right"
	FollowLane  Lateral = "follow_lane"

	LateralUnknown Lateral = "unknown"
)

// Action pairs a longitudinal and a lateral maneuver. The decision LLM
// returns a ranking of these pairs, best first.
type Action struct {
	Longitudinal Longitudinal `json:"longitudinal_action"`
	Lateral      Lateral      `json:"lateral_action"`
}

func (a Action) String() string {
	return fmt.Sprintf("(%s, %s)", a.Longitudinal, a.Lateral)
}

// Longitudinals returns all proposable longitudinal maneuvers.
func Longitudinals() []Longitudinal {
	return []Longitudinal{Accelerate, Decelerate, Keep, Stop}
}

// Laterals returns all proposable lateral maneuvers.
func Laterals() []Lateral {
	return []Lateral{ChangeLeft, ChangeRight, FollowLane}
}

// ParseLongitudinal validates a longitudinal maneuver name.
func ParseLongitudinal(s string) (Longitudinal, error) {
	switch Longitudinal(s) {
	case Accelerate, Decelerate, Keep, Stop, LongitudinalUnknown:
		return Longitudinal(s), nil
	}
	return "", fmt.Errorf("unknown longitudinal action %q", s)
}

// ParseLateral validates a lateral maneuver name.
func ParseLateral(s string) (Lateral, error) {
	switch Lateral(s) {
	case ChangeLeft, ChangeRight, FollowLane, LateralUnknown:
		return Lateral(s), nil
	}
	return "", fmt.Errorf("unknown lateral action %q", s)
}

// Combinations enumerates every pair of the given maneuvers in a stable
// order. The describer uses it to tell the model how many ranking
// entries it must produce.
func Combinations(longitudinals []Longitudinal, laterals []Lateral) []Action {
	combos := make([]Action, 0, len(longitudinals)*len(laterals))
	for _, lon := range longitudinals {
		for _, lat := range laterals {
			combos = append(combos, Action{Longitudinal: lon, Lateral: lat})
		}
	}
	return combos
}

// MetaAction is the discrete action interface of the closed-loop
// highway simulation.
type MetaAction int

const (
	MetaLaneLeft MetaAction = iota
	MetaIdle
	MetaLaneRight
	MetaFaster
	MetaSlower
)

func (m MetaAction) String() string {
	switch m {
	case MetaLaneLeft:
		return "LANE_LEFT"
	case MetaIdle:
		return "IDLE"
	case MetaLaneRight:
		return "LANE_RIGHT"
	case MetaFaster:
		return "FASTER"
	case MetaSlower:
		return "SLOWER"
	}
	return "UNKNOWN"
}

// Meta maps an action pair onto the simulation's discrete meta-action.
// Lateral maneuvers take precedence over longitudinal ones.
func (a Action) Meta() MetaAction {
	switch a.Lateral {
	case ChangeLeft:
		return MetaLaneLeft
	case ChangeRight:
		return MetaLaneRight
	}
	switch a.Longitudinal {
	case Accelerate:
		return MetaFaster
	case Decelerate, Stop:
		return MetaSlower
	}
	return MetaIdle
}
