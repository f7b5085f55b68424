package actions

import (
	"fmt"
	"strings"
)

// LTL formula templates per maneuver. Longitudinal bounds use the
// configured comfort acceleration limit; lane predicates are
// placeholders expanded to lanelet disjunctions by FormatLaneClause.
const (
	ltlAccelerate  = "G (a > %.1f)"
	ltlDecelerate  = "G (a < -%.1f)"
	ltlKeep        = "G (a <= %.1f & a >= -%.1f)"
	ltlStop        = "FG (InStandstill)"
	ltlChangeLeft  = "FG (InLeftAdjacentLane)"
	ltlChangeRight = "FG (InRightAdjacentLane)"
	ltlFollowLane  = "G (InCurrentLane)"
)

// LongitudinalLTL returns the LTL formula for a longitudinal maneuver
// with the acceleration limit substituted.
func LongitudinalLTL(lon Longitudinal, aLim float64) (string, error) {
	switch lon {
	case Accelerate:
		return "LTL " + fmt.Sprintf(ltlAccelerate, aLim), nil
	case Decelerate:
		return "LTL " + fmt.Sprintf(ltlDecelerate, aLim), nil
	case Keep:
		return "LTL " + fmt.Sprintf(ltlKeep, aLim, aLim), nil
	case Stop:
		return "LTL " + ltlStop, nil
	}
	return "", fmt.Errorf("no LTL mapping for longitudinal action %q", lon)
}

// LateralLTL returns the LTL formula for a lateral maneuver with its
// lane placeholder still in place.
func LateralLTL(lat Lateral) (string, error) {
	switch lat {
	case ChangeLeft:
		return "LTL " + ltlChangeLeft, nil
	case ChangeRight:
		return "LTL " + ltlChangeRight, nil
	case FollowLane:
		return "LTL " + ltlFollowLane, nil
	}
	return "", fmt.Errorf("no LTL mapping for lateral action %q", lat)
}

// FormatLaneClause renders a set of lanelet IDs as the disjunctive
// membership clause used inside lateral formulas.
func FormatLaneClause(laneletIDs []int) string {
	parts := make([]string, len(laneletIDs))
	for i, id := range laneletIDs {
		parts[i] = fmt.Sprintf("InLanelet_%d", id)
	}
	return strings.Join(parts, " | ")
}

// ExpandLanePlaceholder substitutes a lane predicate placeholder in an
// LTL formula with the concrete lanelet clause.
func ExpandLanePlaceholder(formula, placeholder string, laneletIDs []int) string {
	return strings.ReplaceAll(formula, placeholder, FormatLaneClause(laneletIDs))
}
