// Package rules holds the interstate traffic rules and a monitor that
// scores recorded trajectories against them.
package rules

// ID names an interstate rule.
type ID string

const (
	// RG1 requires a safe distance to the preceding vehicle.
	RG1 ID = "R_G1"
	// RG2 forbids braking abruptly without reason.
	RG2 ID = "R_G2"
	// RG3 forbids exceeding the speed limit.
	RG3 ID = "R_G3"
)

// Rule pairs an identifier with its prose, which is also what the
// prompt shows the model when rules are enabled there.
type Rule struct {
	ID   ID
	Text string
}

// Interstate returns the monitored interstate rules in order.
func Interstate() []Rule {
	return []Rule{
		{ID: RG1, Text: "The distance to a vehicle ahead must generally be large enough that one can stop safely even if that vehicle brakes suddenly."},
		{ID: RG2, Text: "The ego vehicle is not allowed to brake abruptly without reason."},
		{ID: RG3, Text: "The ego vehicle must not exceed the speed limit."},
	}
}
