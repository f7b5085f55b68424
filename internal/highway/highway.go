// Package highway simulates a multi-lane highway populated with
// IDM-controlled traffic and an ego vehicle driven by discrete
// meta-actions. It replaces an external simulator with a native model
// so closed-loop runs need nothing beyond this module.
package highway

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/CommonRoad/sandra/internal/actions"
	"github.com/CommonRoad/sandra/internal/config"
)

// IDM and lane-change parameters of the surrounding traffic.
const (
	accMax         = 6.0 // hard acceleration bound (m/s^2)
	comfortAccMax  = 3.0
	comfortAccMin  = -5.0
	distanceWanted = 5.0 // standstill gap (m)
	timeWanted     = 1.5 // desired time headway (s)
	idmDelta       = 4.0

	// MOBIL thresholds.
	laneChangeMinGain     = 0.2
	laneChangeMaxImposed  = 2.0
	laneChangeCooldownSec = 1.0

	// Ego speed control.
	speedKP      = 1.0 / 0.6
	egoSpeedMin  = 5.0
	egoSpeedMax  = 32.0
	egoSpeedBins = 9

	// Lateral controller: time to cross one lane.
	laneChangeDurationSec = 1.0

	// PerceptionDistance bounds which vehicles enter the converted
	// scenario around the ego.
	PerceptionDistance = 180.0
)

// Vehicle is one simulated traffic participant. X grows in driving
// direction; Y is the lateral position with lane 0 at y=0 and lane i
// at y = -i*laneWidth (left lanes have larger y).
type Vehicle struct {
	ID          int
	X, Y        float64
	Speed       float64
	TargetSpeed float64
	Lane        int
	TargetLane  int
	Length      float64
	Width       float64

	accel    float64
	heading  float64
	cooldown float64
}

// Simulation is the closed-loop environment. The ego vehicle is
// controlled through Step; all other vehicles follow IDM with MOBIL
// lane changes.
type Simulation struct {
	cfg  *config.Config
	seed int64
	rng  *rand.Rand

	Ego     *Vehicle
	Traffic []*Vehicle

	speedIndex int
	step       int // completed decision steps
	crashed    bool
	dt         float64
	substeps   int
	startX     float64
}

// New seeds and populates a simulation from the highway configuration.
func New(cfg *config.Config, seed int64) (*Simulation, error) {
	hw := cfg.Highway
	if hw.LanesCount < 2 {
		return nil, fmt.Errorf("need at least 2 lanes, got %d", hw.LanesCount)
	}
	dt := cfg.Horizon.DT
	policy := hw.PolicyFrequency
	if policy <= 0 {
		policy = 1
	}
	substeps := int(math.Round(1.0 / (policy * dt)))
	if substeps < 1 {
		substeps = 1
	}
	sim := &Simulation{
		cfg:      cfg,
		seed:     seed,
		rng:      rand.New(rand.NewSource(seed)),
		dt:       dt,
		substeps: substeps,
	}
	sim.spawn()
	sim.startX = sim.Ego.X
	return sim, nil
}

func (sim *Simulation) laneCenterY(lane int) float64 {
	return -float64(lane) * sim.cfg.Highway.LaneWidth
}

// spawn places the ego and density-scaled surrounding traffic. Spacing
// shrinks as density grows, matching how dense episodes are generated.
func (sim *Simulation) spawn() {
	hw := sim.cfg.Highway
	veh := sim.cfg.Vehicle

	egoLane := sim.rng.Intn(hw.LanesCount)
	sim.Ego = &Vehicle{
		ID:          0,
		X:           3 * PerceptionDistance / 4,
		Y:           sim.laneCenterY(egoLane),
		Speed:       25,
		TargetSpeed: 25,
		Lane:        egoLane,
		TargetLane:  egoLane,
		Length:      veh.Length,
		Width:       veh.Width,
	}
	sim.speedIndex = sim.nearestSpeedIndex(sim.Ego.Speed)
	sim.Ego.TargetSpeed = egoTargetSpeed(sim.speedIndex)

	count := int(float64(hw.LanesCount) * hw.VehiclesDensity * 10)
	frontier := make([]float64, hw.LanesCount)
	for i := range frontier {
		frontier[i] = 20
	}
	nextID := 1
	for i := 0; i < count; i++ {
		lane := sim.rng.Intn(hw.LanesCount)
		spacing := (25 + 15*sim.rng.Float64()) / hw.VehiclesDensity * 2
		x := frontier[lane] + spacing
		frontier[lane] = x
		if x > hw.RoadLength-50 {
			continue
		}
		if lane == egoLane && math.Abs(x-sim.Ego.X) < 4*veh.Length {
			continue
		}
		speed := 20 + 8*sim.rng.Float64()
		sim.Traffic = append(sim.Traffic, &Vehicle{
			ID:          nextID,
			X:           x,
			Y:           sim.laneCenterY(lane),
			Speed:       speed,
			TargetSpeed: speed,
			Lane:        lane,
			TargetLane:  lane,
			Length:      veh.Length,
			Width:       veh.Width,
		})
		nextID++
	}
}

func egoTargetSpeed(index int) float64 {
	return egoSpeedMin + float64(index)*(egoSpeedMax-egoSpeedMin)/float64(egoSpeedBins-1)
}

func (sim *Simulation) nearestSpeedIndex(speed float64) int {
	best, bestDist := 0, math.Inf(1)
	for i := 0; i < egoSpeedBins; i++ {
		if d := math.Abs(egoTargetSpeed(i) - speed); d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

// Seed returns the episode seed.
func (sim *Simulation) Seed() int64 { return sim.seed }

// TimeStep returns the number of completed decision steps.
func (sim *Simulation) TimeStep() int { return sim.step }

// Crashed reports whether the ego collided.
func (sim *Simulation) Crashed() bool { return sim.crashed }

// Done reports whether the episode ended by collision or duration.
func (sim *Simulation) Done() bool {
	return sim.crashed || sim.step >= sim.cfg.Highway.Duration
}

// Travelled returns the ego's longitudinal distance since spawn.
func (sim *Simulation) Travelled() float64 {
	return sim.Ego.X - sim.startX
}

// Step applies one meta-action for a full decision period and advances
// the world. It returns false when the episode is over.
func (sim *Simulation) Step(meta actions.MetaAction) bool {
	if sim.Done() {
		return false
	}
	sim.applyMeta(meta)
	for i := 0; i < sim.substeps; i++ {
		sim.substep()
		if sim.crashed {
			break
		}
	}
	sim.step++
	return !sim.Done()
}

func (sim *Simulation) applyMeta(meta actions.MetaAction) {
	switch meta {
	case actions.MetaLaneLeft:
		if sim.Ego.TargetLane > 0 {
			sim.Ego.TargetLane--
		}
	case actions.MetaLaneRight:
		if sim.Ego.TargetLane < sim.cfg.Highway.LanesCount-1 {
			sim.Ego.TargetLane++
		}
	case actions.MetaFaster:
		if sim.speedIndex < egoSpeedBins-1 {
			sim.speedIndex++
		}
	case actions.MetaSlower:
		if sim.speedIndex > 0 {
			sim.speedIndex--
		}
	}
	sim.Ego.TargetSpeed = egoTargetSpeed(sim.speedIndex)
}

func (sim *Simulation) substep() {
	// Traffic decisions use the state at the start of the substep.
	for _, v := range sim.Traffic {
		v.cooldown -= sim.dt
		if v.cooldown <= 0 && v.Lane == v.TargetLane {
			sim.considerLaneChange(v)
		}
		lead, gap := sim.leader(v, v.TargetLane)
		v.accel = clamp(sim.idmAcceleration(v, lead, gap), -accMax, accMax)
	}
	sim.Ego.accel = clamp(speedKP*(sim.Ego.TargetSpeed-sim.Ego.Speed), comfortAccMin, comfortAccMax)

	sim.integrate(sim.Ego)
	for _, v := range sim.Traffic {
		sim.integrate(v)
	}
	for _, v := range sim.Traffic {
		if sim.overlaps(sim.Ego, v) {
			sim.crashed = true
			return
		}
	}
}

func (sim *Simulation) integrate(v *Vehicle) {
	v.X += v.Speed * sim.dt
	v.Speed = clamp(v.Speed+v.accel*sim.dt, 0, sim.cfg.Vehicle.VMax)

	targetY := sim.laneCenterY(v.TargetLane)
	rate := sim.cfg.Highway.LaneWidth / laneChangeDurationSec * sim.dt
	dy := targetY - v.Y
	if math.Abs(dy) <= rate {
		v.Y = targetY
		v.Lane = v.TargetLane
		v.heading = 0
	} else {
		stepY := math.Copysign(rate, dy)
		v.Y += stepY
		v.heading = math.Atan2(stepY, v.Speed*sim.dt)
	}
}

// leader finds the nearest vehicle ahead of v in the given lane and
// the bumper-to-bumper gap to it.
func (sim *Simulation) leader(v *Vehicle, lane int) (*Vehicle, float64) {
	var lead *Vehicle
	gap := math.Inf(1)
	consider := func(o *Vehicle) {
		if o == v || (o.Lane != lane && o.TargetLane != lane) {
			return
		}
		d := o.X - v.X
		if d <= 0 {
			return
		}
		if g := d - o.Length/2 - v.Length/2; g < gap {
			lead, gap = o, g
		}
	}
	consider(sim.Ego)
	for _, o := range sim.Traffic {
		consider(o)
	}
	return lead, gap
}

func (sim *Simulation) follower(v *Vehicle, lane int) (*Vehicle, float64) {
	var rear *Vehicle
	gap := math.Inf(1)
	consider := func(o *Vehicle) {
		if o == v || (o.Lane != lane && o.TargetLane != lane) {
			return
		}
		d := v.X - o.X
		if d <= 0 {
			return
		}
		if g := d - o.Length/2 - v.Length/2; g < gap {
			rear, gap = o, g
		}
	}
	consider(sim.Ego)
	for _, o := range sim.Traffic {
		consider(o)
	}
	return rear, gap
}

// idmAcceleration is the intelligent driver model response of v to a
// leading vehicle at the given gap.
func (sim *Simulation) idmAcceleration(v, lead *Vehicle, gap float64) float64 {
	a := comfortAccMax * (1 - math.Pow(v.Speed/math.Max(v.TargetSpeed, 1e-3), idmDelta))
	if lead == nil {
		return a
	}
	desired := sim.desiredGap(v, lead)
	if gap < 1e-3 {
		gap = 1e-3
	}
	return a - comfortAccMax*math.Pow(desired/gap, 2)
}

func (sim *Simulation) desiredGap(v, lead *Vehicle) float64 {
	dv := v.Speed - lead.Speed
	ab := -comfortAccMax * comfortAccMin
	return distanceWanted + v.Speed*timeWanted + v.Speed*dv/(2*math.Sqrt(ab))
}

// considerLaneChange applies the MOBIL criterion with zero politeness:
// change when the own acceleration gain exceeds the threshold and the
// new follower is not forced to brake harder than allowed.
func (sim *Simulation) considerLaneChange(v *Vehicle) {
	lead, gap := sim.leader(v, v.Lane)
	current := sim.idmAcceleration(v, lead, gap)
	for _, target := range []int{v.Lane - 1, v.Lane + 1} {
		if target < 0 || target >= sim.cfg.Highway.LanesCount {
			continue
		}
		newLead, newGap := sim.leader(v, target)
		candidate := sim.idmAcceleration(v, newLead, newGap)
		if candidate-current < laneChangeMinGain {
			continue
		}
		rear, rearGap := sim.follower(v, target)
		if rear != nil {
			imposed := sim.idmAcceleration(rear, v, rearGap)
			if imposed < -laneChangeMaxImposed {
				continue
			}
		}
		v.TargetLane = target
		v.cooldown = laneChangeCooldownSec
		return
	}
}

func (sim *Simulation) overlaps(a, b *Vehicle) bool {
	return math.Abs(a.X-b.X) < (a.Length+b.Length)/2 &&
		math.Abs(a.Y-b.Y) < (a.Width+b.Width)/2
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
