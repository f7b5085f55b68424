package highway

import (
	"math"
	"testing"

	"github.com/CommonRoad/sandra/internal/actions"
	"github.com/CommonRoad/sandra/internal/config"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Highway.LanesCount = 3
	cfg.Highway.VehiclesDensity = 1.0
	cfg.Highway.Duration = 10
	return cfg
}

func TestNewIsDeterministic(t *testing.T) {
	a, err := New(testConfig(), 4213)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	b, err := New(testConfig(), 4213)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if len(a.Traffic) == 0 {
		t.Fatal("no traffic spawned")
	}
	if len(a.Traffic) != len(b.Traffic) {
		t.Fatalf("traffic count differs: %d vs %d", len(a.Traffic), len(b.Traffic))
	}
	for i := range a.Traffic {
		va, vb := a.Traffic[i], b.Traffic[i]
		if va.X != vb.X || va.Lane != vb.Lane || va.Speed != vb.Speed {
			t.Fatalf("vehicle %d differs: %+v vs %+v", i, va, vb)
		}
	}
	if a.Ego.Lane != b.Ego.Lane {
		t.Fatalf("ego lane differs: %d vs %d", a.Ego.Lane, b.Ego.Lane)
	}
}

func TestStepAdvancesAndEnds(t *testing.T) {
	sim, err := New(testConfig(), 8)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	x0 := sim.Ego.X
	steps := 0
	for sim.Step(actions.MetaIdle) {
		steps++
		if steps > 100 {
			t.Fatal("episode did not terminate")
		}
	}
	if !sim.Done() {
		t.Fatal("Done should report true after the loop")
	}
	if !sim.Crashed() && sim.TimeStep() != 10 {
		t.Fatalf("clean episode ended at step %d, want 10", sim.TimeStep())
	}
	if sim.Ego.X <= x0 {
		t.Fatalf("ego did not move: %v -> %v", x0, sim.Ego.X)
	}
	if sim.Travelled() != sim.Ego.X-x0 {
		t.Fatalf("Travelled = %v, want %v", sim.Travelled(), sim.Ego.X-x0)
	}
}

func TestMetaActionsSteerTargets(t *testing.T) {
	sim, err := New(testConfig(), 8)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sim.Traffic = nil // isolate the ego controller

	before := sim.Ego.TargetSpeed
	sim.Step(actions.MetaFaster)
	if sim.Ego.TargetSpeed <= before {
		t.Fatalf("FASTER did not raise target speed: %v -> %v", before, sim.Ego.TargetSpeed)
	}
	sim.Step(actions.MetaSlower)
	if sim.Ego.TargetSpeed != before {
		t.Fatalf("SLOWER did not restore target speed: %v", sim.Ego.TargetSpeed)
	}

	sim.Ego.TargetLane = 0
	sim.Ego.Lane = 0
	sim.Ego.Y = sim.laneCenterY(0)
	sim.Step(actions.MetaLaneLeft)
	if sim.Ego.TargetLane != 0 {
		t.Fatalf("LANE_LEFT left the road: target lane %d", sim.Ego.TargetLane)
	}
	sim.Step(actions.MetaLaneRight)
	if sim.Ego.TargetLane != 1 {
		t.Fatalf("LANE_RIGHT target lane = %d, want 1", sim.Ego.TargetLane)
	}
}

func TestCollisionEndsEpisode(t *testing.T) {
	sim, err := New(testConfig(), 8)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sim.Traffic = []*Vehicle{{
		ID:         1,
		X:          sim.Ego.X + 10,
		Y:          sim.Ego.Y,
		Lane:       sim.Ego.Lane,
		TargetLane: sim.Ego.Lane,
		Length:     5,
		Width:      2,
	}}
	for i := 0; i < 5 && sim.Step(actions.MetaIdle); i++ {
	}
	if !sim.Crashed() {
		t.Fatal("ego should have collided with the stopped vehicle")
	}
	if !sim.Done() {
		t.Fatal("crashed episode should be done")
	}
}

func TestLaneletNetworkLayout(t *testing.T) {
	sim, err := New(testConfig(), 8)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	n := sim.LaneletNetwork()
	left := n.FindByID(1)
	mid := n.FindByID(2)
	right := n.FindByID(3)
	if left == nil || mid == nil || right == nil {
		t.Fatal("expected lanelets 1..3")
	}
	if left.AdjacentLeft != 0 || left.AdjacentRight != 2 {
		t.Fatalf("leftmost adjacency = (%d, %d), want (0, 2)", left.AdjacentLeft, left.AdjacentRight)
	}
	if mid.AdjacentLeft != 1 || mid.AdjacentRight != 3 {
		t.Fatalf("middle adjacency = (%d, %d), want (1, 3)", mid.AdjacentLeft, mid.AdjacentRight)
	}
	if left.LineMarkingLeft != "solid" || mid.LineMarkingLeft != "dashed" {
		t.Fatalf("unexpected markings: %s, %s", left.LineMarkingLeft, mid.LineMarkingLeft)
	}
	if got := left.CenterVertices[0].Y - mid.CenterVertices[0].Y; got != 4 {
		t.Fatalf("lane spacing = %v, want 4", got)
	}
}

func TestToScenario(t *testing.T) {
	cfg := testConfig()
	sim, err := New(cfg, 4213)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	scn, pp, err := sim.ToScenario(cfg.Horizon.Steps)
	if err != nil {
		t.Fatalf("ToScenario: %v", err)
	}
	if scn.DT != cfg.Horizon.DT {
		t.Fatalf("scenario dt = %v, want %v", scn.DT, cfg.Horizon.DT)
	}
	if len(scn.Obstacles) == 0 {
		t.Fatal("no obstacles in converted scenario")
	}
	for _, o := range scn.Obstacles {
		if o.ID == sim.Ego.ID {
			t.Fatal("ego must not appear as an obstacle")
		}
		if math.Abs(o.InitialState.Position.X-sim.Ego.X) > PerceptionDistance {
			t.Fatalf("obstacle %d outside perception range", o.ID)
		}
		if len(o.Trajectory) != cfg.Horizon.Steps {
			t.Fatalf("obstacle %d has %d predicted states, want %d", o.ID, len(o.Trajectory), cfg.Horizon.Steps)
		}
	}
	if pp.InitialState.Position.X != sim.Ego.X {
		t.Fatalf("planning problem initial x = %v, want %v", pp.InitialState.Position.X, sim.Ego.X)
	}
	if pp.Goal.Center.X <= sim.Ego.X {
		t.Fatal("goal region should lie ahead of the ego")
	}
	if got, want := sim.EpisodeID(), "highenv_3_1.0_4213"; got != want {
		t.Fatalf("EpisodeID = %q, want %q", got, want)
	}
}
