package analysis

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/CommonRoad/sandra/internal/actions"
	"github.com/CommonRoad/sandra/internal/config"
	"github.com/CommonRoad/sandra/internal/results"
	"github.com/CommonRoad/sandra/internal/scenario"
)

func writeEvaluation(t *testing.T, dir string, name string, verifiedIDs []int, ranking []actions.Action, travelled float64) string {
	t.Helper()
	path := filepath.Join(dir, name)
	w, err := results.NewEvaluationWriter(path, 3)
	if err != nil {
		t.Fatalf("NewEvaluationWriter: %v", err)
	}
	for i, vid := range verifiedIDs {
		if err := w.WriteIteration(i, vid, ranking); err != nil {
			t.Fatalf("WriteIteration: %v", err)
		}
	}
	if travelled > 0 {
		if err := w.WriteTravelled(travelled); err != nil {
			t.Fatalf("WriteTravelled: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return path
}

func keepFollowRanking() []actions.Action {
	return []actions.Action{
		{Longitudinal: actions.Keep, Lateral: actions.FollowLane},
		{Longitudinal: actions.Decelerate, Lateral: actions.FollowLane},
		{Longitudinal: actions.Keep, Lateral: actions.ChangeLeft},
	}
}

func approx(got, want float64) bool {
	return math.Abs(got-want) < 1e-9
}

func TestEvaluateOpenLoop(t *testing.T) {
	dir := t.TempDir()
	// Three scenarios: verified first try, verified at rank 2 with the
	// label at rank 3, and one where nothing verified.
	writeEvaluation(t, dir, "scene_a.csv", []int{0}, keepFollowRanking(), 0)
	writeEvaluation(t, dir, "scene_b.csv", []int{1}, keepFollowRanking(), 0)
	writeEvaluation(t, dir, "scene_c.csv", []int{3}, keepFollowRanking(), 0)

	labelsPath := filepath.Join(t.TempDir(), "labels.csv")
	labels := []results.BatchLabelRow{
		{ScenarioID: "scene_a", TrajectoryLateral: "follow_lane", TrajectoryLongitudinal: "keep"},
		{ScenarioID: "scene_b", TrajectoryLateral: "left", TrajectoryLongitudinal: "keep"},
		{ScenarioID: "scene_c", TrajectoryLateral: "follow_lane", TrajectoryLongitudinal: "keep"},
	}
	if err := results.WriteBatchLabels(labelsPath, labels); err != nil {
		t.Fatalf("WriteBatchLabels: %v", err)
	}

	report, err := EvaluateOpenLoop(dir, labelsPath, 3)
	if err != nil {
		t.Fatalf("EvaluateOpenLoop: %v", err)
	}
	if report.Count != 3 {
		t.Fatalf("count = %d, want 3", report.Count)
	}
	// save@1: only scene_a (verified id 0); save@3: a and b.
	if !approx(report.SaveAt1, 100.0/3) || !approx(report.SaveAt3, 200.0/3) {
		t.Fatalf("save@1 = %v, save@3 = %v", report.SaveAt1, report.SaveAt3)
	}
	// match@1: scene_a matches at rank 1. match@3: a (rank 1) and b
	// (label at rank 3); c never matches because nothing verified.
	if !approx(report.MatchAt[0], 100.0/3) {
		t.Fatalf("match@1 = %v", report.MatchAt[0])
	}
	if !approx(report.MatchAt[1], 200.0/3) || !approx(report.MatchAt[2], 200.0/3) {
		t.Fatalf("match@3 = %v, match@5 = %v", report.MatchAt[1], report.MatchAt[2])
	}
}

func TestRatioAndFailSafe(t *testing.T) {
	base := t.TempDir()
	runA := filepath.Join(base, "run-a")
	runB := filepath.Join(base, "run-b")
	if err := os.MkdirAll(runA, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(runB, 0o755); err != nil {
		t.Fatal(err)
	}
	writeEvaluation(t, runA, "evaluation.csv", []int{0, 0, 2}, keepFollowRanking(), 250)
	writeEvaluation(t, runB, "evaluation.csv", []int{0, 3}, keepFollowRanking(), 100)

	evs, err := CollectEvaluations(base)
	if err != nil {
		t.Fatalf("CollectEvaluations: %v", err)
	}
	if len(evs) != 2 {
		t.Fatalf("got %d evaluations, want 2", len(evs))
	}

	ratio := Ratio(evs)
	if ratio.Steps != 4 {
		t.Fatalf("ratio steps = %d, want 4 (fail-safe row excluded)", ratio.Steps)
	}
	keepFollow := actions.Action{Longitudinal: actions.Keep, Lateral: actions.FollowLane}
	keepLeft := actions.Action{Longitudinal: actions.Keep, Lateral: actions.ChangeLeft}
	if !approx(ratio.Actions[keepFollow], 0.75) || !approx(ratio.Actions[keepLeft], 0.25) {
		t.Fatalf("action shares = %v", ratio.Actions)
	}
	if !approx(ratio.Meta["IDLE"], 0.75) || !approx(ratio.Meta["LANE_LEFT"], 0.25) {
		t.Fatalf("meta shares = %v", ratio.Meta)
	}

	fs := FailSafe(evs, 3)
	if fs.Steps != 5 || fs.FailSafeSteps != 1 {
		t.Fatalf("fail-safe = %d/%d, want 1/5", fs.FailSafeSteps, fs.Steps)
	}
	if !approx(fs.Ratio, 0.2) {
		t.Fatalf("fail-safe ratio = %v", fs.Ratio)
	}
	if !approx(fs.AvgVerifiedID, 0.5) {
		t.Fatalf("avg verified id = %v, want 0.5", fs.AvgVerifiedID)
	}

	cl := ClosedLoop(evs)
	if cl.Episodes != 2 {
		t.Fatalf("episodes = %d", cl.Episodes)
	}
	if !approx(cl.AvgMaxIteration, 1.5) {
		t.Fatalf("avg max iteration = %v, want 1.5", cl.AvgMaxIteration)
	}
	if !approx(cl.AvgTravelled, 175) {
		t.Fatalf("avg travelled = %v, want 175", cl.AvgTravelled)
	}
	if cl.FinishedPct != 0 {
		t.Fatalf("finished = %v%%, want 0", cl.FinishedPct)
	}
}

func TestGroupedRatiosSplitByLanesAndDensity(t *testing.T) {
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.ResultsDir = base

	// Two seeds of a 3-lane/1.0 setup and one of a 5-lane/2.0 setup.
	cfg.Highway.LanesCount = 3
	cfg.Highway.VehiclesDensity = 1.0
	for _, seed := range []int64{1, 2} {
		dir := cfg.ResultsFolder(seed)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
		writeEvaluation(t, dir, "evaluation.csv", []int{0, 2}, keepFollowRanking(), 100)
	}
	cfg.Highway.LanesCount = 5
	cfg.Highway.VehiclesDensity = 2.0
	dir := cfg.ResultsFolder(3)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	writeEvaluation(t, dir, "evaluation.csv", []int{0}, keepFollowRanking(), 50)

	groups, err := GroupedRatios(base)
	if err != nil {
		t.Fatalf("GroupedRatios: %v", err)
	}
	if len(groups) != 2 {
		t.Fatalf("got %d groups, want 2", len(groups))
	}
	if groups[0].Lanes != 3 || !approx(groups[0].Density, 1.0) {
		t.Fatalf("first group = %d/%v, want 3/1.0", groups[0].Lanes, groups[0].Density)
	}
	if groups[0].Report.Steps != 4 {
		t.Fatalf("3-lane group steps = %d, want 4", groups[0].Report.Steps)
	}
	if groups[1].Lanes != 5 || groups[1].Report.Steps != 1 {
		t.Fatalf("5-lane group = %d lanes, %d steps", groups[1].Lanes, groups[1].Report.Steps)
	}
	keepLeft := actions.Action{Longitudinal: actions.Keep, Lateral: actions.ChangeLeft}
	if !approx(groups[0].Report.Actions[keepLeft], 0.25) {
		t.Fatalf("3-lane keep/left share = %v, want 0.25", groups[0].Report.Actions[keepLeft])
	}
}

func TestAnalyzeXML(t *testing.T) {
	dir := t.TempDir()
	straight := func(y float64) []scenario.Vec2 {
		return []scenario.Vec2{{X: 0, Y: y}, {X: 500, Y: y}, {X: 1000, Y: y}}
	}
	lanelet := &scenario.Lanelet{
		ID: 1, RightVertices: straight(0), CenterVertices: straight(2), LeftVertices: straight(4),
	}
	write := func(name string, steps int) {
		initial := scenario.State{TimeStep: 0, Position: scenario.Vec2{X: 10, Y: 2}, Velocity: 20}
		ego := &scenario.Obstacle{ID: 1, Type: scenario.ObstacleCar, Length: 5, Width: 2, InitialState: initial}
		for i := 1; i <= steps; i++ {
			ego.AppendState(scenario.State{
				TimeStep: i,
				Position: scenario.Vec2{X: 10 + float64(i)*8, Y: 2},
				Velocity: 20,
			})
		}
		scn := &scenario.Scenario{
			ID: name, DT: 0.2,
			LaneletNetwork: scenario.NewLaneletNetwork([]*scenario.Lanelet{lanelet}),
		}
		if err := scn.AddObstacle(ego); err != nil {
			t.Fatal(err)
		}
		scn.PlanningProblems = append(scn.PlanningProblems, &scenario.PlanningProblem{
			ID: 100, InitialState: initial,
			Goal: scenario.GoalRegion{Center: scenario.Vec2{X: 300, Y: 2}, Length: 5, Width: 2, TimeMax: 31},
		})
		if err := scenario.Write(scn, filepath.Join(dir, name+".xml")); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	write("finished", 31)
	write("crashed", 7)

	report, err := AnalyzeXML(dir)
	if err != nil {
		t.Fatalf("AnalyzeXML: %v", err)
	}
	if report.Episodes != 2 || report.Finished != 1 {
		t.Fatalf("episodes = %d, finished = %d", report.Episodes, report.Finished)
	}
	if !approx(report.FinishedPct, 50) {
		t.Fatalf("finished pct = %v", report.FinishedPct)
	}
	if !approx(report.AvgTravelled, 31*8) {
		t.Fatalf("avg travelled = %v, want %v", report.AvgTravelled, 31*8)
	}
}

func TestAnalyzeBatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "labels.csv")
	mona := true
	rows := []results.BatchLabelRow{
		{ScenarioID: "a", TrajectoryLateral: "follow_lane", TrajectoryLongitudinal: "keep",
			SafeTop1: true, SafeTopK: true, MatchTop1: true, MatchTopK: true, MonaSafe: &mona},
		{ScenarioID: "b", TrajectoryLateral: "left", TrajectoryLongitudinal: "keep",
			SafeTopK: true, MatchTopK: true},
	}
	if err := results.WriteBatchLabels(path, rows); err != nil {
		t.Fatalf("WriteBatchLabels: %v", err)
	}
	report, err := AnalyzeBatch(path)
	if err != nil {
		t.Fatalf("AnalyzeBatch: %v", err)
	}
	if !approx(report.Rates["Safe_Top1"], 50) || !approx(report.Rates["Safe_TopK"], 100) {
		t.Fatalf("safe rates = %v", report.Rates)
	}
	if !approx(report.Rates["Match_Top1"], 50) || !approx(report.Rates["Match_TopK"], 100) {
		t.Fatalf("match rates = %v", report.Rates)
	}
	if !report.HasMona || !approx(report.MonaRate, 100) {
		t.Fatalf("mona rate = %v (has=%v)", report.MonaRate, report.HasMona)
	}
}
