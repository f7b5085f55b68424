package results

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/CommonRoad/sandra/internal/actions"
)

func sampleRanking() []actions.Action {
	return []actions.Action{
		{Longitudinal: actions.Keep, Lateral: actions.FollowLane},
		{Longitudinal: actions.Decelerate, Lateral: actions.FollowLane},
		{Longitudinal: actions.Keep, Lateral: actions.ChangeLeft},
	}
}

func TestEvaluationRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "evaluation.csv")
	w, err := NewEvaluationWriter(path, 3)
	if err != nil {
		t.Fatalf("NewEvaluationWriter: %v", err)
	}
	if err := w.WriteIteration(0, 0, sampleRanking()); err != nil {
		t.Fatalf("WriteIteration: %v", err)
	}
	if err := w.WriteIteration(1, 2, sampleRanking()[:2]); err != nil {
		t.Fatalf("WriteIteration: %v", err)
	}
	if err := w.WriteTravelled(123.5); err != nil {
		t.Fatalf("WriteTravelled: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	ev, err := ReadEvaluation(path)
	if err != nil {
		t.Fatalf("ReadEvaluation: %v", err)
	}
	if ev.TopK != 3 {
		t.Fatalf("TopK = %d, want 3", ev.TopK)
	}
	if len(ev.Rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(ev.Rows))
	}
	if ev.Travelled != 123.5 {
		t.Fatalf("Travelled = %v, want 123.5", ev.Travelled)
	}
	if ev.MaxIteration() != 1 {
		t.Fatalf("MaxIteration = %d, want 1", ev.MaxIteration())
	}

	first := ev.Rows[0]
	if first.VerifiedID != 0 {
		t.Fatalf("verified id = %d, want 0", first.VerifiedID)
	}
	if first.Lateral[2] != string(actions.ChangeLeft) || first.Longitudinal[1] != string(actions.Decelerate) {
		t.Fatalf("unexpected ranking columns: %v / %v", first.Lateral, first.Longitudinal)
	}

	second := ev.Rows[1]
	if second.Lateral[2] != "" || second.Longitudinal[2] != "" {
		t.Fatalf("short ranking not padded: %v / %v", second.Lateral, second.Longitudinal)
	}
}

func TestBatchLabelsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "labels.csv")
	mona := true
	rows := []BatchLabelRow{
		{
			ScenarioID:             "highenv_2_2.0_8",
			TrajectoryLateral:      string(actions.FollowLane),
			TrajectoryLongitudinal: string(actions.Keep),
			SafeTop1:               true,
			SafeTopK:               true,
			MatchTop1:              false,
			MatchTopK:              true,
			MonaSafe:               &mona,
		},
		{
			ScenarioID:             "highenv_2_2.0_9",
			TrajectoryLateral:      string(actions.ChangeLeft),
			TrajectoryLongitudinal: string(actions.Decelerate),
		},
	}
	if err := WriteBatchLabels(path, rows); err != nil {
		t.Fatalf("WriteBatchLabels: %v", err)
	}

	got, err := ReadBatchLabels(path)
	if err != nil {
		t.Fatalf("ReadBatchLabels: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d rows, want 2", len(got))
	}
	if got[0].ScenarioID != "highenv_2_2.0_8" || !got[0].SafeTop1 || got[0].MatchTop1 {
		t.Fatalf("unexpected first row: %+v", got[0])
	}
	if got[0].MonaSafe == nil || !*got[0].MonaSafe {
		t.Fatalf("MONA verdict lost: %+v", got[0])
	}
	if got[1].MonaSafe != nil {
		t.Fatalf("expected nil MONA verdict for second row, got %v", *got[1].MonaSafe)
	}
	if got[1].SafeTop1 || got[1].MatchTopK {
		t.Fatalf("unset booleans should read false: %+v", got[1])
	}
}

func TestStoreRoundTrip(t *testing.T) {
	s, err := OpenStore(":memory:")
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	runID, err := s.CreateRun(ctx, "highenv_2_2.0_8", "gpt-4o")
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if runID == "" {
		t.Fatal("CreateRun returned empty id")
	}

	for i := 0; i < 3; i++ {
		d := Decision{RunID: runID, Iteration: i, VerifiedID: i % 2, Ranking: sampleRanking()}
		if err := s.RecordDecision(ctx, d); err != nil {
			t.Fatalf("RecordDecision: %v", err)
		}
	}

	runs, err := s.Runs(ctx)
	if err != nil {
		t.Fatalf("Runs: %v", err)
	}
	if len(runs) != 1 || runs[0].Model != "gpt-4o" {
		t.Fatalf("unexpected runs: %+v", runs)
	}

	ds, err := s.Decisions(ctx, runID)
	if err != nil {
		t.Fatalf("Decisions: %v", err)
	}
	if len(ds) != 3 {
		t.Fatalf("got %d decisions, want 3", len(ds))
	}
	if ds[2].Iteration != 2 || ds[2].VerifiedID != 0 {
		t.Fatalf("unexpected last decision: %+v", ds[2])
	}
	if len(ds[0].Ranking) != 3 || ds[0].Ranking[2].Lateral != actions.ChangeLeft {
		t.Fatalf("ranking not restored: %+v", ds[0].Ranking)
	}
}
