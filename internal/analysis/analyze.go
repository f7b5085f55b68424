package analysis

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/CommonRoad/sandra/internal/actions"
	"github.com/CommonRoad/sandra/internal/results"
	"github.com/CommonRoad/sandra/internal/scenario"
)

// finishedIteration is the last decision step of a full-length episode;
// an episode whose ego trajectory reaches it counts as finished.
const finishedIteration = 30

// CollectEvaluations loads every <folder>/evaluation.csv below baseDir.
func CollectEvaluations(baseDir string) ([]*results.Evaluation, error) {
	files, err := filepath.Glob(filepath.Join(baseDir, "*", "evaluation.csv"))
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no evaluation.csv found below %s", baseDir)
	}
	sort.Strings(files)
	evs := make([]*results.Evaluation, 0, len(files))
	for _, f := range files {
		ev, err := results.ReadEvaluation(f)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f, err)
		}
		evs = append(evs, ev)
	}
	return evs, nil
}

// RatioGroup is the executed-action distribution for one
// (lanes, density) environment configuration.
type RatioGroup struct {
	Lanes   int
	Density float64
	Report  *RatioReport
}

// resultsFolderPattern matches the lanes/density/seed segment of a
// results folder name, e.g. results-True-gpt-4o-5-3.0-4213-rule_prompt-...
var resultsFolderPattern = regexp.MustCompile(`-(\d+)-(\d+\.\d+)-\d+(?:-spot)?-rule_prompt-`)

// GroupedRatios computes one executed-action distribution per
// (lanes, density) pair encoded in the result folder names below
// baseDir. Folders without the encoding are skipped. Groups come back
// sorted by lanes, then density.
func GroupedRatios(baseDir string) ([]RatioGroup, error) {
	files, err := filepath.Glob(filepath.Join(baseDir, "*", "evaluation.csv"))
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no evaluation.csv found below %s", baseDir)
	}
	sort.Strings(files)

	type key struct {
		lanes   int
		density float64
	}
	grouped := map[key][]*results.Evaluation{}
	for _, f := range files {
		m := resultsFolderPattern.FindStringSubmatch(filepath.Base(filepath.Dir(f)))
		if m == nil {
			continue
		}
		lanes, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		density, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			continue
		}
		ev, err := results.ReadEvaluation(f)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f, err)
		}
		k := key{lanes, density}
		grouped[k] = append(grouped[k], ev)
	}

	groups := make([]RatioGroup, 0, len(grouped))
	for k, evs := range grouped {
		groups = append(groups, RatioGroup{Lanes: k.lanes, Density: k.density, Report: Ratio(evs)})
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].Lanes != groups[j].Lanes {
			return groups[i].Lanes < groups[j].Lanes
		}
		return groups[i].Density < groups[j].Density
	})
	return groups, nil
}

// RatioReport is the distribution of executed actions across episodes.
type RatioReport struct {
	// Actions maps each executed maneuver to its share of all decision
	// steps that executed a ranked action.
	Actions map[actions.Action]float64
	// Meta aggregates the same shares by discrete meta-action.
	Meta map[string]float64
	// Steps is the number of decision steps with an executed ranked
	// action; fail-safe steps are excluded.
	Steps int
}

// Ratio computes the executed-action distribution: for each row the
// executed maneuver is the ranking entry the verifier accepted.
func Ratio(evs []*results.Evaluation) *RatioReport {
	counts := make(map[actions.Action]int)
	total := 0
	for _, ev := range evs {
		for _, row := range ev.Rows {
			if row.VerifiedID >= ev.TopK {
				continue
			}
			lat := row.Lateral[row.VerifiedID]
			lon := row.Longitudinal[row.VerifiedID]
			if lat == "" || lon == "" {
				continue
			}
			a := actions.Action{
				Longitudinal: actions.Longitudinal(lon),
				Lateral:      actions.Lateral(lat),
			}
			counts[a]++
			total++
		}
	}
	report := &RatioReport{
		Actions: make(map[actions.Action]float64, len(counts)),
		Meta:    make(map[string]float64),
		Steps:   total,
	}
	if total == 0 {
		return report
	}
	for a, n := range counts {
		share := float64(n) / float64(total)
		report.Actions[a] = share
		report.Meta[a.Meta().String()] += share
	}
	return report
}

// FailSafeReport summarizes how often the verifier rejected the whole
// ranking.
type FailSafeReport struct {
	Steps         int
	FailSafeSteps int
	// Ratio is FailSafeSteps / Steps.
	Ratio float64
	// AvgVerifiedID averages the verified index over the non-fail-safe
	// steps.
	AvgVerifiedID float64
}

// FailSafe counts decision steps whose verified-id equals or exceeds
// the fail-safe index.
func FailSafe(evs []*results.Evaluation, failSafeIndex int) *FailSafeReport {
	report := &FailSafeReport{}
	sum := 0
	for _, ev := range evs {
		for _, row := range ev.Rows {
			report.Steps++
			if row.VerifiedID >= failSafeIndex {
				report.FailSafeSteps++
			} else {
				sum += row.VerifiedID
			}
		}
	}
	if report.Steps > 0 {
		report.Ratio = float64(report.FailSafeSteps) / float64(report.Steps)
	}
	if ok := report.Steps - report.FailSafeSteps; ok > 0 {
		report.AvgVerifiedID = float64(sum) / float64(ok)
	}
	return report
}

// ClosedLoopReport summarizes closed-loop episodes from their CSVs.
type ClosedLoopReport struct {
	Episodes         int
	AvgMaxIteration  float64
	AvgTravelled     float64
	FinishedPct      float64
	AvgTravelledDone float64
}

// ClosedLoop aggregates episode length, travelled distance and the
// share of episodes that survived the full duration.
func ClosedLoop(evs []*results.Evaluation) *ClosedLoopReport {
	report := &ClosedLoopReport{Episodes: len(evs)}
	if len(evs) == 0 {
		return report
	}
	var iterSum, travSum, travDoneSum float64
	finished := 0
	for _, ev := range evs {
		max := ev.MaxIteration()
		iterSum += float64(max)
		travSum += ev.Travelled
		if max >= finishedIteration {
			finished++
			travDoneSum += ev.Travelled
		}
	}
	report.AvgMaxIteration = iterSum / float64(len(evs))
	report.AvgTravelled = travSum / float64(len(evs))
	report.FinishedPct = float64(finished) / float64(len(evs)) * 100
	if finished > 0 {
		report.AvgTravelledDone = travDoneSum / float64(finished)
	}
	return report
}

// XMLReport summarizes recorded episode scenarios.
type XMLReport struct {
	Episodes     int
	Finished     int
	FinishedPct  float64
	AvgTravelled float64 // finished episodes only
}

// AnalyzeXML reads every recorded scenario in dir and reports which
// episodes drove the full duration and how far they travelled.
func AnalyzeXML(dir string) (*XMLReport, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.xml"))
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no scenario files in %s", dir)
	}
	sort.Strings(files)

	report := &XMLReport{}
	var travelled float64
	for _, file := range files {
		scn, err := scenario.Read(file)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", file, err)
		}
		pp, err := scn.FirstPlanningProblem()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", file, err)
		}
		ego := scn.EgoVehicle(pp)
		if ego == nil {
			return nil, fmt.Errorf("%s: no ego vehicle recorded", file)
		}
		report.Episodes++
		final := ego.FinalState()
		if final.TimeStep >= finishedIteration {
			report.Finished++
			travelled += final.Position.X - ego.InitialState.Position.X
		}
	}
	report.FinishedPct = float64(report.Finished) / float64(report.Episodes) * 100
	if report.Finished > 0 {
		report.AvgTravelled = travelled / float64(report.Finished)
	}
	return report, nil
}

// BatchReport holds average TRUE rates (%) of a batch labels file.
type BatchReport struct {
	Count    int
	Rates    map[string]float64
	HasMona  bool
	MonaRate float64
}

// AnalyzeBatch computes average TRUE rates over a batch labels CSV.
func AnalyzeBatch(path string) (*BatchReport, error) {
	rows, err := results.ReadBatchLabels(path)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("batch labels file %s has no rows", path)
	}
	report := &BatchReport{Count: len(rows), Rates: make(map[string]float64)}
	var safe1, safeK, match1, matchK, mona, monaN int
	for _, r := range rows {
		if r.SafeTop1 {
			safe1++
		}
		if r.SafeTopK {
			safeK++
		}
		if r.MatchTop1 {
			match1++
		}
		if r.MatchTopK {
			matchK++
		}
		if r.MonaSafe != nil {
			monaN++
			if *r.MonaSafe {
				mona++
			}
		}
	}
	pct := func(n int) float64 { return float64(n) / float64(len(rows)) * 100 }
	report.Rates["Safe_Top1"] = pct(safe1)
	report.Rates["Safe_TopK"] = pct(safeK)
	report.Rates["Match_Top1"] = pct(match1)
	report.Rates["Match_TopK"] = pct(matchK)
	if monaN > 0 {
		report.HasMona = true
		report.MonaRate = float64(mona) / float64(monaN) * 100
	}
	return report, nil
}
