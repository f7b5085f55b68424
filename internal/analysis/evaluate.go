// Package analysis aggregates recorded runs into the evaluation
// figures reported for open-loop and closed-loop experiments.
package analysis

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/CommonRoad/sandra/internal/results"
)

// OpenLoopReport holds the save@k and match@k percentages over a batch
// of single-decision scenarios.
type OpenLoopReport struct {
	Count   int
	SaveAt1 float64
	SaveAt3 float64
	MatchAt [3]float64 // k = 1, 3, 5
}

// matchKs are the ranking depths reported for match@k.
var matchKs = [3]int{1, 3, 5}

// EvaluateOpenLoop scores one result CSV per scenario against the
// ground-truth labels. save@k is the share of scenarios whose first
// verified action sits within the top k; match@k the share where the
// labelled maneuver appears within the top k of the proposed ranking.
// Scenarios where nothing verified count as no match at any depth.
func EvaluateOpenLoop(resultsDir, labelsPath string, topK int) (*OpenLoopReport, error) {
	labels, err := results.ReadBatchLabels(labelsPath)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]results.BatchLabelRow, len(labels))
	for _, l := range labels {
		byID[l.ScenarioID] = l
	}

	files, err := filepath.Glob(filepath.Join(resultsDir, "*.csv"))
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no result files in %s", resultsDir)
	}

	var saveAt, matchAt []int
	for _, file := range files {
		ev, err := results.ReadEvaluation(file)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", file, err)
		}
		if len(ev.Rows) == 0 {
			return nil, fmt.Errorf("%s has no decision row", file)
		}
		row := ev.Rows[0]
		saveAt = append(saveAt, row.VerifiedID+1)

		scenarioID := strings.TrimSuffix(filepath.Base(file), ".csv")
		if row.VerifiedID >= topK {
			matchAt = append(matchAt, topK+1)
			continue
		}
		label, ok := byID[scenarioID]
		if !ok {
			return nil, fmt.Errorf("no label for scenario %s", scenarioID)
		}
		rank := topK + 1
		for i := 0; i < len(row.Lateral) && i < topK; i++ {
			if row.Lateral[i] == label.TrajectoryLateral && row.Longitudinal[i] == label.TrajectoryLongitudinal {
				rank = i + 1
				break
			}
		}
		matchAt = append(matchAt, rank)
	}

	report := &OpenLoopReport{Count: len(saveAt)}
	report.SaveAt1 = percentageAtMost(saveAt, 1)
	report.SaveAt3 = percentageAtMost(saveAt, 3)
	for i, k := range matchKs {
		report.MatchAt[i] = percentageAtMost(matchAt, k)
	}
	return report, nil
}

func percentageAtMost(xs []int, k int) float64 {
	if len(xs) == 0 {
		return 0
	}
	n := 0
	for _, x := range xs {
		if x <= k {
			n++
		}
	}
	return float64(n) / float64(len(xs)) * 100
}
