package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/CommonRoad/sandra/internal/analysis"
	"github.com/CommonRoad/sandra/internal/labeler"
	"github.com/CommonRoad/sandra/internal/roads"
	"github.com/CommonRoad/sandra/internal/rules"
	"github.com/CommonRoad/sandra/internal/scenario"
)

func buildLabelCmd() *cobra.Command {
	var obstacleID int

	cmd := &cobra.Command{
		Use:   "label <scenario.xml>...",
		Short: "Derive maneuver labels from recorded trajectories",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, _, err := setup()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, path := range args {
				scn, err := scenario.Read(path)
				if err != nil {
					return err
				}
				target, err := labelTarget(scn, obstacleID)
				if err != nil {
					return err
				}
				rn, err := roads.FromPosition(scn.LaneletNetwork, target.InitialState.Position)
				if err != nil {
					return err
				}
				net, err := roads.NewEgoLaneNetwork(scn.LaneletNetwork, rn, target.InitialState)
				if err != nil {
					return err
				}
				labeler.AugmentAccelerations(target, scn.DT)
				label, err := labeler.New(cfg, scn).Label(target, net)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s: obstacle %d drives %s\n", scn.ID, target.ID, label)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&obstacleID, "obstacle", 0, "Label this obstacle instead of the ego vehicle")
	return cmd
}

// labelTarget picks the obstacle whose trajectory gets labelled, the
// ego vehicle by default.
func labelTarget(scn *scenario.Scenario, obstacleID int) (*scenario.Obstacle, error) {
	if obstacleID != 0 {
		o := scn.ObstacleByID(obstacleID)
		if o == nil {
			return nil, fmt.Errorf("scenario %s has no obstacle %d", scn.ID, obstacleID)
		}
		return o, nil
	}
	pp, err := scn.FirstPlanningProblem()
	if err != nil {
		return nil, err
	}
	ego := scn.EgoVehicle(pp)
	if ego == nil {
		return nil, fmt.Errorf("scenario %s has no obstacle at the planning problem start", scn.ID)
	}
	return ego, nil
}

func buildEvaluateCmd() *cobra.Command {
	var (
		resultsDir string
		labelsPath string
	)

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Score open-loop results against ground-truth labels",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, _, err := setup()
			if err != nil {
				return err
			}
			if resultsDir == "" {
				resultsDir = cfg.Paths.ResultsDir
			}
			report, err := analysis.EvaluateOpenLoop(resultsDir, labelsPath, cfg.Horizon.TopK)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "scenarios:  %d\n", report.Count)
			fmt.Fprintf(out, "save@1:     %.1f%%\n", report.SaveAt1)
			fmt.Fprintf(out, "save@3:     %.1f%%\n", report.SaveAt3)
			fmt.Fprintf(out, "match@1:    %.1f%%\n", report.MatchAt[0])
			fmt.Fprintf(out, "match@3:    %.1f%%\n", report.MatchAt[1])
			fmt.Fprintf(out, "match@5:    %.1f%%\n", report.MatchAt[2])
			return nil
		},
	}
	cmd.Flags().StringVar(&resultsDir, "results", "", "Directory with per-scenario result CSVs (defaults to the configured results dir)")
	cmd.Flags().StringVar(&labelsPath, "labels", "", "Ground-truth labels CSV")
	_ = cmd.MarkFlagRequired("labels")
	return cmd
}

func buildAnalyzeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Aggregate statistics over recorded runs",
	}
	cmd.AddCommand(
		buildAnalyzeRatioCmd(),
		buildAnalyzeFailSafeCmd(),
		buildAnalyzeClosedLoopCmd(),
		buildAnalyzeXMLCmd(),
		buildAnalyzeBatchCmd(),
	)
	return cmd
}

func buildAnalyzeRatioCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ratio <results-base-dir>",
		Short: "Distribution of executed maneuvers across episodes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			evs, err := analysis.CollectEvaluations(args[0])
			if err != nil {
				return err
			}
			report := analysis.Ratio(evs)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "decision steps: %d\n", report.Steps)
			printShares(out, "executed", actionShares(report))
			printShares(out, "meta", report.Meta)

			groups, err := analysis.GroupedRatios(args[0])
			if err != nil {
				return err
			}
			for _, g := range groups {
				fmt.Fprintf(out, "\nlanes %d, density %.1f (%d steps):\n", g.Lanes, g.Density, g.Report.Steps)
				printShares(out, "executed", actionShares(g.Report))
			}
			return nil
		},
	}
}

func buildAnalyzeFailSafeCmd() *cobra.Command {
	var failSafeIndex int

	cmd := &cobra.Command{
		Use:   "failsafe <results-base-dir>",
		Short: "Share of decision steps that fell back to the fail-safe corridor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, _, err := setup()
			if err != nil {
				return err
			}
			if failSafeIndex == 0 {
				failSafeIndex = cfg.Horizon.TopK
			}
			evs, err := analysis.CollectEvaluations(args[0])
			if err != nil {
				return err
			}
			report := analysis.FailSafe(evs, failSafeIndex)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "decision steps:   %d\n", report.Steps)
			fmt.Fprintf(out, "fail-safe steps:  %d (%.1f%%)\n", report.FailSafeSteps, report.Ratio*100)
			fmt.Fprintf(out, "avg verified id:  %.2f\n", report.AvgVerifiedID)
			return nil
		},
	}
	cmd.Flags().IntVar(&failSafeIndex, "index", 0, "Verified index treated as fail-safe (defaults to the configured top-k)")
	return cmd
}

func buildAnalyzeClosedLoopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "closedloop <results-base-dir>",
		Short: "Episode length and travelled distance over closed-loop runs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			evs, err := analysis.CollectEvaluations(args[0])
			if err != nil {
				return err
			}
			report := analysis.ClosedLoop(evs)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "episodes:               %d\n", report.Episodes)
			fmt.Fprintf(out, "avg last iteration:     %.1f\n", report.AvgMaxIteration)
			fmt.Fprintf(out, "avg travelled:          %.1f m\n", report.AvgTravelled)
			fmt.Fprintf(out, "finished:               %.1f%%\n", report.FinishedPct)
			fmt.Fprintf(out, "avg travelled finished: %.1f m\n", report.AvgTravelledDone)
			return nil
		},
	}
}

func buildAnalyzeXMLCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "xml <monitoring-dir>",
		Short: "Episode statistics from recorded scenario XML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := analysis.AnalyzeXML(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "episodes:      %d\n", report.Episodes)
			fmt.Fprintf(out, "finished:      %d (%.1f%%)\n", report.Finished, report.FinishedPct)
			fmt.Fprintf(out, "avg travelled: %.1f m\n", report.AvgTravelled)
			return nil
		},
	}
}

func buildAnalyzeBatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "batch <labels.csv>",
		Short: "Average safety and match rates over a batch labels CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := analysis.AnalyzeBatch(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "scenarios: %d\n", report.Count)
			keys := make([]string, 0, len(report.Rates))
			for k := range report.Rates {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(out, "%s: %.1f%%\n", k, report.Rates[k])
			}
			if report.HasMona {
				fmt.Fprintf(out, "MONA safe: %.1f%%\n", report.MonaRate)
			}
			return nil
		},
	}
}

func buildMonitorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "monitor <scenario.xml | dir>",
		Short: "Check recorded episodes against the interstate traffic rules",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, _, err := setup()
			if err != nil {
				return err
			}
			files, err := monitorFiles(args[0])
			if err != nil {
				return err
			}
			monitor := &rules.Monitor{SkipFirstStep: cfg.Rules.SkipFirstStep}
			out := cmd.OutOrStdout()
			total := make(map[rules.ID]int)
			violated := make(map[rules.ID]int)
			for _, path := range files {
				scn, err := scenario.Read(path)
				if err != nil {
					return err
				}
				ego, err := labelTarget(scn, 0)
				if err != nil {
					return err
				}
				reports, err := monitor.Evaluate(scn, ego)
				if err != nil {
					return err
				}
				for _, r := range reports {
					total[r.Rule]++
					if r.Violated {
						violated[r.Rule]++
						fmt.Fprintf(out, "%s: %s violated\n", scn.ID, r.Rule)
					}
				}
			}
			fmt.Fprintf(out, "episodes checked: %d\n", len(files))
			ruleIDs := make([]string, 0, len(total))
			for rule := range total {
				ruleIDs = append(ruleIDs, string(rule))
			}
			sort.Strings(ruleIDs)
			for _, rule := range ruleIDs {
				id := rules.ID(rule)
				fmt.Fprintf(out, "%s: %d/%d violated (%.1f%%)\n",
					rule, violated[id], total[id], float64(violated[id])/float64(total[id])*100)
			}
			return nil
		},
	}
}

// monitorFiles resolves a single scenario file or every XML in a
// directory.
func monitorFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}
	files, err := filepath.Glob(filepath.Join(path, "*.xml"))
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no scenario files in %s", path)
	}
	sort.Strings(files)
	return files, nil
}

// actionShares renders the executed-action map with printable keys.
func actionShares(report *analysis.RatioReport) map[string]float64 {
	shares := make(map[string]float64, len(report.Actions))
	for a, share := range report.Actions {
		shares[a.String()] = share
	}
	return shares
}

// printShares prints a share map sorted by key for stable output.
func printShares(out io.Writer, prefix string, shares map[string]float64) {
	keys := make([]string, 0, len(shares))
	for k := range shares {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(out, "%s %s: %.1f%%\n", prefix, k, shares[k]*100)
	}
}
