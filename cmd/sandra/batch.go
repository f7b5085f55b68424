package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/CommonRoad/sandra/internal/actions"
	"github.com/CommonRoad/sandra/internal/config"
	"github.com/CommonRoad/sandra/internal/decider"
	"github.com/CommonRoad/sandra/internal/labeler"
	"github.com/CommonRoad/sandra/internal/llm"
	"github.com/CommonRoad/sandra/internal/observability"
	"github.com/CommonRoad/sandra/internal/results"
	"github.com/CommonRoad/sandra/internal/roads"
	"github.com/CommonRoad/sandra/internal/scenario"
)

func buildBatchCmd() *cobra.Command {
	var (
		watch     bool
		labelsOut string
	)

	cmd := &cobra.Command{
		Use:   "batch <scenario-dir>",
		Short: "Decide on every scenario in a directory",
		Long:  "Runs the open-loop decision cycle over all scenario files in a\ndirectory, skipping those that already have results. With --watch the\ndirectory is observed and new scenario files are processed as they\nappear, until interrupted.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer signalContext(cmd)()
			cfg, log, metrics, err := setup()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			client, err := llm.New(cfg, log, metrics)
			if err != nil {
				return err
			}
			b := &batchRunner{
				cfg: cfg,
				log: log,
				dec: decider.NewWithClient(cfg, log, metrics, client),
				out: cmd.OutOrStdout(),
			}

			dir := args[0]
			files, err := filepath.Glob(filepath.Join(dir, "*.xml"))
			if err != nil {
				return err
			}
			sort.Strings(files)
			ctx := cmd.Context()
			for _, path := range files {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				b.process(ctx, path)
			}
			if watch {
				if err := b.watch(ctx, dir); err != nil {
					return err
				}
			}
			if labelsOut != "" && len(b.rows) > 0 {
				if err := results.WriteBatchLabels(labelsOut, b.rows); err != nil {
					return err
				}
				fmt.Fprintf(b.out, "wrote %d label rows to %s\n", len(b.rows), labelsOut)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "Keep watching the directory for new scenario files")
	cmd.Flags().StringVar(&labelsOut, "labels-out", "", "Write per-scenario safety and match labels to this CSV")
	return cmd
}

type batchRunner struct {
	cfg  *config.Config
	log  *observability.Logger
	dec  *decider.Decider
	out  io.Writer
	rows []results.BatchLabelRow
}

// process runs one scenario and collects its label row. Failures are
// logged and skipped so one broken file does not abort the batch.
func (b *batchRunner) process(ctx context.Context, path string) {
	scn, err := scenario.Read(path)
	if err != nil {
		b.log.Error(ctx, "skipping unreadable scenario", "path", path, "error", err)
		return
	}
	resultPath := filepath.Join(b.cfg.Paths.ResultsDir, scn.ID+".csv")
	if _, err := os.Stat(resultPath); err == nil {
		b.log.Info(ctx, "results exist, skipping", "scenario", scn.ID)
		return
	}

	outcome, err := b.dec.Run(ctx, path)
	if err != nil {
		b.log.Error(ctx, "decision failed", "scenario", scn.ID, "error", err)
		return
	}
	row := results.BatchLabelRow{
		ScenarioID: scn.ID,
		SafeTop1:   outcome.Action != nil && outcome.VerifiedID == 0,
		SafeTopK:   outcome.Action != nil,
	}
	if label, ok := b.labelTrajectory(ctx, scn); ok {
		row.TrajectoryLateral = string(label.Lateral)
		row.TrajectoryLongitudinal = string(label.Longitudinal)
		for i, a := range outcome.Ranking {
			if a != label {
				continue
			}
			row.MatchTopK = true
			row.MatchTop1 = i == 0
			break
		}
	}
	b.rows = append(b.rows, row)
	if outcome.Action != nil {
		fmt.Fprintf(b.out, "%s: verified %d of %d\n", scn.ID, outcome.VerifiedID+1, len(outcome.Ranking))
	} else {
		fmt.Fprintf(b.out, "%s: nothing verified, fail-safe\n", scn.ID)
	}
}

// labelTrajectory derives the ground-truth maneuver from the recorded
// ego trajectory, when the scenario carries one.
func (b *batchRunner) labelTrajectory(ctx context.Context, scn *scenario.Scenario) (actions.Action, bool) {
	pp, err := scn.FirstPlanningProblem()
	if err != nil {
		return actions.Action{}, false
	}
	ego := scn.EgoVehicle(pp)
	if ego == nil || len(ego.Trajectory) == 0 {
		return actions.Action{}, false
	}
	rn, err := roads.FromPosition(scn.LaneletNetwork, ego.InitialState.Position)
	if err != nil {
		b.log.Warn(ctx, "cannot locate ego lane for labeling", "scenario", scn.ID, "error", err)
		return actions.Action{}, false
	}
	net, err := roads.NewEgoLaneNetwork(scn.LaneletNetwork, rn, ego.InitialState)
	if err != nil {
		return actions.Action{}, false
	}
	labeler.AugmentAccelerations(ego, scn.DT)
	label, err := labeler.New(b.cfg, scn).Label(ego, net)
	if err != nil {
		b.log.Warn(ctx, "labeling failed", "scenario", scn.ID, "error", err)
		return actions.Action{}, false
	}
	return label, true
}

// watch processes scenario files as they land in dir until the context
// is cancelled.
func (b *batchRunner) watch(ctx context.Context, dir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("start directory watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	b.log.Info(ctx, "watching for scenarios", "dir", dir)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !strings.HasSuffix(event.Name, ".xml") {
				continue
			}
			b.process(ctx, event.Name)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			b.log.Error(ctx, "watcher error", "error", err)
		}
	}
}
