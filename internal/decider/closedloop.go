package decider

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/CommonRoad/sandra/internal/actions"
	"github.com/CommonRoad/sandra/internal/config"
	"github.com/CommonRoad/sandra/internal/describer"
	"github.com/CommonRoad/sandra/internal/highway"
	"github.com/CommonRoad/sandra/internal/llm"
	"github.com/CommonRoad/sandra/internal/observability"
	"github.com/CommonRoad/sandra/internal/results"
	"github.com/CommonRoad/sandra/internal/scenario"
	"github.com/CommonRoad/sandra/internal/verifier"
)

// failSafeAction is what the simulation executes when no ranked
// maneuver verifies: brake in the current lane.
var failSafeAction = actions.Action{Longitudinal: actions.Decelerate, Lateral: actions.FollowLane}

// HighwayDecider runs the decision loop against the closed-loop
// highway simulation and records the driven episode.
type HighwayDecider struct {
	cfg     *config.Config
	log     *observability.Logger
	metrics *observability.Metrics
	dec     *Decider
	sim     *highway.Simulation
	store   *results.Store

	whole       *scenario.Scenario
	egoWhole    *scenario.Obstacle
	pastActions []actions.Action
}

// NewHighway seeds the simulation and prepares the episode recording.
func NewHighway(cfg *config.Config, log *observability.Logger, metrics *observability.Metrics, client *llm.Client, seed int64) (*HighwayDecider, error) {
	sim, err := highway.New(cfg, seed)
	if err != nil {
		return nil, err
	}
	h := &HighwayDecider{
		cfg:     cfg,
		log:     log,
		metrics: metrics,
		dec:     NewWithClient(cfg, log, metrics, client),
		sim:     sim,
	}
	if err := h.initRecording(); err != nil {
		return nil, err
	}
	return h, nil
}

// WithStore attaches the sqlite results store.
func (h *HighwayDecider) WithStore(store *results.Store) *HighwayDecider {
	h.store = store
	return h
}

// initRecording snapshots the initial world as the episode scenario.
// Obstacle trajectories start empty and grow one state per step.
func (h *HighwayDecider) initRecording() error {
	snap, pp, err := h.sim.ToScenario(0)
	if err != nil {
		return err
	}
	h.whole = &scenario.Scenario{
		ID:             h.sim.EpisodeID(),
		DT:             snap.DT,
		Author:         snap.Author,
		Source:         snap.Source,
		Tags:           snap.Tags,
		LaneletNetwork: snap.LaneletNetwork,
	}
	h.whole.PlanningProblems = append(h.whole.PlanningProblems, pp)
	for _, o := range snap.Obstacles {
		if err := h.whole.AddObstacle(&scenario.Obstacle{
			ID:           o.ID,
			Type:         o.Type,
			Length:       o.Length,
			Width:        o.Width,
			InitialState: o.InitialState,
		}); err != nil {
			return err
		}
	}
	h.egoWhole = h.sim.EgoObstacle()
	return h.whole.AddObstacle(h.egoWhole)
}

// recordStep appends the post-step world state to the episode.
func (h *HighwayDecider) recordStep(step int) {
	for _, v := range h.sim.Traffic {
		o := h.whole.ObstacleByID(v.ID)
		if o == nil {
			continue
		}
		o.AppendState(v.State(step))
	}
	h.egoWhole.AppendState(h.sim.Ego.State(step))
}

func (h *HighwayDecider) recordAction(a actions.Action) {
	h.pastActions = append(h.pastActions, a)
	if len(h.pastActions) > 5 {
		h.pastActions = h.pastActions[1:]
	}
}

// Run drives the episode to collision or duration and writes the
// evaluation CSV and the recorded scenario XML.
func (h *HighwayDecider) Run(ctx context.Context) error {
	seed := h.sim.Seed()
	csvPath := filepath.Join(h.cfg.ResultsFolder(seed), "evaluation.csv")
	w, err := results.NewEvaluationWriter(csvPath, h.cfg.Horizon.TopK)
	if err != nil {
		return err
	}
	defer w.Close()

	var runID string
	if h.store != nil {
		runID, err = h.store.CreateRun(ctx, h.sim.EpisodeID(), h.cfg.LLM.Model)
		if err != nil {
			return err
		}
	}

	for !h.sim.Done() {
		step := h.sim.TimeStep()
		h.log.Info(ctx, "simulation frame", "step", step, "seed", seed)

		outcome, err := h.decideStep(ctx)
		if err != nil {
			return fmt.Errorf("step %d: %w", step, err)
		}
		if err := w.WriteIteration(step, outcome.VerifiedID, outcome.Ranking); err != nil {
			return err
		}
		if h.store != nil {
			err := h.store.RecordDecision(ctx, results.Decision{
				RunID:      runID,
				Iteration:  step,
				VerifiedID: outcome.VerifiedID,
				Ranking:    outcome.Ranking,
			})
			if err != nil {
				return err
			}
		}

		executed := failSafeAction
		if outcome.Action != nil {
			executed = *outcome.Action
		}
		h.recordAction(executed)
		h.sim.Step(executed.Meta())
		h.metrics.SimulationSteps.Inc()
		h.recordStep(step + 1)
	}

	if h.sim.Crashed() {
		h.log.Warn(ctx, "episode ended in collision", "step", h.sim.TimeStep(), "seed", seed)
	}
	if err := w.WriteTravelled(h.sim.Travelled()); err != nil {
		return err
	}

	xmlPath := filepath.Join(h.cfg.MonitoringDir(), h.whole.ID+".xml")
	if err := scenario.Write(h.whole, xmlPath); err != nil {
		return err
	}
	h.log.Info(ctx, "episode recorded", "travelled", h.sim.Travelled(), "scenario", xmlPath, "results", csvPath)
	return nil
}

// decideStep snapshots the world, prompts the model and verifies the
// ranking for the current frame.
func (h *HighwayDecider) decideStep(ctx context.Context) (*Outcome, error) {
	scn, pp, err := h.sim.ToScenario(h.cfg.Horizon.Steps)
	if err != nil {
		return nil, err
	}
	egoNet, err := egoNetwork(scn, pp.InitialState)
	if err != nil {
		return nil, err
	}
	desc, err := describer.New(h.cfg, scn, h.sim.EgoObstacle(), egoNet, describer.Options{
		Role:          "Don't change the lanes too often. ",
		ScenarioType:  "highway",
		DescribeTTC:   true,
		RulesInPrompt: h.cfg.Highway.RulesInPrompt,
	})
	if err != nil {
		return nil, err
	}
	for _, a := range h.pastActions {
		desc.RecordAction(a)
	}
	ver, err := verifier.New(h.cfg, scn, pp.InitialState, -1, egoNet, h.dec.predictor(), h.log, h.metrics)
	if err != nil {
		return nil, err
	}
	return h.dec.Decide(ctx, desc, ver)
}
