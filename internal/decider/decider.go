// Package decider couples the language model with the reachability
// verifier: the model proposes a ranked list of maneuvers, the verifier
// accepts the first provably safe one, and the outcome is recorded for
// later evaluation.
package decider

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/CommonRoad/sandra/internal/actions"
	"github.com/CommonRoad/sandra/internal/config"
	"github.com/CommonRoad/sandra/internal/describer"
	"github.com/CommonRoad/sandra/internal/llm"
	"github.com/CommonRoad/sandra/internal/observability"
	"github.com/CommonRoad/sandra/internal/prediction"
	"github.com/CommonRoad/sandra/internal/results"
	"github.com/CommonRoad/sandra/internal/roads"
	"github.com/CommonRoad/sandra/internal/scenario"
	"github.com/CommonRoad/sandra/internal/verifier"
)

// Outcome is the result of one decision cycle. Action is nil when no
// ranked maneuver verified and the fail-safe corridor was taken;
// VerifiedID is then the configured top-k.
type Outcome struct {
	Ranking    []actions.Action
	VerifiedID int
	Action     *actions.Action
	Corridor   verifier.Corridor
}

// Decider runs single decision cycles against a static scenario.
type Decider struct {
	cfg     *config.Config
	log     *observability.Logger
	metrics *observability.Metrics
	client  *llm.Client
}

// New wires a decider to the configured language model backend.
func New(cfg *config.Config, log *observability.Logger, metrics *observability.Metrics) (*Decider, error) {
	client, err := llm.New(cfg, log, metrics)
	if err != nil {
		return nil, err
	}
	return NewWithClient(cfg, log, metrics, client), nil
}

// NewWithClient injects the model client, mainly for tests.
func NewWithClient(cfg *config.Config, log *observability.Logger, metrics *observability.Metrics, client *llm.Client) *Decider {
	return &Decider{cfg: cfg, log: log, metrics: metrics, client: client}
}

// predictor selects the configured obstacle prediction mode.
func (d *Decider) predictor() prediction.Predictor {
	if d.cfg.Highway.SetBased {
		return prediction.SetBased{AMax: d.cfg.Vehicle.AMax}
	}
	return prediction.ConstantVelocity{}
}

// egoNetwork locates the ego lane and its neighbors at a position.
func egoNetwork(scn *scenario.Scenario, st scenario.State) (*roads.EgoLaneNetwork, error) {
	rn, err := roads.FromPosition(scn.LaneletNetwork, st.Position)
	if err != nil {
		return nil, err
	}
	return roads.NewEgoLaneNetwork(scn.LaneletNetwork, rn, st)
}

// Decide runs one propose-then-verify cycle: prompt the model, then
// verify the ranking best-first. When nothing verifies, the fail-safe
// corridor over all reachable lanes must exist.
func (d *Decider) Decide(ctx context.Context, desc *describer.Describer, ver *verifier.Verifier) (*Outcome, error) {
	schema, err := desc.Schema()
	if err != nil {
		return nil, err
	}
	decision, err := d.client.Decide(ctx, llm.Request{
		System: desc.SystemPrompt(),
		User:   desc.UserPrompt(),
		Schema: schema,
	})
	if err != nil {
		return nil, fmt.Errorf("structured response: %w", err)
	}

	ranking := decision.ActionRanking
	if len(ranking) > d.cfg.Horizon.TopK {
		ranking = ranking[:d.cfg.Horizon.TopK]
	}
	d.log.Info(ctx, "action ranking proposed", "ranking", formatRanking(ranking))

	for i := range ranking {
		a := ranking[i]
		status, err := ver.Verify(ctx, &a)
		if err != nil {
			return nil, fmt.Errorf("verify %s: %w", a, err)
		}
		if status == verifier.Safe {
			d.log.Info(ctx, "action verified", "action", a.String(), "rank", i)
			d.metrics.DecisionCounter.WithLabelValues(string(a.Longitudinal), string(a.Lateral)).Inc()
			return &Outcome{Ranking: ranking, VerifiedID: i, Action: &a, Corridor: ver.Corridor()}, nil
		}
		d.log.Warn(ctx, "action rejected", "action", a.String(), "rank", i)
	}

	status, err := ver.Verify(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("verify fail-safe: %w", err)
	}
	if status != verifier.Safe {
		return nil, fmt.Errorf("no driving corridor exists, not even fail-safe")
	}
	d.log.Warn(ctx, "executing fail-safe corridor")
	d.metrics.FailSafeCounter.Inc()
	// The fail-safe is always recorded at index top-k, even when the
	// model proposed a shorter ranking, so the analysis side can tell
	// it apart from a late verification.
	return &Outcome{Ranking: ranking, VerifiedID: d.cfg.Horizon.TopK, Corridor: ver.Corridor()}, nil
}

// Run performs a single open-loop decision on a scenario file and
// writes the outcome next to the other results.
func (d *Decider) Run(ctx context.Context, scenarioPath string) (*Outcome, error) {
	scn, err := scenario.Read(scenarioPath)
	if err != nil {
		return nil, err
	}
	pp, err := scn.FirstPlanningProblem()
	if err != nil {
		return nil, err
	}
	ego := scn.EgoVehicle(pp)
	if ego == nil {
		// Scenarios without a recorded ego still verify against the
		// planning problem state.
		ego = &scenario.Obstacle{
			ID:           0,
			Type:         scenario.ObstacleCar,
			Length:       d.cfg.Vehicle.Length,
			Width:        d.cfg.Vehicle.Width,
			InitialState: pp.InitialState,
		}
	}
	egoNet, err := egoNetwork(scn, pp.InitialState)
	if err != nil {
		return nil, err
	}
	desc, err := describer.New(d.cfg, scn, ego, egoNet, describer.Options{
		ScenarioType:  "highway",
		DescribeTTC:   true,
		RulesInPrompt: d.cfg.Highway.RulesInPrompt,
	})
	if err != nil {
		return nil, err
	}
	ver, err := verifier.New(d.cfg, scn, pp.InitialState, ego.ID, egoNet, d.predictor(), d.log, d.metrics)
	if err != nil {
		return nil, err
	}

	outcome, err := d.Decide(ctx, desc, ver)
	if err != nil {
		return nil, err
	}

	out := filepath.Join(d.cfg.Paths.ResultsDir, scn.ID+".csv")
	w, err := results.NewEvaluationWriter(out, d.cfg.Horizon.TopK)
	if err != nil {
		return nil, err
	}
	if err := w.WriteIteration(0, outcome.VerifiedID, outcome.Ranking); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	d.log.Info(ctx, "outcome recorded", "path", out, "verified_id", outcome.VerifiedID)
	return outcome, nil
}

func formatRanking(ranking []actions.Action) string {
	parts := make([]string, len(ranking))
	for i, a := range ranking {
		parts[i] = a.String()
	}
	return strings.Join(parts, ", ")
}
