// Package llm obtains schema-conforming driving decisions from an LLM
// backend: OpenAI, an OpenAI-compatible local server, or Anthropic.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/CommonRoad/sandra/internal/actions"
	"github.com/CommonRoad/sandra/internal/config"
	"github.com/CommonRoad/sandra/internal/describer"
	"github.com/CommonRoad/sandra/internal/observability"
	"github.com/CommonRoad/sandra/internal/retry"
)

// Client wraps a provider with schema validation, retries on malformed
// output, metrics and optional prompt/response recording.
type Client struct {
	provider Provider
	cfg      *config.Config
	log      *observability.Logger
	metrics  *observability.Metrics

	// recordDir persists each request and response as JSON when set.
	recordDir string
}

// New builds the client for the configured provider.
func New(cfg *config.Config, log *observability.Logger, metrics *observability.Metrics) (*Client, error) {
	provider, err := newProvider(cfg)
	if err != nil {
		return nil, err
	}
	return &Client{provider: provider, cfg: cfg, log: log, metrics: metrics}, nil
}

// NewWithProvider is the injection point for tests and custom backends.
func NewWithProvider(cfg *config.Config, log *observability.Logger, metrics *observability.Metrics, provider Provider) *Client {
	return &Client{provider: provider, cfg: cfg, log: log, metrics: metrics}
}

// Record enables persisting every request/response pair under dir.
func (c *Client) Record(dir string) {
	c.recordDir = dir
}

// Decide queries the model and returns the validated decision.
// Malformed or schema-violating responses are retried up to the
// configured limit.
func (c *Client) Decide(ctx context.Context, req Request) (*describer.Decision, error) {
	schemaJSON, err := json.Marshal(req.Schema)
	if err != nil {
		return nil, fmt.Errorf("marshal decision schema: %w", err)
	}
	compiled, err := jsonschema.CompileString("decision_schema", string(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("compile decision schema: %w", err)
	}

	retryCfg := retry.DefaultConfig()
	if c.cfg.LLM.RetryLimit > 0 {
		retryCfg.MaxAttempts = c.cfg.LLM.RetryLimit
	}

	var decision *describer.Decision
	err = retry.Do(ctx, retryCfg, func() error {
		start := time.Now()
		raw, err := c.provider.Complete(ctx, req)
		c.metrics.LLMRequestDuration.WithLabelValues(c.provider.Name(), c.cfg.LLM.Model).Observe(time.Since(start).Seconds())
		if err != nil {
			c.metrics.LLMRequestCounter.WithLabelValues(c.provider.Name(), c.cfg.LLM.Model, "error").Inc()
			return err
		}

		d, err := c.parse(compiled, raw)
		if err != nil {
			c.metrics.LLMRequestCounter.WithLabelValues(c.provider.Name(), c.cfg.LLM.Model, "error").Inc()
			c.log.Warn(ctx, "discarding malformed model response", "error", err)
			return err
		}
		c.metrics.LLMRequestCounter.WithLabelValues(c.provider.Name(), c.cfg.LLM.Model, "success").Inc()
		if c.recordDir != "" {
			if err := c.record(req, schemaJSON, raw); err != nil {
				c.log.Warn(ctx, "failed to record llm exchange", "error", err)
			}
		}
		decision = d
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("structured response from %s: %w", c.provider.Name(), err)
	}
	return decision, nil
}

// parse validates the raw document against the schema and decodes it.
func (c *Client) parse(schema *jsonschema.Schema, raw json.RawMessage) (*describer.Decision, error) {
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if err := schema.Validate(payload); err != nil {
		return nil, fmt.Errorf("response violates decision schema: %w", err)
	}
	var decision describer.Decision
	if err := json.Unmarshal(raw, &decision); err != nil {
		return nil, fmt.Errorf("decode decision: %w", err)
	}
	if len(decision.ActionRanking) == 0 {
		return nil, fmt.Errorf("decision contains no action ranking")
	}
	for _, a := range decision.ActionRanking {
		if _, err := actions.ParseLongitudinal(string(a.Longitudinal)); err != nil {
			return nil, err
		}
		if _, err := actions.ParseLateral(string(a.Lateral)); err != nil {
			return nil, err
		}
	}
	return &decision, nil
}

// record mirrors the saved exchange layout the analysis tooling reads:
// one JSON file with the prompts, the schema and the model output.
func (c *Client) record(req Request, schemaJSON, raw json.RawMessage) error {
	exchange := map[string]any{
		"input": map[string]any{
			"system": req.System,
			"user":   req.User,
			"schema": string(schemaJSON),
		},
		"output": raw,
	}
	data, err := json.MarshalIndent(exchange, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(c.recordDir, 0o755); err != nil {
		return err
	}
	name := fmt.Sprintf("output-%d.json", time.Now().UnixNano())
	return os.WriteFile(filepath.Join(c.recordDir, name), data, 0o644)
}
