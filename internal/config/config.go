// Package config defines the SanDRA configuration: the LLM backend,
// vehicle and horizon parameters for reachability analysis, the
// closed-loop highway environment, and filesystem paths.
package config

import (
	"fmt"
	"path/filepath"

	"github.com/caarlos0/env/v11"
)

// Config is the root configuration, loaded from YAML or JSON5 with
// environment overrides applied afterwards.
type Config struct {
	LLM     LLMConfig     `yaml:"llm" json:"llm"`
	Vehicle VehicleConfig `yaml:"vehicle" json:"vehicle"`
	Horizon HorizonConfig `yaml:"horizon" json:"horizon"`
	Highway HighwayConfig `yaml:"highway" json:"highway"`
	Rules   RulesConfig   `yaml:"rules" json:"rules"`
	Paths   PathsConfig   `yaml:"paths" json:"paths"`
	Logging LoggingConfig `yaml:"logging" json:"logging"`
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
}

// LLMConfig selects and parameterizes the decision model backend.
type LLMConfig struct {
	// Provider is one of "openai", "local" or "anthropic". The local
	// provider speaks the OpenAI API against BaseURL, e.g. an Ollama or
	// vLLM server; models below ~8B parameters tend to violate the
	// structured-output schema.
	Provider        string  `yaml:"provider" json:"provider"`
	Model           string  `yaml:"model" json:"model"`
	BaseURL         string  `yaml:"base_url" json:"base_url"`
	APIKey          string  `yaml:"api_key" json:"api_key" env:"OPENAI_API_KEY"`
	AnthropicAPIKey string  `yaml:"anthropic_api_key" json:"anthropic_api_key" env:"ANTHROPIC_API_KEY"`
	Temperature     float64 `yaml:"temperature" json:"temperature"`
	RetryLimit      int     `yaml:"retry_limit" json:"retry_limit"`
}

// VehicleConfig holds the ego dynamics parameters shared by the
// verifier and the labeler.
type VehicleConfig struct {
	// ALim is the comfort acceleration threshold (m/s^2) separating
	// keep from accelerate/decelerate.
	ALim float64 `yaml:"a_lim" json:"a_lim"`
	// VErr is the standstill velocity tolerance (m/s).
	VErr   float64 `yaml:"v_err" json:"v_err"`
	AMax   float64 `yaml:"a_max" json:"a_max"`
	VMax   float64 `yaml:"v_max" json:"v_max"`
	Length float64 `yaml:"length" json:"length"`
	Width  float64 `yaml:"width" json:"width"`
}

// HorizonConfig parameterizes the decision horizon.
type HorizonConfig struct {
	// Steps is the number of discrete time steps verified per decision.
	Steps int `yaml:"steps" json:"steps"`
	// DT is the step duration in seconds.
	DT float64 `yaml:"dt" json:"dt"`
	// TopK is the number of ranking entries recorded per iteration.
	TopK int `yaml:"top_k" json:"top_k"`
}

// HighwayConfig parameterizes the closed-loop highway simulation.
type HighwayConfig struct {
	LanesCount      int     `yaml:"lanes_count" json:"lanes_count"`
	VehiclesDensity float64 `yaml:"vehicles_density" json:"vehicles_density"`
	// Duration is the episode length in decision steps.
	Duration        int     `yaml:"duration" json:"duration"`
	PolicyFrequency float64 `yaml:"policy_frequency" json:"policy_frequency"`
	LaneWidth       float64 `yaml:"lane_width" json:"lane_width"`
	RoadLength      float64 `yaml:"road_length" json:"road_length"`
	Seeds           []int64 `yaml:"seeds" json:"seeds"`
	// SetBased switches obstacle prediction to worst-case occupancy
	// intervals instead of the most-likely trajectory.
	SetBased bool `yaml:"set_based" json:"set_based"`
	// RulesInPrompt adds the interstate rules to the system prompt.
	RulesInPrompt bool `yaml:"rules_in_prompt" json:"rules_in_prompt"`
	// RulesInReach activates safe-distance predicates during
	// verification.
	RulesInReach bool `yaml:"rules_in_reach" json:"rules_in_reach"`
}

// RulesConfig controls traffic-rule monitoring.
type RulesConfig struct {
	// SkipFirstStep ignores a violation present at the initial state,
	// which the simulation may spawn into.
	SkipFirstStep bool `yaml:"skip_first_step" json:"skip_first_step"`
}

// PathsConfig holds filesystem locations.
type PathsConfig struct {
	ScenarioDir string `yaml:"scenario_dir" json:"scenario_dir"`
	OutputDir   string `yaml:"output_dir" json:"output_dir"`
	ResultsDir  string `yaml:"results_dir" json:"results_dir"`
	// Database is the sqlite results store; empty disables it.
	Database string `yaml:"database" json:"database"`
}

// LoggingConfig mirrors the observability logger options.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// MetricsConfig controls the optional prometheus endpoint exposed
// during closed-loop runs.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Listen  string `yaml:"listen" json:"listen"`
}

// Default returns the configuration used when no file is given. The
// numeric values match the reference experiment setup.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:    "openai",
			Model:       "gpt-4.1",
			BaseURL:     "http://localhost:11434/v1",
			Temperature: 0.6,
			RetryLimit:  3,
		},
		Vehicle: VehicleConfig{
			ALim:   1.0,
			VErr:   0.5,
			AMax:   4.0,
			VMax:   40.0,
			Length: 5.0,
			Width:  2.0,
		},
		Horizon: HorizonConfig{
			Steps: 30,
			DT:    0.2,
			TopK:  6,
		},
		Highway: HighwayConfig{
			LanesCount:      4,
			VehiclesDensity: 2.0,
			Duration:        30,
			PolicyFrequency: 1.0,
			LaneWidth:       4.0,
			RoadLength:      1000,
			Seeds:           []int64{5838, 2421, 7294, 9650, 4176, 6382, 8765, 1348, 4213, 2572},
			RulesInPrompt:   true,
			RulesInReach:    true,
		},
		Paths: PathsConfig{
			ScenarioDir: "scenarios",
			OutputDir:   "outputs",
			ResultsDir:  "results",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Listen: "127.0.0.1:9464",
		},
	}
}

// applyEnv overlays environment variables onto the loaded config.
func (c *Config) applyEnv() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("apply env overrides: %w", err)
	}
	return nil
}

// FromEnv returns the defaults with environment overrides applied.
// Unlike Load it does not validate, so commands that never talk to a
// model can run without API keys.
func FromEnv() (*Config, error) {
	cfg := Default()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks invariants the rest of the system relies on.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "openai", "local", "anthropic":
	default:
		return fmt.Errorf("llm.provider must be openai, local or anthropic, got %q", c.LLM.Provider)
	}
	if c.LLM.Provider == "openai" && c.LLM.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required for the openai provider")
	}
	if c.LLM.Provider == "anthropic" && c.LLM.AnthropicAPIKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is required for the anthropic provider")
	}
	if c.Horizon.Steps <= 0 {
		return fmt.Errorf("horizon.steps must be positive, got %d", c.Horizon.Steps)
	}
	if c.Horizon.DT <= 0 {
		return fmt.Errorf("horizon.dt must be positive, got %g", c.Horizon.DT)
	}
	if c.Horizon.TopK <= 0 {
		return fmt.Errorf("horizon.top_k must be positive, got %d", c.Horizon.TopK)
	}
	if c.Vehicle.ALim <= 0 {
		return fmt.Errorf("vehicle.a_lim must be positive, got %g", c.Vehicle.ALim)
	}
	if c.Highway.LanesCount < 2 {
		return fmt.Errorf("highway.lanes_count must be at least 2, got %d", c.Highway.LanesCount)
	}
	return nil
}

// ResultsFolder composes the per-run results directory name the
// analysis tooling globs for.
func (c *Config) ResultsFolder(seed int64) string {
	name := fmt.Sprintf("results-True-%s-%d-%.1f-%d", c.LLM.Model, c.Highway.LanesCount, c.Highway.VehiclesDensity, seed)
	if c.Highway.SetBased {
		name += "-spot"
	}
	name += fmt.Sprintf("-rule_prompt-%s-reach-%s", pyBool(c.Highway.RulesInPrompt), pyBool(c.Highway.RulesInReach))
	return filepath.Join(c.Paths.ResultsDir, name)
}

// MonitoringDir is where recorded closed-loop episodes are written as
// scenario XML for traffic-rule monitoring.
func (c *Config) MonitoringDir() string {
	name := fmt.Sprintf("scenarios_monitoring_%d-%.1f_reach_rule_%s",
		c.Highway.LanesCount, c.Highway.VehiclesDensity, pyBool(c.Highway.RulesInReach))
	return filepath.Join(c.Paths.OutputDir, name)
}

// pyBool renders booleans the way the historical result folders were
// named, so existing experiment trees keep matching.
func pyBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}
