package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadYAMLWithInclude(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", "llm:\n  provider: local\n  model: qwen3:14b\n")
	path := writeFile(t, dir, "config.yaml", "$include: base.yaml\nhorizon:\n  steps: 15\n")

	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("ANTHROPIC_API_KEY", "")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LLM.Provider != "local" || cfg.LLM.Model != "qwen3:14b" {
		t.Fatalf("include not applied: %+v", cfg.LLM)
	}
	if cfg.Horizon.Steps != 15 {
		t.Fatalf("expected steps 15, got %d", cfg.Horizon.Steps)
	}
	// Defaults survive partial configs.
	if cfg.Horizon.DT != 0.2 {
		t.Fatalf("expected default dt 0.2, got %g", cfg.Horizon.DT)
	}
}

func TestLoadJSON5(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.json5", `{
	// local inference server
	llm: {provider: "local", model: "llama3.1:8b"},
}`)
	t.Setenv("OPENAI_API_KEY", "")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LLM.Model != "llama3.1:8b" {
		t.Fatalf("expected model from json5, got %q", cfg.LLM.Model)
	}
}

func TestEnvOverridesAPIKey(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", "llm:\n  provider: openai\n")
	t.Setenv("OPENAI_API_KEY", "sk-test-1234")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LLM.APIKey != "sk-test-1234" {
		t.Fatalf("expected env api key, got %q", cfg.LLM.APIKey)
	}
}

func TestFromEnvAppliesKeysWithoutFile(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-env-only")
	t.Setenv("ANTHROPIC_API_KEY", "")
	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv() error = %v", err)
	}
	if cfg.LLM.APIKey != "sk-env-only" {
		t.Fatalf("expected env api key on the defaults path, got %q", cfg.LLM.APIKey)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() after FromEnv() = %v", err)
	}
}

func TestValidateRejectsMissingKey(t *testing.T) {
	cfg := Default()
	cfg.LLM.Provider = "openai"
	cfg.LLM.APIKey = ""
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error for missing OPENAI_API_KEY")
	}
}

func TestValidateRejectsBadProvider(t *testing.T) {
	cfg := Default()
	cfg.LLM.Provider = "bedrock"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error for unknown provider")
	}
}

func TestIncludeCycleDetected(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "$include: b.yaml\n")
	path := writeFile(t, dir, "b.yaml", "$include: a.yaml\n")
	if _, err := LoadRaw(path); err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Fatalf("expected include cycle error, got %v", err)
	}
}

func TestResultsFolderNaming(t *testing.T) {
	cfg := Default()
	cfg.LLM.Model = "gpt-4o"
	cfg.Highway.LanesCount = 5
	cfg.Highway.VehiclesDensity = 3.0
	cfg.Highway.SetBased = true
	got := cfg.ResultsFolder(4213)
	want := filepath.Join("results", "results-True-gpt-4o-5-3.0-4213-spot-rule_prompt-True-reach-True")
	if got != want {
		t.Fatalf("ResultsFolder() = %q, want %q", got, want)
	}
}

func TestJSONSchema(t *testing.T) {
	data, err := JSONSchema()
	if err != nil {
		t.Fatalf("JSONSchema() error = %v", err)
	}
	if !strings.Contains(string(data), "vehicles_density") {
		t.Fatalf("schema missing highway fields")
	}
}
