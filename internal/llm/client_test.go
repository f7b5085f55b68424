package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/CommonRoad/sandra/internal/actions"
	"github.com/CommonRoad/sandra/internal/config"
	"github.com/CommonRoad/sandra/internal/describer"
	"github.com/CommonRoad/sandra/internal/observability"
)

func testSchema(t *testing.T) map[string]any {
	t.Helper()
	schema, err := describer.DecisionSchema(actions.Longitudinals(), actions.Laterals())
	if err != nil {
		t.Fatalf("DecisionSchema: %v", err)
	}
	return schema
}

func testClient(t *testing.T, provider Provider) *Client {
	t.Helper()
	cfg := config.Default()
	cfg.LLM.RetryLimit = 2
	log := observability.NewLogger(observability.LogConfig{Level: "error"})
	return NewWithProvider(cfg, log, observability.NewMetrics(), provider)
}

type fakeProvider struct {
	responses []string
	calls     int
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Complete(_ context.Context, _ Request) (json.RawMessage, error) {
	if f.calls >= len(f.responses) {
		return nil, fmt.Errorf("no scripted response")
	}
	resp := f.responses[f.calls]
	f.calls++
	return json.RawMessage(resp), nil
}

const validDecision = `{
	"thoughts": {"observation": ["road is clear"], "conclusion": "keep going"},
	"action_ranking": [
		{"longitudinal_action": "keep", "lateral_action": "follow_lane"},
		{"longitudinal_action": "accelerate", "lateral_action": "left"}
	]
}`

func TestDecideParsesRanking(t *testing.T) {
	c := testClient(t, &fakeProvider{responses: []string{validDecision}})
	decision, err := c.Decide(context.Background(), Request{Schema: testSchema(t)})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if len(decision.ActionRanking) != 2 {
		t.Fatalf("got %d ranked actions, want 2", len(decision.ActionRanking))
	}
	best := decision.ActionRanking[0]
	if best.Longitudinal != actions.Keep || best.Lateral != actions.FollowLane {
		t.Errorf("best action = %v", best)
	}
	if decision.Thoughts.Conclusion != "keep going" {
		t.Errorf("conclusion = %q", decision.Thoughts.Conclusion)
	}
}

func TestDecideRetriesMalformedOutput(t *testing.T) {
	provider := &fakeProvider{responses: []string{`{"broken": true`, validDecision}}
	c := testClient(t, provider)
	if _, err := c.Decide(context.Background(), Request{Schema: testSchema(t)}); err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if provider.calls != 2 {
		t.Errorf("provider called %d times, want 2", provider.calls)
	}
}

func TestDecideRejectsSchemaViolation(t *testing.T) {
	// Valid JSON but an action outside the enum.
	bad := `{
		"thoughts": {"observation": [], "conclusion": "x"},
		"action_ranking": [{"longitudinal_action": "warp", "lateral_action": "follow_lane"}]
	}`
	provider := &fakeProvider{responses: []string{bad, bad}}
	c := testClient(t, provider)
	if _, err := c.Decide(context.Background(), Request{Schema: testSchema(t)}); err == nil {
		t.Fatal("expected schema violation error")
	}
	if provider.calls != 2 {
		t.Errorf("provider called %d times, want 2 (retry exhausted)", provider.calls)
	}
}

func TestLocalProviderSpeaksOpenAIAPI(t *testing.T) {
	var gotAuth, gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		var req struct {
			Model          string `json:"model"`
			ResponseFormat struct {
				Type string `json:"type"`
			} `json:"response_format"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.ResponseFormat.Type != "json_schema" {
			t.Errorf("response_format.type = %q, want json_schema", req.ResponseFormat.Type)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"choices": [{"message": {"role": "assistant", "content": %q}}]}`, validDecision)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.LLM.Provider = "local"
	cfg.LLM.BaseURL = server.URL + "/v1"
	cfg.LLM.Model = "qwen3:14b"
	provider, err := newProvider(cfg)
	if err != nil {
		t.Fatalf("newProvider: %v", err)
	}

	log := observability.NewLogger(observability.LogConfig{Level: "error"})
	c := NewWithProvider(cfg, log, observability.NewMetrics(), provider)
	decision, err := c.Decide(context.Background(), Request{
		System: "system",
		User:   "user",
		Schema: testSchema(t),
	})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if len(decision.ActionRanking) != 2 {
		t.Errorf("got %d ranked actions, want 2", len(decision.ActionRanking))
	}
	if gotPath != "/v1/chat/completions" {
		t.Errorf("path = %q", gotPath)
	}
	if gotAuth != "Bearer ollama" {
		t.Errorf("auth = %q, want placeholder key", gotAuth)
	}
}

func TestNewProviderUnknown(t *testing.T) {
	cfg := config.Default()
	cfg.LLM.Provider = "carrier-pigeon"
	if _, err := newProvider(cfg); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}
