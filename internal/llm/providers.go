package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	openai "github.com/sashabaranov/go-openai"

	"github.com/CommonRoad/sandra/internal/config"
	"github.com/CommonRoad/sandra/internal/describer"
)

// Request is one structured-output query.
type Request struct {
	System string
	User   string
	// Schema is the JSON schema the response must satisfy.
	Schema map[string]any
}

// Provider issues a single structured-output completion and returns
// the raw JSON document the model produced.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request) (json.RawMessage, error)
}

// newProvider selects the backend from the configuration.
func newProvider(cfg *config.Config) (Provider, error) {
	switch cfg.LLM.Provider {
	case "openai":
		return &openAIProvider{
			name:        "openai",
			client:      openai.NewClient(cfg.LLM.APIKey),
			model:       cfg.LLM.Model,
			temperature: cfg.LLM.Temperature,
		}, nil
	case "local":
		// An OpenAI-compatible inference server, e.g. Ollama or vLLM.
		// The key is required by the client but ignored by the server.
		clientCfg := openai.DefaultConfig("ollama")
		clientCfg.BaseURL = cfg.LLM.BaseURL
		return &openAIProvider{
			name:        "local",
			client:      openai.NewClientWithConfig(clientCfg),
			model:       cfg.LLM.Model,
			temperature: cfg.LLM.Temperature,
		}, nil
	case "anthropic":
		client := anthropic.NewClient(option.WithAPIKey(cfg.LLM.AnthropicAPIKey))
		return &anthropicProvider{
			client:      client,
			model:       cfg.LLM.Model,
			temperature: cfg.LLM.Temperature,
		}, nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.LLM.Provider)
	}
}

type openAIProvider struct {
	name        string
	client      *openai.Client
	model       string
	temperature float64
}

func (p *openAIProvider) Name() string { return p.name }

func (p *openAIProvider) Complete(ctx context.Context, req Request) (json.RawMessage, error) {
	schemaJSON, err := json.Marshal(req.Schema)
	if err != nil {
		return nil, fmt.Errorf("marshal response schema: %w", err)
	}
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       p.model,
		Temperature: float32(p.temperature),
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.System},
			{Role: openai.ChatMessageRoleUser, Content: req.User},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   describer.SchemaName,
				Schema: json.RawMessage(schemaJSON),
				Strict: true,
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion returned no choices")
	}
	return json.RawMessage(resp.Choices[0].Message.Content), nil
}

type anthropicProvider struct {
	client      anthropic.Client
	model       string
	temperature float64
}

func (p *anthropicProvider) Name() string { return "anthropic" }

// Complete forces a tool call whose input schema is the decision
// schema, which is Anthropic's structured-output path.
func (p *anthropicProvider) Complete(ctx context.Context, req Request) (json.RawMessage, error) {
	var inputSchema anthropic.ToolInputSchemaParam
	schemaJSON, err := json.Marshal(req.Schema)
	if err != nil {
		return nil, fmt.Errorf("marshal response schema: %w", err)
	}
	if err := json.Unmarshal(schemaJSON, &inputSchema); err != nil {
		return nil, fmt.Errorf("convert response schema: %w", err)
	}

	msg, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(p.model),
		MaxTokens:   4096,
		Temperature: anthropic.Float(p.temperature),
		System: []anthropic.TextBlockParam{
			{Text: req.System},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.User)),
		},
		Tools: []anthropic.ToolUnionParam{
			anthropic.ToolUnionParamOfTool(inputSchema, describer.SchemaName),
		},
		ToolChoice: anthropic.ToolChoiceUnionParam{
			OfTool: &anthropic.ToolChoiceToolParam{Name: describer.SchemaName},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic message: %w", err)
	}
	for _, block := range msg.Content {
		if block.Type == "tool_use" {
			return json.RawMessage(block.Input), nil
		}
	}
	return nil, fmt.Errorf("anthropic response contains no tool_use block")
}
