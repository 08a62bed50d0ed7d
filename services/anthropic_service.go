package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	defaultAnthropicModel = "claude-sonnet-4-20250514"
	defaultMaxTokens      = 1024
)

// AnthropicProvider implements LLMProvider on the Anthropic Messages API.
type AnthropicProvider struct {
	client anthropic.Client
	model  string
}

var _ LLMProvider = (*AnthropicProvider)(nil)

type AnthropicOption func(*anthropicConfig)

type anthropicConfig struct {
	apiKey     string
	model      string
	baseURL    string
	maxRetries int
}

// WithAnthropicKey sets the API key. Without it ANTHROPIC_API_KEY is used.
func WithAnthropicKey(key string) AnthropicOption {
	return func(c *anthropicConfig) { c.apiKey = key }
}

func WithAnthropicModel(model string) AnthropicOption {
	return func(c *anthropicConfig) {
		if model != "" {
			c.model = model
		}
	}
}

func WithAnthropicBaseURL(url string) AnthropicOption {
	return func(c *anthropicConfig) { c.baseURL = url }
}

// WithAnthropicMaxRetries sets SDK retries on 429/5xx. Zero disables retries.
func WithAnthropicMaxRetries(n int) AnthropicOption {
	return func(c *anthropicConfig) { c.maxRetries = n }
}

func NewAnthropicProvider(opts ...AnthropicOption) (*AnthropicProvider, error) {
	cfg := anthropicConfig{model: defaultAnthropicModel}
	for _, o := range opts {
		o(&cfg)
	}

	apiKey := cfg.apiKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, errors.New("anthropic: ANTHROPIC_API_KEY not set and no API key provided")
	}

	clientOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(cfg.maxRetries),
	}
	if cfg.baseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(cfg.baseURL))
	}

	return &AnthropicProvider{
		client: anthropic.NewClient(clientOpts...),
		model:  cfg.model,
	}, nil
}

func (p *AnthropicProvider) Complete(ctx context.Context, req LLMRequest) (*LLMResponse, error) {
	model := p.model
	if req.Model != "" {
		model = req.Model
	}
	maxTokens := int64(defaultMaxTokens)
	if req.MaxTokens > 0 {
		maxTokens = int64(req.MaxTokens)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}
	if req.Tool != nil {
		params.Tools = []anthropic.ToolUnionParam{{OfTool: toolParam(req.Tool)}}
		params.ToolChoice = anthropic.ToolChoiceUnionParam{
			OfTool: &anthropic.ToolChoiceToolParam{Name: req.Tool.Name},
		}
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic: completion failed: %w", err)
	}

	resp := &LLMResponse{
		Model: string(msg.Model),
		Usage: TokenUsage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}
	var text strings.Builder
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(variant.Text)
		case anthropic.ToolUseBlock:
			if req.Tool != nil && variant.Name == req.Tool.Name && resp.Structured == nil {
				resp.Structured = variant.Input
			}
		}
	}
	resp.Content = text.String()
	return resp, nil
}

func toolParam(spec *ToolSpec) *anthropic.ToolParam {
	schema := anthropic.ToolInputSchemaParam{}
	if props, ok := spec.Schema["properties"]; ok {
		schema.Properties = props
	}
	switch required := spec.Schema["required"].(type) {
	case []string:
		schema.Required = required
	case []any:
		for _, r := range required {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	tool := &anthropic.ToolParam{
		Name:        spec.Name,
		InputSchema: schema,
	}
	if spec.Description != "" {
		tool.Description = anthropic.String(spec.Description)
	}
	return tool
}

func (p *AnthropicProvider) Model() string {
	return p.model
}
