package anthropic

import (
	"context"
	"errors"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/thependalorian/buffrhost-sub000/pkg/generation"
)

const defaultMaxTokens = 4096

// Client is an Anthropic generation client.
// It implements the generation.Provider interface over the Messages API with
// tool use.
type Client struct {
	client *anthropic.Client
	model  anthropic.Model
}

// Config is the configuration for the Anthropic generation provider.
// APIKey: Anthropic API key (required)
// Model: Model name to use, defaults to claude-sonnet-4-20250514
// BaseURL: API base URL, defaults to the official address
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
}

// NewClient creates a new Anthropic generation client.
func NewClient(cfg *Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic generation: api key is required")
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	client := anthropic.NewClient(opts...)

	model := anthropic.Model(cfg.Model)
	if cfg.Model == "" {
		model = anthropic.ModelClaudeSonnet4_20250514
	}

	return &Client{
		client: &client,
		model:  model,
	}, nil
}

// Generate produces the next assistant step for the transcript.
func (c *Client) Generate(ctx context.Context, req *generation.Request) (*generation.Completion, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: int64(maxTokens),
		Messages:  convertMessages(req.Messages),
	}

	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	for _, def := range req.Tools {
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        def.Name,
				Description: anthropic.String(def.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: def.InputSchema["properties"],
				},
			},
		})
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, err
	}

	completion := &generation.Completion{}
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			completion.Text += block.Text
		case "tool_use":
			completion.ToolCalls = append(completion.ToolCalls, generation.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: block.Input,
			})
		}
	}

	return completion, nil
}

// convertMessages maps the transcript onto Messages API params. Tool results
// travel as tool_result blocks on a user message; assistant tool calls as
// tool_use blocks.
func convertMessages(messages []generation.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))

	for _, msg := range messages {
		if msg.Role == generation.RoleAssistant {
			var blocks []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, call := range msg.ToolCalls {
				blocks = append(blocks, anthropic.NewToolUseBlock(call.ID, call.Arguments, call.Name))
			}
			out = append(out, anthropic.NewAssistantMessage(blocks...))
			continue
		}

		var blocks []anthropic.ContentBlockParamUnion
		for _, result := range msg.ToolResults {
			blocks = append(blocks, anthropic.NewToolResultBlock(result.CallID, result.Content, result.IsError))
		}
		if msg.Content != "" {
			blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
		}
		out = append(out, anthropic.NewUserMessage(blocks...))
	}

	return out
}

// Close closes the client connection.
// The SDK client does not require explicit closing; this method is retained
// for interface compatibility.
func (c *Client) Close() error {
	return nil
}
