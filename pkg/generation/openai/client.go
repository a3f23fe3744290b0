package openai

import (
	"context"
	"errors"

	openai "github.com/sashabaranov/go-openai"

	"github.com/thependalorian/buffrhost-sub000/pkg/generation"
)

// Client is an OpenAI generation client.
// It implements the generation.Provider interface over the Chat Completions
// API with function tools.
type Client struct {
	client *openai.Client
	model  string
}

// Config is the configuration for the OpenAI generation provider.
// APIKey: OpenAI API key (required)
// Model: Model name to use, defaults to "gpt-4"
// BaseURL: API base URL, defaults to OpenAI official address
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
}

// NewClient creates a new OpenAI generation client.
func NewClient(cfg *Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai generation: api key is required")
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	model := cfg.Model
	if model == "" {
		model = openai.GPT4
	}

	return &Client{
		client: openai.NewClientWithConfig(config),
		model:  model,
	}, nil
}

// Generate produces the next assistant step for the transcript.
//
// Tool calls in the completion carry the provider's call IDs so results can
// be correlated on the next hop.
func (c *Client) Generate(ctx context.Context, req *generation.Request) (*generation.Completion, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)

	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}

	for _, msg := range req.Messages {
		messages = append(messages, convertMessage(msg)...)
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if req.Temperature > 0 {
		chatReq.Temperature = float32(req.Temperature)
	}

	for _, def := range req.Tools {
		chatReq.Tools = append(chatReq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.InputSchema,
			},
		})
	}

	resp, err := c.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, err
	}

	if len(resp.Choices) == 0 {
		return nil, errors.New("generation failed: no choices returned from OpenAI API")
	}

	choice := resp.Choices[0].Message
	completion := &generation.Completion{Text: choice.Content}

	for _, call := range choice.ToolCalls {
		completion.ToolCalls = append(completion.ToolCalls, generation.ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: []byte(call.Function.Arguments),
		})
	}

	return completion, nil
}

// convertMessage maps one transcript message onto Chat Completions messages.
// Tool results become one role-"tool" message per result.
func convertMessage(msg generation.Message) []openai.ChatCompletionMessage {
	if msg.Role == generation.RoleAssistant {
		out := openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleAssistant,
			Content: msg.Content,
		}
		for _, call := range msg.ToolCalls {
			out.ToolCalls = append(out.ToolCalls, openai.ToolCall{
				ID:   call.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      call.Name,
					Arguments: string(call.Arguments),
				},
			})
		}
		return []openai.ChatCompletionMessage{out}
	}

	if len(msg.ToolResults) > 0 {
		out := make([]openai.ChatCompletionMessage, 0, len(msg.ToolResults)+1)
		for _, result := range msg.ToolResults {
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    result.Content,
				ToolCallID: result.CallID,
			})
		}
		if msg.Content != "" {
			out = append(out, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: msg.Content,
			})
		}
		return out
	}

	return []openai.ChatCompletionMessage{{
		Role:    openai.ChatMessageRoleUser,
		Content: msg.Content,
	}}
}

// Close closes the client connection.
// The OpenAI SDK client does not require explicit closing; this method is
// retained for interface compatibility.
func (c *Client) Close() error {
	return nil
}
