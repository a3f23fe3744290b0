// Package generation provides interfaces and types for generation providers.
//
// It defines the Provider interface that all generation implementations must
// satisfy, along with the transcript model the orchestrator builds up during
// the bounded tool loop: each Message carries either text, tool calls made by
// the assistant, or tool results fed back to it.
package generation

import (
	"context"
	"encoding/json"

	"github.com/thependalorian/buffrhost-sub000/pkg/tools"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ToolCall is one tool invocation requested by the provider.
type ToolCall struct {
	// ID correlates the call with its result.
	ID string `json:"id"`

	// Name is the tool's registered name.
	Name string `json:"name"`

	// Arguments is the JSON input the provider produced.
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResult is the outcome of one executed tool call, fed back to the
// provider on the next hop.
type ToolResult struct {
	// CallID matches the originating ToolCall.ID.
	CallID string `json:"call_id"`

	// Name is the tool's registered name.
	Name string `json:"name"`

	// Content is the textual result, or the error message when IsError.
	Content string `json:"content"`

	// IsError marks a failed execution.
	IsError bool `json:"is_error"`
}

// Message represents a single message in a conversation transcript.
type Message struct {
	// Role is "user" or "assistant".
	Role string `json:"role"`

	// Content is the message text, possibly empty on tool-only messages.
	Content string `json:"content"`

	// ToolCalls are tool invocations on an assistant message.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolResults are executed-tool outcomes on a user message.
	ToolResults []ToolResult `json:"tool_results,omitempty"`
}

// Request is one generation call: persona plus transcript plus capabilities.
type Request struct {
	// System is the persona and context instruction block.
	System string

	// Messages is the transcript so far, oldest first.
	Messages []Message

	// Tools are the definitions the provider may call. Empty disables
	// tool use.
	Tools []tools.Definition

	// MaxTokens limits the response length. Zero means the provider
	// default.
	MaxTokens int

	// Temperature controls randomness. Zero means the provider default.
	Temperature float64
}

// Completion is the provider's reply: final text, or tool calls to execute
// before looping back, or both.
type Completion struct {
	// Text is the assistant text produced so far.
	Text string

	// ToolCalls, when non-empty, ask the orchestrator to execute tools
	// and call Generate again with their results appended.
	ToolCalls []ToolCall
}

// Provider defines the interface for generation providers.
//
// All generation implementations (OpenAI, Anthropic, etc.) must implement
// this interface.
type Provider interface {
	// Generate produces the next assistant step for the transcript.
	Generate(ctx context.Context, req *Request) (*Completion, error)

	// Close closes the provider and releases resources.
	Close() error
}
