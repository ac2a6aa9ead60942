// Package llms defines the provider-neutral chat model shared by all
// vendor adapters: messages, tool definitions, tool calls, and the Provider
// interface. The canonical wire shape follows the OpenAI chat format;
// adapters for other vendors translate to and from it.
package llms

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/toolbridge-ai/toolbridge/tool"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// DefaultMaxTokens bounds completion length when the caller does not.
const DefaultMaxTokens = 1000

// ErrProviderRequest reports a failed completion request: a transport
// error or a non-2xx vendor response.
var ErrProviderRequest = errors.New("provider request failed")

// ProviderType identifies a vendor adapter.
type ProviderType string

const (
	ProviderOpenAI    ProviderType = "OPENAI"
	ProviderAnthropic ProviderType = "ANTHROPIC"
	ProviderGoogle    ProviderType = "GOOGLE"
)

// FunctionCall is the function half of a tool call. Arguments is the raw
// JSON text produced by the model.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolCall is one tool invocation requested by the model.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// Message is one turn of a conversation in the canonical shape.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// FunctionDefinition describes one callable function offered to the model.
type FunctionDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters"`
}

// Tool is one tool offered to the model.
type Tool struct {
	Type     string             `json:"type"`
	Function FunctionDefinition `json:"function"`
}

// Completion is the canonical result of one model round.
type Completion struct {
	Content   string
	ToolCalls []ToolCall
}

// Provider generates completions for one vendor API.
type Provider interface {
	GetProviderType() ProviderType
	GenerateCompletion(ctx context.Context, messages []Message, model string, tools []Tool) (*Completion, error)
}

// SystemMessage formats a system turn.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// UserMessage formats a user turn.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage formats an assistant turn, with any tool calls it made.
func AssistantMessage(content string, toolCalls []ToolCall) Message {
	return Message{Role: RoleAssistant, Content: content, ToolCalls: toolCalls}
}

// ToolMessage formats a tool result turn linked to the call that produced it.
func ToolMessage(toolCallID, toolName, content string) Message {
	return Message{
		Role:       RoleTool,
		Content:    content,
		Name:       toolName,
		ToolCallID: toolCallID,
	}
}

// ExtractText returns the textual content of a completion.
func ExtractText(c *Completion) string {
	if c == nil {
		return ""
	}
	return c.Content
}

// ExtractToolCalls returns the tool calls of a completion.
func ExtractToolCalls(c *Completion) []ToolCall {
	if c == nil {
		return nil
	}
	return c.ToolCalls
}

// ToolFromDescriptor converts a server tool descriptor into the canonical
// tool shape offered to the model.
func ToolFromDescriptor(d tool.Descriptor) Tool {
	return Tool{
		Type: "function",
		Function: FunctionDefinition{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  d.InputSchema,
		},
	}
}
