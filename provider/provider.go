// Package provider defines the chat-completion provider interface that backs
// the leader and worker agents.
package provider

import "context"

// Role identifies the sender of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is a single turn in a conversation.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`   // assistant turns requesting tools
	ToolCallID string     `json:"tool_call_id,omitempty"` // tool-result turns
	Name       string     `json:"name,omitempty"`         // tool name on tool-result turns
}

// ToolDef describes a tool the model can invoke.
type ToolDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"` // JSON Schema
}

// ToolCall is a request from the model to invoke a tool. Arguments is the raw
// JSON string exactly as the provider produced it; during streaming it is
// assembled from fragments and is not valid JSON until the stream completes.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Response is a completed (non-streaming) provider response.
type Response struct {
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Usage     Usage      `json:"usage"`
}

// Usage tracks token consumption.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// StreamEvent is emitted during streaming responses.
//
// Tool calls arrive as deltas: each carries the provider-assigned index of
// the call it belongs to, plus fragments of the name and arguments strings.
// Fragments must be appended, never replaced; only the ID arrives whole.
type StreamEvent struct {
	Type string `json:"type"` // "text", "tool_call_delta", "done", "error"

	Text string `json:"text,omitempty"`

	Index        int    `json:"index,omitempty"`
	ID           string `json:"id,omitempty"`
	NameFragment string `json:"name_fragment,omitempty"`
	ArgsFragment string `json:"args_fragment,omitempty"`

	Error string `json:"error,omitempty"`
	Usage *Usage `json:"usage,omitempty"`
}

// Provider is a chat-completion backend.
type Provider interface {
	// Name returns the provider identifier (e.g., "openai", "mock").
	Name() string

	// Chat sends a non-streaming request and returns the complete response.
	Chat(ctx context.Context, messages []Message, tools []ToolDef) (*Response, error)

	// Stream sends a streaming request. Events are delivered on the returned
	// channel, which is closed when the response completes or fails.
	Stream(ctx context.Context, messages []Message, tools []ToolDef) (<-chan StreamEvent, error)
}
