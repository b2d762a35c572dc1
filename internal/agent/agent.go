// Package agent defines the provider-neutral completion interface the branch
// executor drives, plus the error taxonomy shared by every provider adapter.
package agent

import "context"

// Client completes one turn of a conversation.
type Client interface {
	Complete(ctx context.Context, req *Request) (*Response, error)
}

// Role identifies the speaker of a prompt message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ToolUse is a tool invocation made by the assistant.
type ToolUse struct {
	ID    string
	Name  string
	Input map[string]any
}

// ToolResult reports the outcome of a ToolUse in a user message.
type ToolResult struct {
	ToolUseID string
	Content   string
	IsError   bool
}

// Message is one prompt turn. A message may carry text, tool uses, tool
// results or any mix of them.
type Message struct {
	Role        Role
	Text        string
	ToolUses    []ToolUse
	ToolResults []ToolResult
}

// Request is a single completion call.
type Request struct {
	Model     string
	System    string
	Messages  []Message
	MaxTokens int
}

// StopReason says why the model stopped generating.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopMaxTokens StopReason = "max_tokens"
	StopToolUse   StopReason = "tool_use"
	StopOther     StopReason = "other"
)

// Usage is the token accounting of one call.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// Response is the assistant's reply to a Request.
type Response struct {
	Text       string
	ToolUses   []ToolUse
	StopReason StopReason
	Usage      Usage
}

// DefaultMaxTokens caps completions when a Request leaves MaxTokens unset.
const DefaultMaxTokens = 4096

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, req *Request) (*Response, error)

// Complete calls f.
func (f ClientFunc) Complete(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}
