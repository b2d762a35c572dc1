// Package conversation models recorded agent conversations and reads them
// from a JSONL session archive.
package conversation

import "errors"

// ErrNotFound is returned when no conversation matches the requested ID.
var ErrNotFound = errors.New("conversation not found")

// Role identifies the speaker of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// ToolCall is a tool invocation made by the assistant.
type ToolCall struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

// ToolResult is the outcome of a tool invocation, reported back in a user turn.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Output     string `json:"output"`
	IsError    bool   `json:"is_error"`
}

// Message is a single turn of a conversation.
type Message struct {
	Role        Role         `json:"role"`
	Content     string       `json:"content"`
	Timestamp   string       `json:"timestamp"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
}

// Clone returns a deep copy of m.
func (m Message) Clone() Message {
	dst := m
	if m.ToolCalls != nil {
		dst.ToolCalls = make([]ToolCall, len(m.ToolCalls))
		for i, tc := range m.ToolCalls {
			dst.ToolCalls[i] = tc
			if tc.Input != nil {
				dst.ToolCalls[i].Input = cloneMap(tc.Input)
			}
		}
	}
	if m.ToolResults != nil {
		dst.ToolResults = make([]ToolResult, len(m.ToolResults))
		copy(dst.ToolResults, m.ToolResults)
	}
	return dst
}

// Conversation is a recorded session loaded read-only from the archive.
type Conversation struct {
	SessionID   string    `json:"session_id"`
	ProjectPath string    `json:"project_path"`
	SourcePath  string    `json:"source_path,omitempty"`
	Messages    []Message `json:"messages"`
}

// StepCount is the number of messages in the conversation.
func (c *Conversation) StepCount() int {
	return len(c.Messages)
}

// AtStep returns a copy of the conversation truncated to its first n messages.
// n is clamped to [0, StepCount()]. The receiver is never modified.
func (c *Conversation) AtStep(n int) *Conversation {
	if n < 0 {
		n = 0
	}
	if n > len(c.Messages) {
		n = len(c.Messages)
	}
	return &Conversation{
		SessionID:   c.SessionID,
		ProjectPath: c.ProjectPath,
		SourcePath:  c.SourcePath,
		Messages:    CloneMessages(c.Messages[:n]),
	}
}

// CloneMessages deep copies a message slice.
func CloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}

func cloneMap(src map[string]any) map[string]any {
	dst := make(map[string]any, len(src))
	for k, v := range src {
		switch vv := v.(type) {
		case map[string]any:
			dst[k] = cloneMap(vv)
		case []any:
			cp := make([]any, len(vv))
			copy(cp, vv)
			dst[k] = cp
		default:
			dst[k] = v
		}
	}
	return dst
}
